// Package paypal talks to the PayPal REST API: webhook signature
// verification, orders and billing subscriptions.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// ErrNotConfigured is returned when client credentials are missing.
var ErrNotConfigured = errors.New("paypal: client credentials not configured")

// APIError is a non-2xx answer from the PayPal API.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal API error (%d): %s: %s", e.StatusCode, e.Name, e.Message)
}

// Config holds PayPal credentials. Mode is "sandbox" or "live"; BaseURL,
// when set, overrides the mode's host.
type Config struct {
	ClientID     string
	ClientSecret string
	Mode         string
	WebhookID    string
	Timeout      time.Duration
	BaseURL      string
}

// Client is safe for concurrent use. Access tokens are fetched with the
// client-credentials grant and cached until they expire.
type Client struct {
	baseURL    string
	webhookID  string
	configured bool
	httpClient *http.Client
}

// NewClient builds a client from cfg. A zero timeout means 10s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if cfg.Mode == "live" {
			baseURL = LiveBaseURL
		}
	}

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	httpClient := oauth2.NewClient(tokenCtx, creds.TokenSource(tokenCtx))
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    baseURL,
		webhookID:  cfg.WebhookID,
		configured: cfg.ClientID != "" && cfg.ClientSecret != "",
		httpClient: httpClient,
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.configured
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func approveLink(links []link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// doJSON posts payload to path and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read paypal response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Name: apiErr.Name, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse paypal response: %w", err)
	}
	return nil
}
