// Package stripe creates Stripe Checkout sessions over the REST API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
)

// ErrNotConfigured is returned when no secret key is configured.
var ErrNotConfigured = errors.New("stripe: secret key not configured")

// Checkout modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// APIError is a non-2xx answer from the Stripe API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe API error (%d): %s", e.StatusCode, e.Message)
}

// Client wraps Stripe API calls using the REST API directly
type Client struct {
	secretKey  string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Stripe API client. A zero timeout means 10s.
func NewClient(secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.stripe.com/v1",
	}
}

// Configured reports whether the client has a secret key.
func (c *Client) Configured() bool {
	return c != nil && c.secretKey != ""
}

// CheckoutParams describes a Checkout session. Either PriceID or an inline
// price (ProductName, UnitAmountCents, Currency) must be set.
type CheckoutParams struct {
	Mode            string
	PriceID         string
	ProductName     string
	UnitAmountCents int64
	Currency        string
	CustomerEmail   string
	SuccessURL      string
	CancelURL       string
	// Metadata is attached to the session and, in subscription mode, to the
	// subscription it creates.
	Metadata map[string]string
}

func (p CheckoutParams) form() (url.Values, error) {
	data := url.Values{}
	switch p.Mode {
	case ModePayment, ModeSubscription:
		data.Set("mode", p.Mode)
	default:
		return nil, fmt.Errorf("stripe: unsupported checkout mode %q", p.Mode)
	}

	data.Set("line_items[0][quantity]", "1")
	switch {
	case p.PriceID != "":
		data.Set("line_items[0][price]", p.PriceID)
	case p.ProductName != "":
		currency := p.Currency
		if currency == "" {
			currency = string(stripego.CurrencyUSD)
		}
		data.Set("line_items[0][price_data][currency]", currency)
		data.Set("line_items[0][price_data][product_data][name]", p.ProductName)
		data.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.UnitAmountCents, 10))
	default:
		return nil, errors.New("stripe: checkout needs a price id or inline price")
	}

	data.Set("success_url", p.SuccessURL)
	data.Set("cancel_url", p.CancelURL)
	if p.CustomerEmail != "" {
		data.Set("customer_email", p.CustomerEmail)
	}
	for k, v := range p.Metadata {
		data.Set("metadata["+k+"]", v)
		if p.Mode == ModeSubscription {
			data.Set("subscription_data[metadata]["+k+"]", v)
		}
	}
	return data, nil
}

// CreateCheckoutSession creates a Stripe Checkout session and returns it.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripego.CheckoutSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	data, err := params.form()
	if err != nil {
		return nil, err
	}

	var session stripego.CheckoutSession
	if err := c.post(ctx, "/checkout/sessions", data, &session); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("create checkout session: missing session id or url in response")
	}
	return &session, nil
}

// HTTP helpers

func (c *Client) post(ctx context.Context, path string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", stripego.APIVersion)

	return c.doRequest(req, out)
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) doRequest(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		msg := "unknown error"
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Type: env.Error.Type, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse stripe response: %w", err)
	}
	return nil
}
