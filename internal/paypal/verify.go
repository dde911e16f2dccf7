package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/PortNumber53/marketplace-backend/internal/signature"
)

// Transmission headers PayPal attaches to every webhook delivery.
const (
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
)

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyEvent asks PayPal whether body was signed for the configured
// webhook. Transport failures and PayPal outages yield
// signature.ErrVerifierUnavailable so the delivery is retried.
func (c *Client) VerifyEvent(ctx context.Context, header http.Header, body []byte) error {
	req := verifyRequest{
		AuthAlgo:         header.Get(HeaderAuthAlgo),
		CertURL:          header.Get(HeaderCertURL),
		TransmissionID:   header.Get(HeaderTransmissionID),
		TransmissionSig:  header.Get(HeaderTransmissionSig),
		TransmissionTime: header.Get(HeaderTransmissionTime),
		WebhookID:        c.webhookID,
	}
	if req.AuthAlgo == "" || req.CertURL == "" || req.TransmissionID == "" ||
		req.TransmissionSig == "" || req.TransmissionTime == "" {
		return signature.ErrMissingCredential
	}
	if c.webhookID == "" || !c.Configured() {
		return signature.ErrMissingCredential
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: body is not JSON", signature.ErrInvalidSignature)
	}
	req.WebhookEvent = json.RawMessage(body)

	var resp verifyResponse
	if err := c.doJSON(ctx, "/v1/notifications/verify-webhook-signature", req, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", signature.ErrInvalidSignature, apiErr.Message)
		}
		return fmt.Errorf("%w: %v", signature.ErrVerifierUnavailable, err)
	}

	if resp.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification status %q", signature.ErrInvalidSignature, resp.VerificationStatus)
	}
	return nil
}
