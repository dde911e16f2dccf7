package signature

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultStripeTolerance is the replay window Stripe's own libraries use.
const DefaultStripeTolerance = webhook.DefaultTolerance

// StripeSignatureHeader is the header carrying Stripe's timestamped signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeVerifier checks Stripe's `t=<unix>,v1=<hex>` signature scheme.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
}

// NewStripeVerifier returns a verifier using the default tolerance.
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}
	return &StripeVerifier{Secret: secret, Tolerance: tolerance}
}

// Verify authenticates body against a Stripe-Signature header value.
func (v *StripeVerifier) Verify(body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" || v.Secret == "" {
		return ErrMissingCredential
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}

	err := webhook.ValidatePayloadWithTolerance(body, header, v.Secret, tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return ErrMissingCredential
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

// VerifyEvent adapts Verify to the webhook dispatcher.
func (v *StripeVerifier) VerifyEvent(_ context.Context, header http.Header, body []byte) error {
	return v.Verify(body, header.Get(StripeSignatureHeader))
}
