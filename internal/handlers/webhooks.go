package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/marketplace-backend/internal/ledger"
	"github.com/PortNumber53/marketplace-backend/internal/models"
	"github.com/PortNumber53/marketplace-backend/internal/normalize"
	"github.com/PortNumber53/marketplace-backend/internal/signature"
)

// maxWebhookBytes caps the body read from a provider notification.
const maxWebhookBytes = 1 << 20

// EventVerifier authenticates a raw webhook delivery.
type EventVerifier interface {
	VerifyEvent(ctx context.Context, header http.Header, body []byte) error
}

// EventLedger applies normalized events.
type EventLedger interface {
	Apply(ctx context.Context, ev *models.PurchaseEvent) (ledger.Outcome, error)
}

// WebhookDispatcher runs one provider's verify, normalize and apply pipeline.
type WebhookDispatcher struct {
	Provider  models.Provider
	Verifier  EventVerifier
	Normalize normalize.Func
	Ledger    EventLedger
	// Ack is the body returned for every delivery the provider should not retry.
	Ack any
	// InvalidSignatureStatus is returned when the signature does not verify.
	InvalidSignatureStatus int
}

// NewStripeWebhook returns the dispatcher for Stripe notifications.
func NewStripeWebhook(verifier EventVerifier, l EventLedger) *WebhookDispatcher {
	return &WebhookDispatcher{
		Provider:               models.ProviderStripe,
		Verifier:               verifier,
		Normalize:              normalize.Stripe,
		Ledger:                 l,
		Ack:                    map[string]bool{"received": true},
		InvalidSignatureStatus: http.StatusBadRequest,
	}
}

// NewPayPalWebhook returns the dispatcher for PayPal notifications.
func NewPayPalWebhook(verifier EventVerifier, l EventLedger) *WebhookDispatcher {
	return &WebhookDispatcher{
		Provider:               models.ProviderPayPal,
		Verifier:               verifier,
		Normalize:              normalize.PayPal,
		Ledger:                 l,
		Ack:                    map[string]bool{"ok": true},
		InvalidSignatureStatus: http.StatusUnauthorized,
	}
}

// ServeHTTP implements http.Handler.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.With().
		Str("component", "webhook").
		Str("provider", string(d.Provider)).
		Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read webhook body")
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if d.Verifier == nil {
		logger.Warn().Msg("webhook verifier not configured")
		writeError(w, http.StatusBadRequest, "webhook not configured")
		return
	}

	if err := d.Verifier.VerifyEvent(r.Context(), r.Header, body); err != nil {
		switch {
		case errors.Is(err, signature.ErrVerifierUnavailable):
			logger.Error().Err(err).Msg("webhook verification unavailable")
			writeError(w, http.StatusInternalServerError, "verification unavailable")
		case errors.Is(err, signature.ErrMissingCredential):
			logger.Warn().Err(err).Msg("webhook missing signature or secret")
			writeError(w, http.StatusBadRequest, "missing signature")
		default:
			logger.Warn().Err(err).Msg("webhook signature rejected")
			writeError(w, d.InvalidSignatureStatus, "invalid signature")
		}
		return
	}

	ev, err := d.Normalize(body)
	if err != nil {
		d.logSkip(logger, err)
		writeJSON(w, http.StatusOK, d.Ack)
		return
	}

	logger = logger.With().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("reference", ev.ProviderReference).
		Logger()

	outcome, err := d.Ledger.Apply(r.Context(), ev)
	switch {
	case err == nil:
		logger.Info().Str("kind", ev.Kind.String()).Str("outcome", outcome.String()).Msg("webhook applied")
		writeJSON(w, http.StatusOK, d.Ack)
	case errors.Is(err, ledger.ErrInvalidEvent):
		logger.Warn().Err(err).Msg("webhook event rejected by ledger")
		writeJSON(w, http.StatusOK, d.Ack)
	default:
		logger.Error().Err(err).Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

func (d *WebhookDispatcher) logSkip(logger zerolog.Logger, err error) {
	skip, ok := normalize.AsSkip(err)
	if !ok {
		logger.Warn().Err(err).Msg("webhook event could not be normalized")
		return
	}

	event := logger.Debug()
	if skip.Reason == normalize.SkipMalformed {
		event = logger.Warn()
	}
	event.
		Str("event_type", skip.EventType).
		Str("reason", skip.Reason.String()).
		Str("detail", skip.Detail).
		Msg("webhook event skipped")
}
