package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/marketplace-backend/internal/models"
	"github.com/PortNumber53/marketplace-backend/internal/signature"
)

// IngestSignatureHeader carries the hex HMAC-SHA256 of the ingestion body.
const IngestSignatureHeader = "X-Hmac-Signature"

const maxIngestBytes = 4 << 20

// ProductWriter persists ingested catalog content.
type ProductWriter interface {
	UpsertIngestedProduct(ctx context.Context, payload models.IngestPayload) (string, error)
}

// Ingest accepts signed catalog content from the publishing pipeline.
func Ingest(store ProductWriter, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "ingest").Logger()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		if err := signature.VerifyHMAC(body, r.Header.Get(IngestSignatureHeader), secret); err != nil {
			logger.Warn().Err(err).Msg("ingest signature rejected")
			if errors.Is(err, signature.ErrMissingCredential) {
				writeError(w, http.StatusUnauthorized, "Missing signature")
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}

		var payload models.IngestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if err := payload.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		productID, err := store.UpsertIngestedProduct(r.Context(), payload)
		if err != nil {
			logger.Error().Err(err).Str("slug", payload.Slug).Msg("ingest upsert failed")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		logger.Info().Str("slug", payload.Slug).Str("product_id", productID).Msg("content ingested")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "product_id": productID})
	}
}
