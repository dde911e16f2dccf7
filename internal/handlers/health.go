package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health responds with status 200 to indicate the service is running. When db
// is set it is pinged and an unreachable database yields 503.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				payload["status"] = "degraded"
				payload["database"] = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, payload)
				return
			}
			payload["database"] = "ok"
		}
		writeJSON(w, http.StatusOK, payload)
	}
}
