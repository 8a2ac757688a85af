package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"canvaspreview/internal/domain"
)

// Webhook handles POST /webhook?token=&requestId= from the provider.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if a.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.WebhookSecret)) != 1 {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
		return
	}
	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if requestID == "" {
		a.error(w, r, http.StatusBadRequest, string(domain.ErrorInvalidRequest), "requestId required")
		return
	}
	if _, err := uuid.Parse(requestID); err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ErrorInvalidRequest), "requestId must be a uuid")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ErrorInvalidRequest), "invalid payload")
		return
	}

	if err := a.Previews.HandleWebhook(r.Context(), requestID, body); err != nil {
		var c *domain.Classification
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, r, http.StatusNotFound, "not_found", "request not found")
		case errors.As(err, &c):
			a.classified(w, r, c)
		default:
			a.Logger.Error().Err(err).Str("request_id", requestID).Msg("webhook processing failed")
			a.error(w, r, http.StatusInternalServerError, string(domain.ErrorUnknown), "webhook processing failed")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
