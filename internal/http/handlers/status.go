package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"canvaspreview/internal/domain"
)

// Status handles GET /status?requestId=.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if _, err := uuid.Parse(requestID); err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ErrorInvalidRequest), "requestId must be a uuid")
		return
	}
	res, err := a.Previews.Status(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "request not found")
			return
		}
		a.Logger.Error().Err(err).Str("request_id", requestID).Msg("status lookup failed")
		a.error(w, r, http.StatusInternalServerError, string(domain.ErrorUnknown), "status lookup failed")
		return
	}
	a.json(w, http.StatusOK, res)
}
