package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/middleware"
	"canvaspreview/internal/preview"
)

// Preview handles POST /preview.
func (a *App) Preview(w http.ResponseWriter, r *http.Request) {
	var in preview.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody()))
	if err := dec.Decode(&in); err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ErrorInvalidRequest), "invalid payload")
		return
	}

	caller := preview.Caller{
		UserID:      a.currentUserID(r),
		RequestID:   middleware.RequestIDFromContext(r.Context()),
		PreferAsync: prefersAsync(r.Header.Get("Prefer")),
	}
	out, err := a.Previews.Generate(r.Context(), in, caller)
	w.Header().Set("X-Preview-Retries", strconv.Itoa(preview.RetriesOf(err)))
	if err != nil {
		var c *domain.Classification
		if !errors.As(err, &c) {
			c = &domain.Classification{Kind: domain.ErrorUnknown, Message: err.Error()}
		}
		a.classified(w, r, c)
		return
	}

	w.Header().Set("X-Preview-Retries", strconv.Itoa(out.Retries))
	if out.Accepted {
		a.json(w, http.StatusAccepted, map[string]string{
			"requestId": out.RequestID,
			"status":    out.Status,
		})
		return
	}
	a.json(w, http.StatusOK, out)
}

// prefersAsync reads RFC 7240 "Prefer: respond-async".
func prefersAsync(header string) bool {
	for _, part := range strings.Split(header, ",") {
		token, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(token), "respond-async") {
			return true
		}
	}
	return false
}

func strconvSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
