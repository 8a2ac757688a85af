package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/middleware"
	"canvaspreview/internal/preview"
	"canvaspreview/internal/styles"
)

// PreviewService is the orchestrator surface the handlers drive.
type PreviewService interface {
	Generate(ctx context.Context, in preview.Input, caller preview.Caller) (*preview.Outcome, error)
	HandleWebhook(ctx context.Context, requestID string, body []byte) error
	Status(ctx context.Context, requestID string) (*preview.StatusResult, error)
}

type StyleLister interface {
	List() []styles.Style
}

// ObjectReader serves signed preview objects.
type ObjectReader interface {
	Get(ctx context.Context, bucket, path string) ([]byte, error)
}

type URLVerifier interface {
	Verify(bucket, path, expiresRaw, sig string) error
}

// Pinger is a dependency checked by the health endpoint.
type Pinger func(ctx context.Context) error

type App struct {
	Previews      PreviewService
	Styles        StyleLister
	Objects       ObjectReader
	Verifier      URLVerifier
	WebhookSecret string
	Checks        map[string]Pinger
	Logger        zerolog.Logger
	MaxBodyBytes  int64
	Now           func() time.Time
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	a.json(w, status, errorResponse{
		Error:     kind,
		Message:   message,
		Code:      "PREVIEW_" + strings.ToUpper(kind),
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Timestamp: a.now().UTC(),
	})
}

// classified writes a generation failure without ever exposing the internal
// message.
func (a *App) classified(w http.ResponseWriter, r *http.Request, c *domain.Classification) {
	if c.Kind == domain.ErrorRateLimit && c.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconvSeconds(c.RetryAfter))
	}
	a.error(w, r, c.HTTPStatus(), string(c.Kind), c.UserMessageIn(middleware.LocaleFromContext(r.Context())))
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) maxBody() int64 {
	if a.MaxBodyBytes > 0 {
		return a.MaxBodyBytes
	}
	return 28 << 20
}
