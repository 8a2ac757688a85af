package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"canvaspreview/internal/http/handlers"
	"canvaspreview/internal/middleware"
)

// Options configures the middleware stack.
type Options struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/styles", app.ListStyles)
	r.Get("/objects/{bucket}/*", app.Object)

	// Provider callbacks authenticate with the webhook token instead.
	r.Post("/webhook", app.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuthJWT(opts.JWTSecret))
		r.Get("/status", app.Status)
		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Post("/preview", app.Preview)
		})
	})

	return r
}
