package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"canvaspreview/internal/http/handlers"
	"canvaspreview/internal/middleware"
	"canvaspreview/internal/preview"
	"canvaspreview/internal/storage"
	"canvaspreview/internal/styles"
)

type stubPreviews struct {
	caller preview.Caller
}

func (s *stubPreviews) Generate(_ context.Context, _ preview.Input, caller preview.Caller) (*preview.Outcome, error) {
	s.caller = caller
	return &preview.Outcome{RequestID: caller.RequestID, CacheStatus: preview.CacheHit, Status: preview.StatusCompleted, Timestamp: time.Now()}, nil
}

func (s *stubPreviews) HandleWebhook(context.Context, string, []byte) error { return nil }

func (s *stubPreviews) Status(_ context.Context, id string) (*preview.StatusResult, error) {
	return &preview.StatusResult{RequestID: id, Status: preview.StatusProcessing}, nil
}

func newTestRouter(svc *stubPreviews, rateLimit int) http.Handler {
	app := &handlers.App{
		Previews:      svc,
		Styles:        styles.NewRegistry(),
		Verifier:      storage.NewSigner("signing-key", "http://localhost:8080"),
		WebhookSecret: "hook",
	}
	return NewRouter(app, Options{
		JWTSecret:       "jwt-secret",
		AllowedOrigins:  []string{"https://shop.example.com"},
		RateLimitPerMin: rateLimit,
		Logger:          zerolog.Nop(),
	})
}

func TestRouterPreviewCarriesRequestIDAndUser(t *testing.T) {
	svc := &stubPreviews{}
	router := newTestRouter(svc, 0)

	token, err := middleware.SignJWT("jwt-secret", middleware.TokenClaims{Sub: "user-7", Plan: "pro", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "trace-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") != "trace-1" {
		t.Fatalf("request id not echoed")
	}
	if svc.caller.UserID != "user-7" || svc.caller.RequestID != "trace-1" {
		t.Fatalf("unexpected caller %+v", svc.caller)
	}
	var payload map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&payload)
	if payload["requestId"] != "trace-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRouterRejectsBadToken(t *testing.T) {
	router := newTestRouter(&stubPreviews{}, 0)
	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(&stubPreviews{}, 0)
	req := httptest.NewRequest(http.MethodOptions, "/preview", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Fatalf("origin not allowed")
	}
}

func TestRouterRateLimitsPreviewOnly(t *testing.T) {
	router := newTestRouter(&stubPreviews{}, 1)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{}`))
		req.RemoteAddr = "203.0.113.9:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := post(); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/styles", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("styles should not be rate limited: %d", rr.Code)
	}
}

func TestRouterRoutes(t *testing.T) {
	router := newTestRouter(&stubPreviews{}, 0)
	cases := []struct {
		method, target string
		status         int
	}{
		{http.MethodGet, "/v1/healthz", http.StatusOK},
		{http.MethodGet, "/status?requestId=6f1c2b9e-5d55-4a5b-9a4c-1e0a4d1f2b3c", http.StatusOK},
		{http.MethodPost, "/webhook?token=hook&requestId=6f1c2b9e-5d55-4a5b-9a4c-1e0a4d1f2b3c", http.StatusOK},
		{http.MethodGet, "/objects/previews/ab/x.jpg", http.StatusForbidden},
		{http.MethodGet, "/preview", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, strings.NewReader(`{}`)))
		if rr.Code != tc.status {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.target, rr.Code, tc.status)
		}
	}
}
