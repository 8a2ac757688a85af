package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/preview"
	"canvaspreview/internal/storage"
	"canvaspreview/internal/styles"
)

func TestWebhookRequiresToken(t *testing.T) {
	svc := &fakePreviews{}
	app := newTestApp(svc)

	for _, target := range []string{"/webhook?requestId=abc", "/webhook?token=wrong&requestId=abc"} {
		rr := httptest.NewRecorder()
		app.Webhook(rr, httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{}`)))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: unexpected status %d", target, rr.Code)
		}
	}
	if svc.webhookID != "" {
		t.Fatalf("service must not be reached without a valid token")
	}
}

const hookRequestID = "0b7e5d2a-3c41-4f6e-8a9d-52c1f0e4b7a3"

func TestWebhookForwardsBody(t *testing.T) {
	svc := &fakePreviews{}
	app := newTestApp(svc)
	body := `{"id":"job-1","status":"succeeded","output":"https://cdn.example.com/x.jpg"}`

	rr := httptest.NewRecorder()
	app.Webhook(rr, httptest.NewRequest(http.MethodPost, "/webhook?token=hook-secret&requestId="+hookRequestID, strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if svc.webhookID != hookRequestID || string(svc.webhookBody) != body {
		t.Fatalf("unexpected forward %q %q", svc.webhookID, svc.webhookBody)
	}
}

func TestWebhookErrors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		status int
	}{
		{"missing request id", "/webhook?token=hook-secret", nil, http.StatusBadRequest},
		{"unknown request", "/webhook?token=hook-secret&requestId="+hookRequestID, domain.ErrNotFound, http.StatusNotFound},
		{"malformed", "/webhook?token=hook-secret&requestId="+hookRequestID, domain.Invalid("malformed webhook body"), http.StatusBadRequest},
		{"storage down", "/webhook?token=hook-secret&requestId="+hookRequestID, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(&fakePreviews{webhookErr: tc.err})
			rr := httptest.NewRecorder()
			app.Webhook(rr, httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(`{}`)))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
		})
	}
}

func TestWebhookRejectsNonUUIDRequestID(t *testing.T) {
	for _, id := range []string{"abc", "req-1", "1;drop"} {
		svc := &fakePreviews{}
		app := newTestApp(svc)
		rr := httptest.NewRecorder()
		target := "/webhook?token=hook-secret&requestId=" + url.QueryEscape(id)
		app.Webhook(rr, httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{}`)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: status = %d, want 400", id, rr.Code)
		}
		if svc.webhookID != "" {
			t.Fatalf("%q: non-uuid id reached the service", id)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	id := "6f1c2b9e-5d55-4a5b-9a4c-1e0a4d1f2b3c"
	svc := &fakePreviews{status: &preview.StatusResult{RequestID: id, Status: preview.StatusSucceeded, PreviewURL: "http://x/objects/previews/a.jpg"}}
	app := newTestApp(svc)

	rr := httptest.NewRecorder()
	app.Status(rr, httptest.NewRequest(http.MethodGet, "/status?requestId="+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var payload preview.StatusResult
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != preview.StatusSucceeded || payload.PreviewURL == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	rr = httptest.NewRecorder()
	app.Status(rr, httptest.NewRequest(http.MethodGet, "/status?requestId=nope", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-uuid id: unexpected status %d", rr.Code)
	}

	svc.statusErr = domain.ErrNotFound
	rr = httptest.NewRecorder()
	app.Status(rr, httptest.NewRequest(http.MethodGet, "/status?requestId="+id, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id: unexpected status %d", rr.Code)
	}
}

func TestListStyles(t *testing.T) {
	app := &App{Styles: styles.NewRegistry()}
	rr := httptest.NewRecorder()
	app.ListStyles(rr, httptest.NewRequest(http.MethodGet, "/styles", nil))

	var payload struct {
		Items []styleItem `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 8 {
		t.Fatalf("expected 8 styles, got %d", len(payload.Items))
	}
	for _, item := range payload.Items {
		if item.ID == "classic-oil-painting" && item.Name != "Classic Oil Painting" {
			t.Fatalf("unexpected display name %q", item.Name)
		}
	}
}

func objectRequest(t *testing.T, app *App, signed string) *httptest.ResponseRecorder {
	t.Helper()
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := chi.NewRouter()
	r.Get("/objects/{bucket}/*", app.Object)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	return rr
}

func TestObjectServesSignedURLs(t *testing.T) {
	signer := storage.NewSigner("signing-key", "http://localhost:8080")
	store, err := storage.NewFileStore(t.TempDir(), signer)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Put(context.Background(), "previews", "ab/abc-wm.jpg", []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	app := &App{Objects: store, Verifier: signer, Now: func() time.Time { return fixedNow }}

	signed, err := signer.Sign("previews", "ab/abc-wm.jpg", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	rr := objectRequest(t, app, signed)
	if rr.Code != http.StatusOK || rr.Body.String() != "jpeg" || rr.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected response %d %q %q", rr.Code, rr.Body.String(), rr.Header().Get("Content-Type"))
	}

	tampered := strings.Replace(signed, "abc-wm", "abd-wm", 1)
	if rr := objectRequest(t, app, tampered); rr.Code != http.StatusForbidden {
		t.Fatalf("tampered path: unexpected status %d", rr.Code)
	}

	unsigned := "http://localhost:8080/objects/previews/ab/abc-wm.jpg"
	if rr := objectRequest(t, app, unsigned); rr.Code != http.StatusForbidden {
		t.Fatalf("unsigned: unexpected status %d", rr.Code)
	}

	missing, _ := signer.Sign("previews", "cd/cde-wm.jpg", time.Minute)
	if rr := objectRequest(t, app, missing); rr.Code != http.StatusNotFound {
		t.Fatalf("missing object: unexpected status %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	app := &App{}
	rr := httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}

	app.Checks = map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"valkey":   func(context.Context) error { return errors.New("connection refused") },
	}
	rr = httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var payload struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&payload)
	if payload.Status != "degraded" || payload.Dependencies["valkey"] != "down" || payload.Dependencies["postgres"] != "ok" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
