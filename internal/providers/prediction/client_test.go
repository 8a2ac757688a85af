package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"canvaspreview/internal/domain"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIToken: "token",
		BaseURL:  srv.URL,
		Model:    "owner/model",
		SyncWait: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSubmitSyncSuccessUnwrapsArrayOutput(t *testing.T) {
	var captured struct {
		path   string
		auth   string
		prefer string
		body   predictionRequest
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		captured.prefer = r.Header.Get("Prefer")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &captured.body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://out/1.jpg","https://out/2.jpg"]}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Submit(context.Background(), SubmitRequest{
		Prompt:      "paint it",
		Image:       []byte{0xff, 0xd8},
		AspectRatio: domain.Aspect1x1,
		Quality:     domain.QualityHigh,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Succeeded() || res.Job.OutputURL != "https://out/1.jpg" {
		t.Fatalf("unexpected result %#v", res)
	}
	if captured.path != "/models/owner/model/predictions" {
		t.Fatalf("unexpected path %s", captured.path)
	}
	if captured.auth != "Bearer token" || captured.prefer != "wait=5" {
		t.Fatalf("unexpected headers auth=%q prefer=%q", captured.auth, captured.prefer)
	}
	if !strings.HasPrefix(captured.body.Input.InputImage, "data:image/jpeg;base64,") {
		t.Fatalf("image not inlined: %q", captured.body.Input.InputImage)
	}
	if captured.body.Input.AspectRatio != "1:1" || captured.body.Input.Quality != "high" {
		t.Fatalf("unexpected input %#v", captured.body.Input)
	}
	if captured.body.Webhook != "" {
		t.Fatalf("sync submission must not carry a webhook")
	}
}

func TestSubmitAsyncCarriesWebhookAndNoPrefer(t *testing.T) {
	var prefer string
	var body predictionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p2","status":"starting","urls":{"get":"https://api/predictions/p2"}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv).Submit(context.Background(), SubmitRequest{
		Prompt:     "paint it",
		ImageURL:   "https://cdn.example.com/a.jpg",
		Quality:    domain.QualityAuto,
		WebhookURL: "https://svc/webhook?token=t",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Pending() || res.Handle.ID != "p2" || res.Handle.StatusURL != "https://api/predictions/p2" {
		t.Fatalf("unexpected result %#v", res)
	}
	if prefer != "" {
		t.Fatalf("async submission must not wait, got Prefer=%q", prefer)
	}
	if body.Webhook != "https://svc/webhook?token=t" || len(body.WebhookEventsFilter) != 1 {
		t.Fatalf("webhook not forwarded: %#v", body)
	}
	if body.Input.Quality != "" {
		t.Fatalf("auto quality should be omitted, got %q", body.Input.Quality)
	}
}

func TestSubmitClassifiesHTTPErrors(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		want       domain.ErrorKind
		wantDelay  time.Duration
	}{
		{status: http.StatusTooManyRequests, retryAfter: "9", want: domain.ErrorRateLimit, wantDelay: 9 * time.Second},
		{status: http.StatusServiceUnavailable, want: domain.ErrorServiceUnavailable},
		{status: http.StatusBadRequest, want: domain.ErrorInvalidRequest},
		{status: http.StatusUnauthorized, want: domain.ErrorInvalidRequest},
		{status: http.StatusBadGateway, want: domain.ErrorNetwork},
		{status: http.StatusInternalServerError, want: domain.ErrorUnknown},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.retryAfter != "" {
				w.Header().Set("Retry-After", tc.retryAfter)
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"detail":"secret internal detail"}`))
		}))
		_, err := newTestClient(t, srv).Submit(context.Background(), SubmitRequest{Prompt: "p", ImageURL: "https://x/y.jpg"})
		srv.Close()

		var c *domain.Classification
		if !errors.As(err, &c) {
			t.Fatalf("status %d: expected classification, got %v", tc.status, err)
		}
		if c.Kind != tc.want || c.RetryAfter != tc.wantDelay {
			t.Fatalf("status %d: got kind=%s retry=%s", tc.status, c.Kind, c.RetryAfter)
		}
		if strings.Contains(c.UserMessage(), "secret") {
			t.Fatalf("provider text leaked into user message")
		}
	}
}

func TestSubmitWithoutTokenIsInvalid(t *testing.T) {
	client, _ := NewClient(Options{})
	_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "p", ImageURL: "https://x"})
	var c *domain.Classification
	if !errors.As(err, &c) || c.Kind != domain.ErrorInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestStatusUsesHandleURLOrID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"p3","status":"failed","error":"NSFW content detected"}`))
	}))
	defer srv.Close()
	client := newTestClient(t, srv)

	res, err := client.Status(context.Background(), domain.JobHandle{ID: "p3"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.Failure == nil || res.Job.Status != domain.JobStatusFailed || res.Job.ErrorMessage != "NSFW content detected" {
		t.Fatalf("unexpected result %#v", res)
	}
	if _, err := client.Status(context.Background(), domain.JobHandle{ID: "p3", StatusURL: srv.URL + "/custom/p3"}); err != nil {
		t.Fatalf("Status via url: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/predictions/p3" || paths[1] != "/custom/p3" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()
	client := newTestClient(t, srv)

	data, format, err := client.Download(context.Background(), srv.URL+"/out.jpg")
	if err != nil || string(data) != "jpeg" || format != "image/jpeg" {
		t.Fatalf("Download: %q %q %v", data, format, err)
	}
	if _, _, err := client.Download(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, _, err := client.Download(context.Background(), "file:///etc/passwd"); err == nil {
		t.Fatal("expected error for non-http url")
	}
}

func TestDownloadRejectsOversizedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		size := 16
		if r.URL.Path == "/big.jpg" {
			size = 17
		}
		_, _ = w.Write([]byte(strings.Repeat("x", size)))
	}))
	defer srv.Close()
	client := newTestClient(t, srv)
	client.maxDownload = 16

	data, _, err := client.Download(context.Background(), srv.URL+"/exact.jpg")
	if err != nil || len(data) != 16 {
		t.Fatalf("output at the cap should download: %d bytes, %v", len(data), err)
	}

	data, _, err = client.Download(context.Background(), srv.URL+"/big.jpg")
	if data != nil {
		t.Fatalf("truncated output must not be returned, got %d bytes", len(data))
	}
	var class *domain.Classification
	if !errors.As(err, &class) || class.Kind != domain.ErrorUnknown {
		t.Fatalf("expected unknown classification, got %v", err)
	}
}

func TestFirstOutput(t *testing.T) {
	cases := map[string]string{
		`"https://a"`:          "https://a",
		`["", "https://b"]`:    "https://b",
		`[]`:                   "",
		`null`:                 "",
		`{"url":"https://c"}`: "",
	}
	for in, want := range cases {
		if got := FirstOutput(json.RawMessage(in)); got != want {
			t.Fatalf("FirstOutput(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestParseWebhook(t *testing.T) {
	pred, err := ParseWebhook([]byte(`{"id":"p9","status":"succeeded","output":"https://out/9.jpg"}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	res := pred.Result()
	if !res.Succeeded() || res.Job.OutputURL != "https://out/9.jpg" {
		t.Fatalf("unexpected result %#v", res)
	}
	if _, err := ParseWebhook([]byte(`{"status":"succeeded"}`)); err == nil {
		t.Fatal("expected error without id")
	}
	if _, err := ParseWebhook([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}
