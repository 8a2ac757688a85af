package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		fallback string
		want     string
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "ID")
				r.Header.Set("Accept-Language", "en-US")
			},
			fallback: "en",
			want:     "id",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-US,en;q=0.9")
			},
			fallback: "id",
			want:     "en",
		},
		{
			name: "accept-language id preference",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "id-ID,en;q=0.8")
			},
			fallback: "en",
			want:     "id",
		},
		{
			name: "unsupported language falls back",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "ja-JP")
			},
			fallback: "id",
			want:     "id",
		},
		{
			name:     "no headers",
			fallback: "en",
			want:     "en",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.setup != nil {
				tt.setup(r)
			}
			if got := detectLocale(r, tt.fallback); got != tt.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocaleMiddlewareStoresLocale(t *testing.T) {
	var got string
	h := Locale("en")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Language", "id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)

	if got != "id" {
		t.Fatalf("locale = %q", got)
	}
	if rr.Header().Get("Content-Language") != "id" {
		t.Fatalf("Content-Language = %q", rr.Header().Get("Content-Language"))
	}
}
