package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		credentials bool
	}{
		{name: "listed origin preflight", allowed: []string{"https://a.example"}, origin: "https://a.example", preflight: true, wantStatus: http.StatusNoContent, wantOrigin: "https://a.example", credentials: true},
		{name: "unlisted origin passes through", allowed: []string{"https://a.example"}, origin: "https://b.example", wantStatus: http.StatusTeapot},
		{name: "wildcard without credentials", allowed: []string{"*"}, origin: "https://b.example", wantStatus: http.StatusTeapot, wantOrigin: "*"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			method := http.MethodGet
			if tc.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/preview", nil)
			req.Header.Set("Origin", tc.origin)
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rr := httptest.NewRecorder()
			CORS(tc.allowed)(next).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow-origin = %q, want %q", got, tc.wantOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tc.credentials {
				t.Fatalf("credentials = %v, want %v", got, tc.credentials)
			}
		})
	}
}
