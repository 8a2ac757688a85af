package domain

import (
	"net/http"
	"strings"
	"testing"
)

func TestClassificationHTTPStatus(t *testing.T) {
	cases := map[ErrorKind]int{
		ErrorRateLimit:          http.StatusTooManyRequests,
		ErrorServiceUnavailable: http.StatusServiceUnavailable,
		ErrorInvalidRequest:     http.StatusBadRequest,
		ErrorNetwork:            http.StatusInternalServerError,
		ErrorTimeout:            http.StatusInternalServerError,
		ErrorUnknown:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := (&Classification{Kind: kind}).HTTPStatus(); got != want {
			t.Fatalf("%s: status = %d, want %d", kind, got, want)
		}
	}
}

func TestUserMessageHidesProviderText(t *testing.T) {
	c := &Classification{Kind: ErrorUnknown, Message: "panic in worker gpu-3"}
	for _, locale := range []string{"en", "id"} {
		if msg := c.UserMessageIn(locale); msg == "" || strings.Contains(msg, "gpu-3") {
			t.Fatalf("%s: unexpected message %q", locale, msg)
		}
	}
}

func TestUserMessageInKeepsValidationDetail(t *testing.T) {
	c := Invalid("aspectRatio: must be one of 1:1, 4:5")
	if got := c.UserMessageIn("id"); got != "aspectRatio: must be one of 1:1, 4:5" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (&Classification{Kind: ErrorTimeout}).UserMessageIn("fr"); got != (&Classification{Kind: ErrorTimeout}).UserMessage() {
		t.Fatalf("unsupported locale should use the default message, got %q", got)
	}
}

func TestParseJobStatus(t *testing.T) {
	cases := map[string]JobStatus{
		"succeeded": JobStatusSucceeded,
		"FAILED":    JobStatusFailed,
		"cancelled": JobStatusCanceled,
		"queued":    JobStatusStarting,
		"":          JobStatusStarting,
		"warming":   JobStatusProcessing,
	}
	for raw, want := range cases {
		if got := ParseJobStatus(raw); got != want {
			t.Fatalf("ParseJobStatus(%q) = %q, want %q", raw, got, want)
		}
		if want.Terminal() != (want == JobStatusSucceeded || want == JobStatusFailed || want == JobStatusCanceled) {
			t.Fatalf("%q terminal mismatch", want)
		}
	}
}
