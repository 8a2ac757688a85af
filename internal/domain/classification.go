package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorKind is the closed set of generation failure classes.
type ErrorKind string

const (
	ErrorRateLimit          ErrorKind = "rate_limit"
	ErrorServiceUnavailable ErrorKind = "service_unavailable"
	ErrorInvalidRequest     ErrorKind = "invalid_request"
	ErrorNetwork            ErrorKind = "network_error"
	ErrorTimeout            ErrorKind = "timeout"
	ErrorUnknown            ErrorKind = "unknown"
)

// Classification is a typed generation failure. Message holds internal detail
// (possibly raw provider text) and is only ever logged; Detail, when set, is
// safe to show to the caller.
type Classification struct {
	Kind       ErrorKind
	Status     int
	Message    string
	Detail     string
	RetryAfter time.Duration
}

func (c *Classification) Error() string {
	if c == nil {
		return "<nil>"
	}
	if c.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", c.Kind, c.Status, c.Message)
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Message)
}

// Invalid builds an invalid_request classification whose message is safe to
// return to the caller.
func Invalid(detail string) *Classification {
	return &Classification{Kind: ErrorInvalidRequest, Status: http.StatusBadRequest, Message: detail, Detail: detail}
}

// HTTPStatus maps the class onto the status returned to the caller.
func (c *Classification) HTTPStatus() int {
	switch c.Kind {
	case ErrorRateLimit:
		return http.StatusTooManyRequests
	case ErrorServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a message that never contains provider text.
func (c *Classification) UserMessage() string {
	if c.Detail != "" {
		return c.Detail
	}
	switch c.Kind {
	case ErrorRateLimit:
		return "The preview service is busy right now. Please try again in a moment."
	case ErrorServiceUnavailable:
		return "The preview service is temporarily unavailable. Please try again shortly."
	case ErrorInvalidRequest:
		return "This photo could not be turned into a preview. Please try a different photo."
	case ErrorNetwork:
		return "We could not reach the preview service. Please try again."
	case ErrorTimeout:
		return "Preview generation is taking longer than expected. Please try again."
	default:
		return "Something went wrong while generating your preview."
	}
}

var indonesianMessages = map[ErrorKind]string{
	ErrorRateLimit:          "Layanan pratinjau sedang sibuk. Silakan coba lagi sebentar lagi.",
	ErrorServiceUnavailable: "Layanan pratinjau sedang tidak tersedia. Silakan coba lagi nanti.",
	ErrorInvalidRequest:     "Foto ini tidak dapat dijadikan pratinjau. Silakan coba foto lain.",
	ErrorNetwork:            "Kami tidak dapat menghubungi layanan pratinjau. Silakan coba lagi.",
	ErrorTimeout:            "Pembuatan pratinjau memakan waktu lebih lama dari biasanya. Silakan coba lagi.",
	ErrorUnknown:            "Terjadi kesalahan saat membuat pratinjau Anda.",
}

// UserMessageIn is UserMessage for a negotiated locale. Validation details
// are returned as written.
func (c *Classification) UserMessageIn(locale string) string {
	if c.Detail != "" || locale != "id" {
		return c.UserMessage()
	}
	if msg, ok := indonesianMessages[c.Kind]; ok {
		return msg
	}
	return indonesianMessages[ErrorUnknown]
}
