package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"canvaspreview/internal/domain"
)

// ClassifyStatus maps a provider HTTP status onto an error class.
func ClassifyStatus(status int, message string, retryAfter time.Duration) *domain.Classification {
	c := &domain.Classification{Status: status, Message: message}
	switch status {
	case http.StatusTooManyRequests:
		c.Kind = domain.ErrorRateLimit
		c.RetryAfter = retryAfter
	case http.StatusServiceUnavailable:
		c.Kind = domain.ErrorServiceUnavailable
		c.RetryAfter = retryAfter
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		c.Kind = domain.ErrorInvalidRequest
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		c.Kind = domain.ErrorNetwork
	case http.StatusRequestTimeout:
		c.Kind = domain.ErrorTimeout
	default:
		c.Kind = domain.ErrorUnknown
	}
	return c
}

// Classify converts any error into a Classification. Errors that already
// carry one are returned unchanged.
func Classify(err error) *domain.Classification {
	if err == nil {
		return nil
	}
	var c *domain.Classification
	if errors.As(err, &c) {
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.Classification{Kind: domain.ErrorTimeout, Status: http.StatusGatewayTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &domain.Classification{Kind: domain.ErrorTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &domain.Classification{Kind: domain.ErrorTimeout, Message: err.Error()}
		}
		return &domain.Classification{Kind: domain.ErrorNetwork, Message: err.Error()}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &domain.Classification{Kind: domain.ErrorNetwork, Message: err.Error()}
	}
	return &domain.Classification{Kind: domain.ErrorUnknown, Message: err.Error()}
}

// Timeout builds the classification returned when polling gives up.
func Timeout(format string, args ...any) *domain.Classification {
	return &domain.Classification{
		Kind:    domain.ErrorTimeout,
		Status:  http.StatusGatewayTimeout,
		Message: fmt.Sprintf(format, args...),
	}
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
