package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"canvaspreview/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func class(kind domain.ErrorKind) *domain.Classification {
	return &domain.Classification{Kind: kind}
}

func TestShouldRetryNeverRetriesInvalidRequest(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		assert.False(t, ShouldRetry(class(domain.ErrorInvalidRequest), attempt, 10), "attempt %d", attempt)
	}
}

func TestShouldRetryStopsAtMaxAttempts(t *testing.T) {
	kinds := []domain.ErrorKind{
		domain.ErrorRateLimit,
		domain.ErrorServiceUnavailable,
		domain.ErrorNetwork,
		domain.ErrorTimeout,
	}
	for _, kind := range kinds {
		assert.True(t, ShouldRetry(class(kind), 3, 4), "%s should retry below max", kind)
		assert.False(t, ShouldRetry(class(kind), 4, 4), "%s must stop at max", kind)
		assert.False(t, ShouldRetry(class(kind), 5, 4), "%s must stop past max", kind)
	}
}

func TestShouldRetryRejectsUnknownAndNil(t *testing.T) {
	assert.False(t, ShouldRetry(class(domain.ErrorUnknown), 1, 4))
	assert.False(t, ShouldRetry(nil, 1, 4))
}

func TestNextDelayMonotonic(t *testing.T) {
	p := DefaultPolicy()
	c := &domain.Classification{Kind: domain.ErrorServiceUnavailable, RetryAfter: 3 * time.Second}
	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := p.NextDelay(c, attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, p.MaxDelay, prev)
}

func TestNextDelayPrefersRetryAfterHint(t *testing.T) {
	p := DefaultPolicy()
	c := &domain.Classification{Kind: domain.ErrorRateLimit, RetryAfter: 12 * time.Second}
	assert.Equal(t, 12*time.Second, p.NextDelay(c, 1))

	c.RetryAfter = time.Hour
	assert.Equal(t, p.RetryAfterCap, p.NextDelay(c, 1), "hint must be capped")

	c.RetryAfter = 0
	assert.Equal(t, 2*time.Second, p.NextDelay(c, 1))
	assert.Equal(t, 8*time.Second, p.NextDelay(c, 3))
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]domain.ErrorKind{
		http.StatusTooManyRequests:     domain.ErrorRateLimit,
		http.StatusServiceUnavailable:  domain.ErrorServiceUnavailable,
		http.StatusBadRequest:          domain.ErrorInvalidRequest,
		http.StatusUnauthorized:        domain.ErrorInvalidRequest,
		http.StatusForbidden:           domain.ErrorInvalidRequest,
		http.StatusBadGateway:          domain.ErrorNetwork,
		http.StatusGatewayTimeout:      domain.ErrorNetwork,
		http.StatusRequestTimeout:      domain.ErrorTimeout,
		http.StatusInternalServerError: domain.ErrorUnknown,
		http.StatusTeapot:              domain.ErrorUnknown,
	}
	for status, want := range cases {
		got := ClassifyStatus(status, "msg", 5*time.Second)
		assert.Equal(t, want, got.Kind, "status %d", status)
		assert.Equal(t, status, got.Status)
	}
	assert.Equal(t, 5*time.Second, ClassifyStatus(http.StatusTooManyRequests, "", 5*time.Second).RetryAfter)
	assert.Zero(t, ClassifyStatus(http.StatusBadRequest, "", 5*time.Second).RetryAfter)
}

func TestClassify(t *testing.T) {
	existing := &domain.Classification{Kind: domain.ErrorRateLimit}
	assert.Same(t, existing, Classify(existing))
	assert.Equal(t, domain.ErrorTimeout, Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, domain.ErrorUnknown, Classify(errors.New("boom")).Kind)
	assert.Nil(t, Classify(nil))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, 1500*time.Millisecond, ParseRetryAfter("1.5", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-3", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
}
