package retry

import (
	"context"

	"canvaspreview/internal/domain"
)

// Result carries the value of a retried operation and how much of the
// budget it consumed.
type Result[T any] struct {
	Value    T
	Attempts int
	Retries  int
}

// Do runs op until it succeeds, fails with a non-retryable class, or the
// policy is exhausted. The returned error is always a *domain.Classification.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (Result[T], error) {
	var res Result[T]
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		value, err := op(ctx, attempt)
		if err == nil {
			res.Value = value
			return res, nil
		}
		class := Classify(err)
		if !ShouldRetry(class, attempt, maxAttempts) {
			return res, class
		}
		if ctx.Err() != nil {
			return res, Classify(ctx.Err())
		}
		if err := p.Wait(ctx, p.NextDelay(class, attempt)); err != nil {
			return res, classOrTimeout(err, class)
		}
		res.Retries++
	}
}

func classOrTimeout(err error, last *domain.Classification) *domain.Classification {
	c := Classify(err)
	if c.Kind == domain.ErrorUnknown {
		return last
	}
	return c
}
