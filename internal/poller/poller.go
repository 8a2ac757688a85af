// Package poller drives a pending provider job to a terminal state.
package poller

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/retry"
)

// StatusChecker is the status primitive of the job client.
type StatusChecker interface {
	Status(ctx context.Context, handle domain.JobHandle) (domain.SubmissionResult, error)
}

// Options configures a Poller.
type Options struct {
	Interval    time.Duration
	Jitter      time.Duration
	MaxAttempts int
	Policy      retry.Policy
	Logger      *infra.Logger
	Now         func() time.Time
	// Jitterer returns a value in [0,1). Defaults to math/rand.
	Jitterer func() float64
}

// Stats reports the polling effort spent on one job.
type Stats struct {
	Attempts int
	Retries  int
}

// Poller checks job status with jittered waits until the job is terminal,
// the attempt budget runs out, or the deadline passes.
type Poller struct {
	checker     StatusChecker
	interval    time.Duration
	jitter      time.Duration
	maxAttempts int
	policy      retry.Policy
	logger      zerolog.Logger
	now         func() time.Time
	jitterer    func() float64
}

func New(checker StatusChecker, opts Options) *Poller {
	p := &Poller{
		checker:     checker,
		interval:    opts.Interval,
		jitter:      opts.Jitter,
		maxAttempts: opts.MaxAttempts,
		policy:      opts.Policy,
		logger:      zerolog.Nop(),
		now:         opts.Now,
		jitterer:    opts.Jitterer,
	}
	if p.interval <= 0 {
		p.interval = 2 * time.Second
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 24
	}
	if p.policy.MaxAttempts <= 0 {
		p.policy = retry.DefaultPolicy()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.jitterer == nil {
		p.jitterer = rand.Float64
	}
	if opts.Logger != nil {
		p.logger = infra.NewComponentLogger(*opts.Logger, "poller")
	}
	return p
}

// Poll returns the terminal result of the job, or a timeout failure when it
// does not finish in time. Provider-reported failures are returned as-is and
// never retried.
func (p *Poller) Poll(ctx context.Context, handle domain.JobHandle, deadline time.Time) (domain.SubmissionResult, Stats) {
	var (
		stats       Stats
		consecutive int
		last        = domain.SubmissionResult{
			Job:    domain.Job{ProviderJobID: handle.ID, Status: domain.JobStatusProcessing},
			Handle: handle,
		}
	)

	for stats.Attempts < p.maxAttempts && p.now().Before(deadline) {
		stats.Attempts++
		res, err := p.checker.Status(ctx, handle)

		var wait time.Duration
		if err != nil {
			c := retry.Classify(err)
			if ctx.Err() != nil {
				break
			}
			consecutive++
			if !p.policy.ShouldRetry(c, consecutive) {
				last.Failure = c
				last.Job.Status = domain.JobStatusFailed
				return last, stats
			}
			stats.Retries++
			wait = p.policy.NextDelay(c, consecutive)
			p.logger.Debug().Err(err).Str("job_id", handle.ID).Dur("wait", wait).Msg("status check failed, retrying")
		} else {
			consecutive = 0
			if res.Handle.ID == "" {
				res.Handle = handle
			}
			last = res
			switch res.Job.Status {
			case domain.JobStatusSucceeded, domain.JobStatusFailed, domain.JobStatusCanceled:
				res.Job.Attempts = stats.Attempts
				return res, stats
			case domain.JobStatusStarting, domain.JobStatusProcessing:
				wait = p.nextInterval()
			}
		}

		if remaining := deadline.Sub(p.now()); wait > remaining {
			wait = remaining
		}
		if err := p.policy.Wait(ctx, wait); err != nil {
			break
		}
	}

	last.Job.Attempts = stats.Attempts
	last.Failure = retry.Timeout("prediction %s is taking longer than expected", handle.ID)
	p.logger.Warn().Str("job_id", handle.ID).Int("attempts", stats.Attempts).Msg("polling gave up")
	return last, stats
}

func (p *Poller) nextInterval() time.Duration {
	if p.jitter <= 0 {
		return p.interval
	}
	offset := time.Duration((p.jitterer()*2 - 1) * float64(p.jitter))
	return p.interval + offset
}
