package preview

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/providers/prediction"
	"canvaspreview/internal/retry"
	"canvaspreview/internal/styles"
)

// StatusResult is the body of GET /status.
type StatusResult struct {
	RequestID         string      `json:"requestId"`
	Status            string      `json:"status"`
	PreviewURL        string      `json:"previewUrl,omitempty"`
	CacheStatus       CacheStatus `json:"cacheStatus,omitempty"`
	RequiresWatermark bool        `json:"requiresWatermark"`
	Error             string      `json:"error,omitempty"`
	Message           string      `json:"message,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// Async statuses reported by GET /status.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// startAsync submits with a webhook and returns 202. A pending request for
// the same key is reused so concurrent async callers share one job.
func (s *Service) startAsync(ctx context.Context, p *plan, out *Outcome, started time.Time) (*Outcome, error) {
	log := s.logger.With().Str("request_id", p.caller.RequestID).Str("cache_key", p.key).Logger()
	accepted := func(id string) *Outcome {
		out.RequestID = id
		out.Accepted = true
		out.Status = StatusProcessing
		out.Timestamp = s.now().UTC()
		out.DurationMS = s.now().Sub(started).Milliseconds()
		return out
	}

	if !p.req.CacheBypass {
		pending, err := s.requests.FindPending(ctx, p.key)
		if err != nil {
			log.Warn().Err(err).Msg("preview: pending lookup failed")
		} else if pending != nil {
			log.Info().Str("joined", pending.RequestID).Msg("preview: joined pending async request")
			return accepted(pending.RequestID), nil
		}
	}

	id := p.caller.RequestID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	style, err := s.styles.Resolve(p.req.StyleID)
	if err != nil {
		return nil, domain.Invalid("unknown style")
	}

	row := domain.PreviewRequest{
		RequestID:   id,
		CacheKey:    p.key,
		UserID:      p.caller.UserID,
		StyleID:     p.req.StyleID,
		AspectRatio: p.req.AspectRatio,
		Quality:     p.req.Quality,
		Watermarked: p.watermarked,
		Status:      domain.JobStatusStarting,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.requests.Create(ctx, row); err != nil {
		log.Error().Err(err).Msg("preview: persist async request failed")
		return nil, &domain.Classification{Kind: domain.ErrorUnknown, Message: "persist async request: " + err.Error()}
	}

	submit := prediction.SubmitRequest{
		Prompt:      styles.Augment(style.Prompt),
		Image:       p.image,
		AspectRatio: p.req.AspectRatio,
		Quality:     p.req.Quality,
		WebhookURL:  s.webhookURL(id),
	}
	submitted, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) (domain.SubmissionResult, error) {
		return s.jobs.Submit(ctx, submit)
	})
	if err != nil {
		c := retry.Classify(err)
		s.complete(ctx, id, domain.JobStatusFailed, c)
		return nil, &RetriedError{Classification: c, Retries: submitted.Retries}
	}

	result := submitted.Value
	out.Retries = submitted.Retries
	if !result.Pending() {
		// The provider answered inline; finish now instead of waiting on a
		// webhook that may never come.
		if err := s.finishJob(ctx, row, result); err != nil {
			log.Warn().Err(err).Msg("preview: inline completion failed")
		}
		return accepted(id), nil
	}
	if err := s.requests.AttachJob(ctx, id, result.Job.ProviderJobID, result.Job.Status); err != nil {
		log.Warn().Err(err).Msg("preview: attach job failed")
	}
	log.Info().Str("job_id", result.Job.ProviderJobID).Msg("preview: accepted async request")
	return accepted(id), nil
}

func (s *Service) webhookURL(requestID string) string {
	q := url.Values{}
	q.Set("token", s.webhookSecret)
	q.Set("requestId", requestID)
	return s.publicBaseURL + "/webhook?" + q.Encode()
}

// HandleWebhook records a provider callback for requestID. Redeliveries of
// a terminal request are acknowledged without side effects.
func (s *Service) HandleWebhook(ctx context.Context, requestID string, body []byte) error {
	if s.requests == nil {
		return domain.ErrNotFound
	}
	pred, err := prediction.ParseWebhook(body)
	if err != nil {
		return domain.Invalid("malformed webhook body")
	}
	row, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	log := s.logger.With().Str("request_id", requestID).Str("job_id", pred.ID).Logger()
	if row.Status.Terminal() {
		log.Info().Str("status", string(row.Status)).Msg("preview: duplicate webhook delivery ignored")
		return nil
	}

	result := pred.Result()
	if result.Pending() {
		return s.requests.AttachJob(ctx, requestID, pred.ID, result.Job.Status)
	}

	_, err, shared := s.webhooks.Do("webhook:"+requestID, func() (any, error) {
		return nil, s.finishJob(context.WithoutCancel(ctx), *row, result)
	})
	if shared {
		log.Debug().Msg("preview: concurrent webhook delivery collapsed")
	}
	return err
}

// finishJob downloads a terminal job's output into the cache and marks the
// request complete. Failures are recorded on the row.
func (s *Service) finishJob(ctx context.Context, row domain.PreviewRequest, result domain.SubmissionResult) error {
	if result.Failure != nil {
		s.complete(ctx, row.RequestID, domain.JobStatusFailed, result.Failure)
		return nil
	}
	if !result.Succeeded() {
		s.complete(ctx, row.RequestID, domain.JobStatusFailed, &domain.Classification{Kind: domain.ErrorUnknown, Message: "job ended as " + string(result.Job.Status)})
		return nil
	}

	data, _, _, err := s.download(ctx, result.Job.OutputURL)
	if err != nil {
		c := retry.Classify(err)
		s.complete(ctx, row.RequestID, domain.JobStatusFailed, c)
		return c
	}
	if row.Watermarked && s.watermark != nil {
		data = s.watermark.Mark(ctx, data)
	}
	if rec := s.store(ctx, row.CacheKey, data); rec == nil {
		s.complete(ctx, row.RequestID, domain.JobStatusFailed, &domain.Classification{Kind: domain.ErrorUnknown, Message: "cache write failed"})
		return errors.New("preview: cache write failed")
	}
	s.complete(ctx, row.RequestID, domain.JobStatusSucceeded, nil)
	return nil
}

func (s *Service) complete(ctx context.Context, requestID string, status domain.JobStatus, c *domain.Classification) {
	var (
		kind    domain.ErrorKind
		message string
	)
	if c != nil {
		kind = c.Kind
		message = c.UserMessage()
	}
	changed, err := s.requests.Complete(ctx, requestID, status, kind, message)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("preview: complete request failed")
	case !changed:
		s.logger.Debug().Str("request_id", requestID).Msg("preview: request already terminal")
	default:
		ev := s.logger.Info().Str("request_id", requestID).Str("status", string(status))
		if c != nil {
			ev = ev.Str("kind", string(c.Kind)).Str("detail", c.Message)
		}
		ev.Msg("preview: async request completed")
	}
}

// Status reports the state of an async request.
func (s *Service) Status(ctx context.Context, requestID string) (*StatusResult, error) {
	if s.requests == nil {
		return nil, domain.ErrNotFound
	}
	row, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	res := &StatusResult{
		RequestID:         row.RequestID,
		RequiresWatermark: row.Watermarked,
		Timestamp:         s.now().UTC(),
	}
	switch row.Status {
	case domain.JobStatusSucceeded:
		rec, _, err := s.cache.Lookup(ctx, row.CacheKey)
		if err == nil && rec != nil {
			if url, err := s.cache.SignedURL(rec, s.signedURLTTL); err == nil {
				res.Status = StatusSucceeded
				res.PreviewURL = url
				res.CacheStatus = CacheMiss
				return res, nil
			}
		}
		res.Status = StatusFailed
		res.Error = string(domain.ErrorUnknown)
		res.Message = "The preview is no longer available. Please generate it again."
	case domain.JobStatusFailed, domain.JobStatusCanceled:
		res.Status = StatusFailed
		res.Error = string(row.ErrorKind)
		res.Message = row.ErrorMessage
		if res.Message == "" {
			res.Message = (&domain.Classification{Kind: row.ErrorKind}).UserMessage()
		}
	case domain.JobStatusStarting, domain.JobStatusProcessing:
		res.Status = StatusProcessing
	}
	return res, nil
}

// ExpireStale fails async requests that have waited on a webhook since before
// cutoff.
func (s *Service) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.requests == nil {
		return 0, nil
	}
	return s.requests.ExpireStale(ctx, cutoff)
}
