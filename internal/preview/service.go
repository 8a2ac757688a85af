// Package preview orchestrates one preview generation: validation, cache
// check, provider submission, polling, watermarking and the cache write.
package preview

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	_ "golang.org/x/image/webp"

	"canvaspreview/internal/cache"
	"canvaspreview/internal/domain"
	"canvaspreview/internal/entitlement"
	"canvaspreview/internal/fingerprint"
	"canvaspreview/internal/imagenorm"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/poller"
	"canvaspreview/internal/providers/prediction"
	"canvaspreview/internal/retry"
	"canvaspreview/internal/styles"
)

// CacheStore is the subset of cache.Store the orchestrator needs.
type CacheStore interface {
	Lookup(ctx context.Context, key string) (*domain.CacheRecord, bool, error)
	Put(ctx context.Context, key string, data []byte, meta cache.Metadata) (*domain.CacheRecord, error)
	Touch(ctx context.Context, key string)
	SignedURL(rec *domain.CacheRecord, ttl time.Duration) (string, error)
}

type StyleResolver interface {
	Resolve(id string) (styles.Resolved, error)
	Has(id string) bool
}

// JobClient submits generations and checks on them.
type JobClient interface {
	Submit(ctx context.Context, req prediction.SubmitRequest) (domain.SubmissionResult, error)
	Status(ctx context.Context, handle domain.JobHandle) (domain.SubmissionResult, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type Poller interface {
	Poll(ctx context.Context, handle domain.JobHandle, deadline time.Time) (domain.SubmissionResult, poller.Stats)
}

type Watermarker interface {
	Apply(ctx context.Context, data []byte, tier domain.EntitlementTier) []byte
	Mark(ctx context.Context, data []byte) []byte
}

type Normalizer interface {
	Normalize(ctx context.Context, ref string) (*imagenorm.Result, error)
}

// Locker is a cross-instance lock keyed by cache key. valkey.Client
// satisfies it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, name, token string) error
}

// CacheStatus tells the caller where the preview came from.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// Outcome statuses.
const (
	StatusCompleted  = "completed"
	StatusProcessing = "processing"
)

// Caller identifies who asked for a preview.
type Caller struct {
	UserID    string
	RequestID string
	// PreferAsync is set when the client asked for a 202 and a later webhook
	// driven result.
	PreferAsync bool
}

// Outcome is the success body of POST /preview.
type Outcome struct {
	PreviewURL        string      `json:"previewUrl,omitempty"`
	RequestID         string      `json:"requestId"`
	CacheStatus       CacheStatus `json:"cacheStatus,omitempty"`
	DurationMS        int64       `json:"duration"`
	RequiresWatermark bool        `json:"requiresWatermark"`
	Timestamp         time.Time   `json:"timestamp"`
	Status            string      `json:"status"`

	Retries  int  `json:"-"`
	Accepted bool `json:"-"`
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Cache        CacheStore
	Styles       StyleResolver
	Jobs         JobClient
	Poller       Poller
	Watermark    Watermarker
	Normalizer   Normalizer
	Entitlements entitlement.Lookup
	// Requests backs the async flow. Async is disabled when nil.
	Requests StatusStore
	// Locker extends single-flight across instances. Optional.
	Locker Locker

	Policy         retry.Policy
	RequestTimeout time.Duration
	SignedURLTTL   time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration

	AsyncEnabled  bool
	PublicBaseURL string
	WebhookSecret string

	Logger *infra.Logger
	Now    func() time.Time
}

// Service runs the generation state machine. One instance is shared by all
// requests.
type Service struct {
	cache        CacheStore
	styles       StyleResolver
	jobs         JobClient
	poller       Poller
	watermark    Watermarker
	normalizer   Normalizer
	entitlements entitlement.Lookup
	requests     StatusStore
	locker       Locker

	policy         retry.Policy
	requestTimeout time.Duration
	signedURLTTL   time.Duration
	lockTTL        time.Duration
	lockWait       time.Duration

	asyncEnabled  bool
	publicBaseURL string
	webhookSecret string

	logger zerolog.Logger
	now    func() time.Time

	flights  singleflight.Group
	webhooks singleflight.Group
}

func NewService(opts Options) *Service {
	s := &Service{
		cache:          opts.Cache,
		styles:         opts.Styles,
		jobs:           opts.Jobs,
		poller:         opts.Poller,
		watermark:      opts.Watermark,
		normalizer:     opts.Normalizer,
		entitlements:   opts.Entitlements,
		requests:       opts.Requests,
		locker:         opts.Locker,
		policy:         opts.Policy,
		requestTimeout: opts.RequestTimeout,
		signedURLTTL:   opts.SignedURLTTL,
		lockTTL:        opts.LockTTL,
		lockWait:       opts.LockWait,
		asyncEnabled:   opts.AsyncEnabled,
		publicBaseURL:  opts.PublicBaseURL,
		webhookSecret:  opts.WebhookSecret,
		logger:         zerolog.Nop(),
		now:            opts.Now,
	}
	if s.entitlements == nil {
		s.entitlements = entitlement.Static(domain.TierFree)
	}
	if s.policy.MaxAttempts <= 0 {
		s.policy = retry.DefaultPolicy()
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 55 * time.Second
	}
	if s.signedURLTTL <= 0 {
		s.signedURLTTL = time.Hour
	}
	if s.lockTTL <= 0 {
		s.lockTTL = time.Minute
	}
	if s.lockWait <= 0 {
		s.lockWait = time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.logger = infra.NewComponentLogger(*opts.Logger, "preview")
	}
	return s
}

// AsyncAvailable reports whether the webhook flow is configured.
func (s *Service) AsyncAvailable() bool {
	return s.asyncEnabled && s.requests != nil && s.publicBaseURL != "" && s.webhookSecret != ""
}

// plan is a validated request with every derived value the flow needs.
type plan struct {
	req         domain.GenerationRequest
	caller      Caller
	tier        domain.EntitlementTier
	watermarked bool
	key         string
	image       []byte
}

// flight is what one single-flight execution hands to every waiter.
type flight struct {
	record  *domain.CacheRecord
	data    []byte
	ctype   string
	hit     bool
	retries int
}

// Generate runs one preview request to completion (or to 202 when async).
// Errors unwrap to *domain.Classification; RetriesOf reports the retries
// spent before a generation failure.
func (s *Service) Generate(ctx context.Context, in Input, caller Caller) (*Outcome, error) {
	started := s.now()
	if caller.RequestID == "" {
		caller.RequestID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	log := s.logger.With().Str("request_id", caller.RequestID).Logger()

	req, err := Validate(ctx, in, s.styles)
	if err != nil {
		log.Info().Err(err).Msg("preview: rejected")
		return nil, err
	}

	p := &plan{req: req, caller: caller}
	p.tier = s.entitlements.Tier(ctx, caller.UserID)
	p.watermarked = req.WatermarkRequired || !p.tier.Unwatermarked()

	out := &Outcome{
		RequestID:         caller.RequestID,
		RequiresWatermark: p.watermarked,
	}
	finish := func(status CacheStatus, retries int) *Outcome {
		out.CacheStatus = status
		out.Retries = retries
		out.Status = StatusCompleted
		out.Timestamp = s.now().UTC()
		out.DurationMS = s.now().Sub(started).Milliseconds()
		log.Info().
			Str("cache_key", p.key).
			Str("cache_status", string(status)).
			Int("retries", retries).
			Int64("duration_ms", out.DurationMS).
			Msg("preview: done")
		return out
	}

	// A caller-supplied content hash lets a hit skip fetching the image.
	if req.ContentHash != "" && !req.CacheBypass {
		p.key = s.cacheKey(req.ContentHash, req, p.watermarked)
		if url, ok := s.serveHit(ctx, p.key); ok {
			out.PreviewURL = url
			return finish(CacheHit, 0), nil
		}
	}

	norm, err := s.normalizer.Normalize(ctx, req.Source.StoragePath)
	if err != nil {
		c := retry.Classify(err)
		log.Info().Err(err).Str("kind", string(c.Kind)).Msg("preview: source image rejected")
		return nil, c
	}
	p.image = norm.Data
	p.key = s.cacheKey(norm.ContentHash, req, p.watermarked)

	if !req.CacheBypass {
		if url, ok := s.serveHit(ctx, p.key); ok {
			out.PreviewURL = url
			return finish(CacheHit, 0), nil
		}
	}

	if (caller.PreferAsync || in.Async) && s.AsyncAvailable() {
		return s.startAsync(ctx, p, out, started)
	}

	flightKey := p.key
	if req.CacheBypass {
		flightKey += "#bypass"
	}
	res, err := s.shared(ctx, flightKey, p)
	if err != nil {
		c := retry.Classify(err)
		log.Warn().
			Str("cache_key", p.key).
			Str("kind", string(c.Kind)).
			Int("status", c.Status).
			Int("retries", RetriesOf(err)).
			Str("detail", c.Message).
			Msg("preview: failed")
		return nil, &RetriedError{Classification: c, Retries: RetriesOf(err)}
	}

	out.PreviewURL = s.deliver(res, log)
	status := CacheMiss
	switch {
	case req.CacheBypass:
		status = CacheBypass
	case res.hit:
		status = CacheHit
	}
	return finish(status, res.retries), nil
}

func (s *Service) cacheKey(contentHash string, req domain.GenerationRequest, watermarked bool) string {
	fp := fingerprint.Compute(contentHash, req.StyleID, req.AspectRatio, req.Quality)
	return fingerprint.Key(fp, fingerprint.VariantFor(watermarked))
}

// serveHit returns a signed URL for a fresh entry. A signing failure is
// reported as a miss so the preview is regenerated. The hit is only counted
// once the URL has been produced.
func (s *Service) serveHit(ctx context.Context, key string) (string, bool) {
	rec, fresh, err := s.cache.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("preview: cache lookup failed")
		return "", false
	}
	if rec == nil || !fresh {
		return "", false
	}
	url, err := s.cache.SignedURL(rec, s.signedURLTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("preview: signing cached preview failed, regenerating")
		return "", false
	}
	s.cache.Touch(ctx, key)
	return url, true
}

// servable returns a fresh record that can be signed, counting the hit.
func (s *Service) servable(ctx context.Context, key string) *domain.CacheRecord {
	rec, fresh, err := s.cache.Lookup(ctx, key)
	if err != nil || rec == nil || !fresh {
		return nil
	}
	if _, err := s.cache.SignedURL(rec, s.signedURLTTL); err != nil {
		return nil
	}
	s.cache.Touch(ctx, key)
	return rec
}

// shared collapses concurrent generations of the same key into one. The
// leader runs under a context detached from its own caller so a disconnect
// does not fail the waiters; the leader's deadline still applies.
func (s *Service) shared(ctx context.Context, key string, p *plan) (*flight, error) {
	ch := s.flights.DoChan(key, func() (any, error) {
		work := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			work, cancel = context.WithDeadline(work, deadline)
			defer cancel()
		}
		return s.lead(work, p)
	})

	select {
	case <-ctx.Done():
		return nil, retry.Timeout("waiting for preview %s: %v", key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*flight)
		if r.Shared {
			s.logger.Debug().Str("cache_key", key).Msg("preview: joined in-flight generation")
		}
		return &res, nil
	}
}

// lead runs inside single-flight. It re-checks the cache first because a
// previous flight may have finished between our lookup and now.
func (s *Service) lead(ctx context.Context, p *plan) (*flight, error) {
	if !p.req.CacheBypass {
		if rec := s.servable(ctx, p.key); rec != nil {
			return &flight{record: rec, hit: true}, nil
		}
	}

	if s.locker != nil && !p.req.CacheBypass {
		release, res, err := s.acquire(ctx, p.key)
		if err != nil || res != nil {
			return res, err
		}
		defer release()
	}

	return s.generate(ctx, p)
}

// acquire takes the cross-instance lock for key. While another instance holds
// it, the cache is checked between attempts so its result can be reused. A
// Valkey error falls back to generating without the lock.
func (s *Service) acquire(ctx context.Context, key string) (func(), *flight, error) {
	noop := func() {}
	for {
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("cache_key", key).Msg("preview: lock unavailable, continuing without it")
			return noop, nil, nil
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := s.locker.Unlock(releaseCtx, key, token); err != nil {
					s.logger.Warn().Err(err).Str("cache_key", key).Msg("preview: lock release failed")
				}
			}, nil, nil
		}

		if err := retry.SleepContext(ctx, s.lockWait); err != nil {
			return noop, nil, retry.Timeout("waiting for generation lock on %s", key)
		}
		if rec := s.servable(ctx, key); rec != nil {
			return noop, &flight{record: rec, hit: true}, nil
		}
	}
}

// generate is the miss path: submit, poll, download, watermark, cache.
func (s *Service) generate(ctx context.Context, p *plan) (*flight, error) {
	style, err := s.styles.Resolve(p.req.StyleID)
	if err != nil {
		return nil, domain.Invalid("unknown style")
	}
	submit := prediction.SubmitRequest{
		Prompt:      styles.Augment(style.Prompt),
		Image:       p.image,
		AspectRatio: p.req.AspectRatio,
		Quality:     p.req.Quality,
	}

	submitted, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) (domain.SubmissionResult, error) {
		return s.jobs.Submit(ctx, submit)
	})
	retries := submitted.Retries
	if err != nil {
		return nil, withRetries(err, retries)
	}

	result := submitted.Value
	if result.Pending() {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = s.now().Add(s.requestTimeout)
		}
		var stats poller.Stats
		result, stats = s.poller.Poll(ctx, result.Handle, deadline)
		retries += stats.Retries
	}
	if result.Failure != nil {
		return nil, withRetries(result.Failure, retries)
	}
	if !result.Succeeded() {
		return nil, withRetries(&domain.Classification{Kind: domain.ErrorUnknown, Message: "job ended as " + string(result.Job.Status)}, retries)
	}

	data, ctype, dl, err := s.download(ctx, result.Job.OutputURL)
	retries += dl
	if err != nil {
		return nil, withRetries(err, retries)
	}

	data = s.applyWatermark(ctx, data, p.req.WatermarkRequired, p.tier)
	res := &flight{data: data, ctype: ctype, retries: retries}
	res.record = s.store(ctx, p.key, data)
	if res.record != nil {
		res.ctype = res.record.ContentType
	}
	return res, nil
}

// RetriedError carries the number of retries spent before the failure.
type RetriedError struct {
	*domain.Classification
	Retries int
}

func (e *RetriedError) Unwrap() error { return e.Classification }

func withRetries(err error, retries int) error {
	return &RetriedError{Classification: retry.Classify(err), Retries: retries}
}

// RetriesOf extracts the retry count from a Generate error.
func RetriesOf(err error) int {
	var re *RetriedError
	if errors.As(err, &re) {
		return re.Retries
	}
	return 0
}

func (s *Service) download(ctx context.Context, url string) ([]byte, string, int, error) {
	type asset struct {
		data  []byte
		ctype string
	}
	res, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) (asset, error) {
		data, ctype, err := s.jobs.Download(ctx, url)
		return asset{data: data, ctype: ctype}, err
	})
	if err != nil {
		return nil, "", res.Retries, err
	}
	return res.Value.data, res.Value.ctype, res.Retries, nil
}

// applyWatermark marks the asset when the caller asked for it, otherwise
// defers to the entitlement tier.
func (s *Service) applyWatermark(ctx context.Context, data []byte, forced bool, tier domain.EntitlementTier) []byte {
	if s.watermark == nil {
		return data
	}
	if forced {
		return s.watermark.Mark(ctx, data)
	}
	return s.watermark.Apply(ctx, data, tier)
}

// store writes the asset to the cache. Failures are logged; the caller still
// gets the generated bytes.
func (s *Service) store(ctx context.Context, key string, data []byte) *domain.CacheRecord {
	meta := cache.Metadata{ContentType: http.DetectContentType(data)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width, meta.Height = cfg.Width, cfg.Height
	}
	rec, err := s.cache.Put(ctx, key, data, meta)
	if err != nil {
		s.logger.Error().Err(err).Str("cache_key", key).Str("size", humanize.Bytes(uint64(len(data)))).Msg("preview: cache write failed")
		return nil
	}
	return rec
}

// deliver turns a flight into the URL returned to this caller. Every waiter
// signs for itself; without a usable record the bytes are inlined.
func (s *Service) deliver(res *flight, log zerolog.Logger) string {
	if res.record != nil {
		url, err := s.cache.SignedURL(res.record, s.signedURLTTL)
		if err == nil {
			return url
		}
		log.Warn().Err(err).Str("cache_key", res.record.Key).Msg("preview: signing failed, inlining asset")
	}
	if len(res.data) == 0 {
		return ""
	}
	return dataURI(res.ctype, res.data)
}

func dataURI(ctype string, data []byte) string {
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	return fmt.Sprintf("data:%s;base64,%s", ctype, base64.StdEncoding.EncodeToString(data))
}
