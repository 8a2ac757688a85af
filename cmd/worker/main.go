package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"canvaspreview/internal/cache"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/preview"
	"canvaspreview/internal/storage"
)

type reaper struct {
	cache    *cache.Store
	requests preview.StatusStore
	logger   infra.Logger

	grace        time.Duration
	staleTimeout time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.CacheBackend != infra.CacheBackendPostgres {
		// The memory index lives inside the API process and expires its own entries.
		logger.Info().Str("backend", cfg.CacheBackend).Msg("worker: nothing to reap for this backend")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	objects, err := storage.NewFileStore(cfg.StoragePath, storage.NewSigner(cfg.StorageSigningKey, cfg.PublicBaseURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: object storage unavailable")
	}

	r := &reaper{
		cache: cache.NewStore(cache.NewPGIndex(runner), objects, cache.Options{
			Bucket: cfg.StorageBucket,
			TTL:    cfg.CacheTTL,
			Logger: &logger,
		}),
		requests:     preview.NewPGStatusStore(runner),
		logger:       logger,
		grace:        cfg.ReaperGrace,
		staleTimeout: cfg.StaleRequestTimeout,
	}

	logger.Info().
		Str("interval", cfg.ReaperInterval.String()).
		Str("grace", cfg.ReaperGrace.String()).
		Str("stale_after", cfg.StaleRequestTimeout.String()).
		Msg("worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return every(gctx, cfg.ReaperInterval, r.reapCache) })
	g.Go(func() error { return every(gctx, cfg.ReaperInterval, r.expireRequests) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker stopped")
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *reaper) reapCache(ctx context.Context) {
	cutoff := time.Now().Add(-r.grace)
	n, err := r.cache.Reap(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("worker: cache reap failed")
		}
		return
	}
	if n > 0 {
		r.logger.Info().
			Int("removed", n).
			Str("expired_before", humanize.Time(cutoff)).
			Msg("worker: reaped expired previews")
	}
}

func (r *reaper) expireRequests(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleTimeout)
	n, err := r.requests.ExpireStale(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("worker: expire stale requests failed")
		}
		return
	}
	if n > 0 {
		r.logger.Warn().
			Int64("expired", n).
			Str("idle_since", humanize.Time(cutoff)).
			Msg("worker: timed out abandoned async requests")
	}
}
