package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"canvaspreview/internal/cache"
	"canvaspreview/internal/domain"
	"canvaspreview/internal/entitlement"
	"canvaspreview/internal/http/handlers"
	httpapi "canvaspreview/internal/http/httpapi"
	"canvaspreview/internal/imagenorm"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/infra/credentials"
	"canvaspreview/internal/infra/valkey"
	"canvaspreview/internal/poller"
	"canvaspreview/internal/preview"
	"canvaspreview/internal/providers/prediction"
	"canvaspreview/internal/retry"
	"canvaspreview/internal/storage"
	"canvaspreview/internal/styles"
	"canvaspreview/internal/watermark"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	signer := storage.NewSigner(cfg.StorageSigningKey, cfg.PublicBaseURL)
	objects, err := storage.NewFileStore(cfg.StoragePath, signer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open object storage")
	}

	checks := map[string]handlers.Pinger{}

	var (
		index        cache.Index
		requests     preview.StatusStore
		entitlements entitlement.Lookup = entitlement.Static(domain.TierFree)
		creds        *credentials.Store
	)
	switch cfg.CacheBackend {
	case infra.CacheBackendPostgres:
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()

		runner := infra.NewSQLRunner(dbpool, logger)
		index = cache.NewPGIndex(runner)
		requests = preview.NewPGStatusStore(runner)
		entitlements = entitlement.NewPGLookup(runner, &logger)
		creds = credentials.NewStore(runner)
		checks["postgres"] = runner.Ping
	default:
		index = cache.NewMemoryIndex(cfg.CacheMemoryCleanup)
		requests = preview.NewMemoryStatusStore()
	}

	var locker preview.Locker
	if cfg.ValkeyAddr != "" {
		vk, err := valkey.NewClient(valkey.Config{
			Address:   cfg.ValkeyAddr,
			Password:  cfg.ValkeyPassword,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyPrefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect valkey")
		}
		defer vk.Close()
		locker = vk
		checks["valkey"] = vk.Ping
	}

	token, err := creds.Resolve(ctx, cfg.ProviderAPIToken)
	if err != nil {
		logger.Warn().Err(err).Msg("provider token lookup failed")
	}
	if token == "" {
		logger.Warn().Msg("no provider API token configured; generation requests will fail")
	}

	jobs, err := prediction.NewClient(prediction.Options{
		APIToken:      token,
		BaseURL:       cfg.ProviderBaseURL,
		Model:         cfg.ProviderModel,
		SyncWait:      cfg.ProviderSyncWait,
		RatePerSecond: cfg.ProviderRatePerSecond,
		Burst:         cfg.ProviderBurst,
		Logger:        &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider client")
	}

	registry := styles.NewRegistry()
	if cfg.StyleRegistryPath != "" {
		if err := registry.LoadFile(cfg.StyleRegistryPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to load style registry")
		}
	}

	policy := retry.Policy{
		MaxAttempts:   cfg.RetryMaxAttempts,
		BaseDelay:     cfg.RetryBaseDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		RetryAfterCap: cfg.RetryAfterCap,
	}

	svc := preview.NewService(preview.Options{
		Cache: cache.NewStore(index, objects, cache.Options{
			Bucket:      cfg.StorageBucket,
			TTL:         cfg.CacheTTL,
			Logger:      &logger,
			RetireAfter: cfg.SignedURLTTL,
		}),
		Styles: registry,
		Jobs:   jobs,
		Poller: poller.New(jobs, poller.Options{
			Interval:    cfg.PollInterval,
			Jitter:      cfg.PollJitter,
			MaxAttempts: cfg.PollMaxAttempts,
			Policy:      policy,
			Logger:      &logger,
		}),
		Watermark: watermark.NewCompositor(watermark.Options{Path: cfg.WatermarkPath, Logger: &logger}),
		Normalizer: imagenorm.NewNormalizer(imagenorm.Options{
			Objects:      objects,
			AllowedHosts: cfg.ImageSourceAllowlist,
			Logger:       &logger,
		}),
		Entitlements:   entitlement.NewClaimsLookup(entitlements),
		Requests:       requests,
		Locker:         locker,
		Policy:         policy,
		RequestTimeout: cfg.RequestTimeout,
		SignedURLTTL:   cfg.SignedURLTTL,
		LockTTL:        cfg.LockTTL,
		AsyncEnabled:   cfg.AsyncEnabled,
		PublicBaseURL:  cfg.PublicBaseURL,
		WebhookSecret:  cfg.WebhookSecret,
		Logger:         &logger,
	})

	app := &handlers.App{
		Previews:      svc,
		Styles:        registry,
		Objects:       objects,
		Verifier:      signer,
		WebhookSecret: cfg.WebhookSecret,
		Checks:        checks,
		Logger:        logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("backend", cfg.CacheBackend).
		Bool("async", svc.AsyncAvailable()).
		Bool("valkey", locker != nil).
		Msgf("API listening on %s", server.Addr())
	if err := server.Run(runCtx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
		return
	}
	logger.Info().Msg("server stopped")
}
