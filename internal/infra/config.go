package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cache index backends.
const (
	CacheBackendPostgres = "postgres"
	CacheBackendMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	Port         string
	DatabaseURL  string
	DBMaxConns   int32
	CacheBackend string
	JWTSecret    string

	PublicBaseURL        string
	StoragePath          string
	StorageBucket        string
	StorageSigningKey    string
	ImageSourceAllowlist []string
	CORSAllowedOrigins   []string

	ProviderAPIToken      string
	ProviderBaseURL       string
	ProviderModel         string
	ProviderSyncWait      time.Duration
	ProviderRatePerSecond float64
	ProviderBurst         int

	WebhookSecret string
	AsyncEnabled  bool

	RequestTimeout   time.Duration
	PollInterval     time.Duration
	PollJitter       time.Duration
	PollMaxAttempts  int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryAfterCap    time.Duration

	CacheTTL            time.Duration
	CacheMemoryCleanup  time.Duration
	SignedURLTTL        time.Duration
	LockTTL             time.Duration
	ReaperInterval      time.Duration
	ReaperGrace         time.Duration
	StaleRequestTimeout time.Duration

	ValkeyAddr     string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string

	WatermarkPath     string
	StyleRegistryPath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	DefaultLocale    string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         port,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBMaxConns:   int32(getEnvInt("DB_MAX_CONNS", 10)),
		CacheBackend: strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendPostgres)),
		JWTSecret:    os.Getenv("JWT_SECRET"),

		PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "previews"),
		StorageSigningKey: os.Getenv("STORAGE_SIGNING_KEY"),

		ProviderAPIToken:      os.Getenv("PROVIDER_API_TOKEN"),
		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.replicate.com/v1"),
		ProviderModel:         getEnv("PROVIDER_MODEL", "black-forest-labs/flux-kontext-pro"),
		ProviderSyncWait:      getEnvDuration("PROVIDER_SYNC_WAIT_SECONDS", 10, time.Second),
		ProviderRatePerSecond: getEnvFloat("PROVIDER_RATE_PER_SECOND", 5),
		ProviderBurst:         getEnvInt("PROVIDER_BURST", 10),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		AsyncEnabled:  getEnvBool("ASYNC_ENABLED", false),

		RequestTimeout:   getEnvDuration("PREVIEW_REQUEST_TIMEOUT_SECONDS", 55, time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL_MS", 2000, time.Millisecond),
		PollJitter:       getEnvDuration("POLL_JITTER_MS", 200, time.Millisecond),
		PollMaxAttempts:  getEnvInt("POLL_MAX_ATTEMPTS", 24),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY_MS", 1000, time.Millisecond),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY_SECONDS", 16, time.Second),
		RetryAfterCap:    getEnvDuration("RETRY_AFTER_CAP_SECONDS", 20, time.Second),

		CacheTTL:            getEnvDuration("CACHE_TTL_HOURS", 720, time.Hour),
		CacheMemoryCleanup:  getEnvDuration("CACHE_MEMORY_CLEANUP_MINUTES", 10, time.Minute),
		SignedURLTTL:        getEnvDuration("SIGNED_URL_TTL_SECONDS", 3600, time.Second),
		LockTTL:             getEnvDuration("LOCK_TTL_SECONDS", 60, time.Second),
		ReaperInterval:      getEnvDuration("REAPER_INTERVAL_SECONDS", 300, time.Second),
		ReaperGrace:         getEnvDuration("REAPER_GRACE_HOURS", 24, time.Hour),
		StaleRequestTimeout: getEnvDuration("STALE_REQUEST_TIMEOUT_MINUTES", 15, time.Minute),

		ValkeyAddr:     os.Getenv("VALKEY_ADDR"),
		ValkeyPassword: os.Getenv("VALKEY_PASSWORD"),
		ValkeyDB:       getEnvInt("VALKEY_DB", 0),
		ValkeyPrefix:   getEnv("VALKEY_PREFIX", "preview"),

		WatermarkPath:     os.Getenv("WATERMARK_PATH"),
		StyleRegistryPath: os.Getenv("STYLE_REGISTRY_PATH"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		DefaultLocale:    strings.ToLower(getEnv("DEFAULT_LOCALE", "en")),
	}

	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	cfg.ImageSourceAllowlist = buildAllowlist(cfg.PublicBaseURL, os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST"))

	switch cfg.CacheBackend {
	case CacheBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case CacheBackendMemory:
	default:
		return nil, fmt.Errorf("CACHE_BACKEND must be %q or %q", CacheBackendPostgres, CacheBackendMemory)
	}

	if cfg.StorageSigningKey == "" {
		return nil, fmt.Errorf("STORAGE_SIGNING_KEY is required")
	}

	if cfg.AsyncEnabled && cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required when ASYNC_ENABLED is set")
	}

	// Polling must fit inside the request deadline.
	if budget := time.Duration(cfg.PollMaxAttempts) * (cfg.PollInterval + cfg.PollJitter); budget > cfg.RequestTimeout {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS x POLL_INTERVAL_MS (%s) exceeds PREVIEW_REQUEST_TIMEOUT_SECONDS (%s)", budget, cfg.RequestTimeout)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	return unit * time.Duration(getEnvInt(key, fallback))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// buildAllowlist always admits the public host so pre-uploaded assets served
// by this service can be referenced by URL.
func buildAllowlist(publicBaseURL, extra string) []string {
	seen := map[string]struct{}{}
	if u, err := url.Parse(publicBaseURL); err == nil && u.Hostname() != "" {
		seen[strings.ToLower(u.Hostname())] = struct{}{}
	}
	for _, host := range splitList(extra) {
		seen[strings.ToLower(host)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
