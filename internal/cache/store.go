// Package cache maps cache keys to generated previews held in object storage.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Index persists CacheRecords. Get returns (nil, nil) when the key is absent.
// IncrementHit must be atomic at the storage layer.
type Index interface {
	Get(ctx context.Context, key string) (*domain.CacheRecord, error)
	Upsert(ctx context.Context, rec domain.CacheRecord) error
	IncrementHit(ctx context.Context, key string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) ([]domain.CacheRecord, error)
}

// Metadata describes an asset handed to Put.
type Metadata struct {
	Width       int
	Height      int
	ContentType string
}

// Options configures a Store.
type Options struct {
	Bucket string
	TTL    time.Duration
	Logger *infra.Logger
	Now    func() time.Time

	// RetireAfter delays deleting a superseded object so URLs already signed
	// for it stay valid. Zero deletes it as soon as the new record is stored.
	RetireAfter time.Duration
}

// Store is the cache facade used by the orchestrator.
type Store struct {
	index   Index
	objects storage.ObjectStore
	bucket  string
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	retireAfter time.Duration
}

// NewStore wires an index to an object store.
func NewStore(index Index, objects storage.ObjectStore, opts Options) *Store {
	s := &Store{
		index:   index,
		objects: objects,
		bucket:  opts.Bucket,
		ttl:     opts.TTL,
		now:     opts.Now,
		logger:  zerolog.Nop(),

		retireAfter: opts.RetireAfter,
	}
	if s.bucket == "" {
		s.bucket = "previews"
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.logger = infra.NewComponentLogger(*opts.Logger, "cache")
	}
	return s
}

// Lookup returns the record for key. fresh is false when the record is absent
// or past its expiry; an expired record is still returned so the caller can
// inspect it, but it must not be served as a hit.
func (s *Store) Lookup(ctx context.Context, key string) (*domain.CacheRecord, bool, error) {
	rec, err := s.index.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache: lookup %s: %w", key, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, !rec.Expired(s.now()), nil
}

// Put writes data under a path unique to this generation of key and upserts
// the record. Concurrent writers for the same key converge on one row; each
// writes its own object, so a reap of an older generation can never remove
// the object a fresh row points at. The predecessor's object is retired once
// the new row is in place.
func (s *Store) Put(ctx context.Context, key string, data []byte, meta Metadata) (*domain.CacheRecord, error) {
	if key == "" {
		return nil, errors.New("cache: key is required")
	}
	if len(data) == 0 {
		return nil, errors.New("cache: empty asset")
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	now := s.now().UTC()
	path := ObjectPath(key, now, contentType)
	if err := s.objects.Put(ctx, s.bucket, path, data, contentType); err != nil {
		return nil, fmt.Errorf("cache: write object: %w", err)
	}

	prev, err := s.index.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("cache: read previous record failed")
		prev = nil
	}

	rec := domain.CacheRecord{
		Key:            key,
		Bucket:         s.bucket,
		Path:           path,
		Width:          meta.Width,
		Height:         meta.Height,
		Bytes:          int64(len(data)),
		ContentType:    contentType,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if s.ttl > 0 {
		rec.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.index.Upsert(ctx, rec); err != nil {
		_ = s.objects.Delete(ctx, s.bucket, path)
		return nil, fmt.Errorf("cache: upsert %s: %w", key, err)
	}

	if prev != nil && prev.Path != path {
		s.retire(ctx, *prev)
	}

	s.logger.Info().
		Str("cache_key", key).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("cache put")
	return &rec, nil
}

// Touch records a hit. Failures are logged and swallowed.
func (s *Store) Touch(ctx context.Context, key string) {
	if err := s.index.IncrementHit(ctx, key, s.now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("cache touch failed")
	}
}

// SignedURL issues a time-limited URL for rec. Any failure wraps
// domain.ErrSigningFailed so callers can fail closed.
func (s *Store) SignedURL(rec *domain.CacheRecord, ttl time.Duration) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: no record", domain.ErrSigningFailed)
	}
	url, err := s.objects.SignURL(rec.Bucket, rec.Path, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	return url, nil
}

// Read returns the stored bytes for rec.
func (s *Store) Read(ctx context.Context, rec *domain.CacheRecord) ([]byte, error) {
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	data, err := s.objects.Get(ctx, rec.Bucket, rec.Path)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, domain.ErrNotFound
	}
	return data, err
}

// Reap deletes records that expired before cutoff together with their
// objects, returning the number of records removed.
func (s *Store) Reap(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := s.index.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: delete expired: %w", err)
	}
	for _, rec := range removed {
		if err := s.objects.Delete(ctx, rec.Bucket, rec.Path); err != nil {
			s.logger.Warn().Err(err).Str("cache_key", rec.Key).Msg("delete expired object failed")
		}
	}
	return len(removed), nil
}

// retire deletes a superseded object, after retireAfter when set. Only the
// current record's path is ever signed, so once the delay covers the signed
// URL lifetime no live URL points at the retired object. A restart inside the
// delay leaves the file behind.
func (s *Store) retire(ctx context.Context, rec domain.CacheRecord) {
	del := func(ctx context.Context) {
		if err := s.objects.Delete(ctx, rec.Bucket, rec.Path); err != nil {
			s.logger.Warn().Err(err).Str("cache_key", rec.Key).Msg("cache: delete superseded object failed")
		}
	}
	if s.retireAfter <= 0 {
		del(context.WithoutCancel(ctx))
		return
	}
	time.AfterFunc(s.retireAfter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		del(ctx)
	})
}

// ObjectPath is the storage path of one generation of key, sharded on the
// first two characters of the key.
func ObjectPath(key string, generatedAt time.Time, contentType string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return shard + "/" + key + "-" + strconv.FormatInt(generatedAt.UnixNano(), 36) + extension(contentType)
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
