package domain

import "time"

// CacheRecord describes one generated preview stored under its cache key.
// Content never changes for a key; only the access counters move.
type CacheRecord struct {
	Key            string
	Bucket         string
	Path           string
	Width          int
	Height         int
	Bytes          int64
	ContentType    string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	HitCount       int64
}

// Expired reports whether the record is past its soft expiry at now.
func (r CacheRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
