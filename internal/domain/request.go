package domain

import "time"

// PreviewRequest is the persisted state of an asynchronous preview, keyed by
// request id and completed by the provider webhook.
type PreviewRequest struct {
	RequestID     string
	CacheKey      string
	UserID        string
	StyleID       string
	AspectRatio   AspectRatio
	Quality       QualityTier
	Watermarked   bool
	ProviderJobID string
	Status        JobStatus
	ErrorKind     ErrorKind
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
