package preview

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/fingerprint"
)

// Input is the inbound POST /preview body.
type Input struct {
	ImageURL    string `json:"imageUrl"`
	Style       string `json:"style"`
	AspectRatio string `json:"aspectRatio"`
	Quality     string `json:"quality,omitempty"`
	Watermark   *bool  `json:"watermark,omitempty"`
	CacheBypass bool   `json:"cacheBypass,omitempty"`
	// ContentHash optionally carries the sha256 of the normalized image so
	// the cache can be probed before the image is fetched.
	ContentHash string `json:"contentHash,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

// Validate checks the request shape and returns the canonical request. The
// error is an invalid_request classification safe to show to the caller.
func Validate(ctx context.Context, in Input, styles StyleResolver) (domain.GenerationRequest, error) {
	err := validation.ValidateStructWithContext(ctx, &in,
		validation.Field(&in.ImageURL, validation.Required),
		validation.Field(&in.Style, validation.Required, validation.By(knownStyle(styles))),
		validation.Field(&in.AspectRatio, validation.Required, validation.By(aspectRatio)),
		validation.Field(&in.Quality, validation.By(qualityTier)),
		validation.Field(&in.ContentHash, validation.By(contentHash)),
	)
	if err != nil {
		return domain.GenerationRequest{}, domain.Invalid(err.Error())
	}

	aspect, _ := domain.ParseAspectRatio(in.AspectRatio)
	quality, _ := domain.ParseQualityTier(in.Quality)
	return domain.GenerationRequest{
		Source:            domain.SourceImage{StoragePath: strings.TrimSpace(in.ImageURL)},
		StyleID:           strings.ToLower(strings.TrimSpace(in.Style)),
		AspectRatio:       aspect,
		Quality:           quality,
		WatermarkRequired: in.Watermark != nil && *in.Watermark,
		CacheBypass:       in.CacheBypass,
		ContentHash:       strings.ToLower(strings.TrimSpace(in.ContentHash)),
	}, nil
}

func knownStyle(styles StyleResolver) validation.RuleFunc {
	return func(value any) error {
		id, _ := value.(string)
		if id == "" || styles == nil {
			return nil
		}
		if !styles.Has(id) {
			return errors.New("unknown style")
		}
		return nil
	}
}

func aspectRatio(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	if _, ok := domain.ParseAspectRatio(raw); !ok {
		return errors.New("must be one of " + strings.Join(domain.AspectRatioInputs(), ", "))
	}
	return nil
}

func qualityTier(value any) error {
	raw, _ := value.(string)
	if _, ok := domain.ParseQualityTier(raw); !ok {
		return errors.New("must be one of low, medium, high, auto")
	}
	return nil
}

func contentHash(value any) error {
	raw, _ := value.(string)
	if raw == "" || fingerprint.IsContentHash(strings.ToLower(strings.TrimSpace(raw))) {
		return nil
	}
	return errors.New("must be a sha256 hex digest")
}
