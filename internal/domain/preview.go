package domain

import "strings"

// AspectRatio enumerates the canvas ratios a preview can be rendered at.
type AspectRatio string

const (
	Aspect1x1  AspectRatio = "1:1"
	Aspect2x3  AspectRatio = "2:3"
	Aspect3x2  AspectRatio = "3:2"
	Aspect3x4  AspectRatio = "3:4"
	Aspect4x3  AspectRatio = "4:3"
	Aspect16x9 AspectRatio = "16:9"
	Aspect9x16 AspectRatio = "9:16"
)

// namedAspectRatios holds the word aliases accepted from the configurator.
var namedAspectRatios = map[string]AspectRatio{
	"portrait":  Aspect2x3,
	"landscape": Aspect3x2,
	"square":    Aspect1x1,
}

var numericAspectRatios = map[AspectRatio]struct{}{
	Aspect1x1:  {},
	Aspect2x3:  {},
	Aspect3x2:  {},
	Aspect3x4:  {},
	Aspect4x3:  {},
	Aspect16x9: {},
	Aspect9x16: {},
}

// AspectRatioInputs lists every accepted inbound spelling.
func AspectRatioInputs() []string {
	return []string{"1:1", "2:3", "3:2", "3:4", "4:3", "16:9", "9:16", "portrait", "landscape", "square"}
}

// ParseAspectRatio canonicalizes named ratios onto their numeric form. The
// second return value is false when the input is not an accepted ratio.
func ParseAspectRatio(raw string) (AspectRatio, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if named, ok := namedAspectRatios[key]; ok {
		return named, true
	}
	ratio := AspectRatio(key)
	if _, ok := numericAspectRatios[ratio]; ok {
		return ratio, true
	}
	return "", false
}

// Dimensions returns the width and height factors of the ratio.
func (a AspectRatio) Dimensions() (int, int) {
	switch a {
	case Aspect2x3:
		return 2, 3
	case Aspect3x2:
		return 3, 2
	case Aspect3x4:
		return 3, 4
	case Aspect4x3:
		return 4, 3
	case Aspect16x9:
		return 16, 9
	case Aspect9x16:
		return 9, 16
	default:
		return 1, 1
	}
}

// QualityTier is the provider render quality requested by the caller.
type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityMedium QualityTier = "medium"
	QualityHigh   QualityTier = "high"
	QualityAuto   QualityTier = "auto"
)

// ParseQualityTier normalizes the quality field. Empty input defaults to auto.
func ParseQualityTier(raw string) (QualityTier, bool) {
	switch q := QualityTier(strings.ToLower(strings.TrimSpace(raw))); q {
	case "":
		return QualityAuto, true
	case QualityLow, QualityMedium, QualityHigh, QualityAuto:
		return q, true
	default:
		return "", false
	}
}

// SourceImage references the user photo. Exactly one of Data or StoragePath
// is set once the request has been validated.
type SourceImage struct {
	Data        []byte
	StoragePath string
	Width       int
	Height      int
	ContentHash string
}

// IsZero reports whether the source carries neither bytes nor a path.
func (s SourceImage) IsZero() bool {
	return len(s.Data) == 0 && strings.TrimSpace(s.StoragePath) == ""
}

// GenerationRequest is the validated, immutable description of one preview.
type GenerationRequest struct {
	Source            SourceImage
	StyleID           string
	AspectRatio       AspectRatio
	Quality           QualityTier
	WatermarkRequired bool
	CacheBypass       bool
	// ContentHash is an optional caller-supplied hash of the normalized image,
	// used to probe the cache before the image is fetched.
	ContentHash string
}
