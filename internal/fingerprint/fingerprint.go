// Package fingerprint derives the content-addressed cache key of a preview.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"canvaspreview/internal/domain"
)

// version is mixed into every fingerprint so the derivation can be changed
// without colliding with keys written by an older build.
const version = "v1"

// Fingerprint is a hex encoded SHA-256 over the canonical generation inputs.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// ContentHash hashes the normalized image bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Compute returns the fingerprint of one unit of generation work. Each field
// is written as a labelled line so the result depends only on the values and
// never on how the caller assembled them.
func Compute(contentHash, styleID string, aspect domain.AspectRatio, quality domain.QualityTier) Fingerprint {
	var b strings.Builder
	b.WriteString(version)
	b.WriteByte('\n')
	writeField(&b, "content", strings.ToLower(contentHash))
	writeField(&b, "style", styleID)
	writeField(&b, "aspect", string(aspect))
	writeField(&b, "quality", string(quality))
	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(strings.TrimSpace(value))
	b.WriteByte('\n')
}

// Variant names the stored rendition of a fingerprint.
type Variant string

const (
	VariantWatermarked Variant = "wm"
	VariantClean       Variant = "clean"
)

// VariantFor picks the rendition for a watermark decision.
func VariantFor(watermarked bool) Variant {
	if watermarked {
		return VariantWatermarked
	}
	return VariantClean
}

// Key is the cache and single-flight key: the fingerprint plus the
// rendition, so watermarked and clean outputs never share a slot.
func Key(fp Fingerprint, v Variant) string {
	return string(fp) + "-" + string(v)
}

// IsContentHash reports whether s looks like a hex SHA-256 digest.
func IsContentHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
