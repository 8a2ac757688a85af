package domain

import "strings"

// EntitlementTier is the caller's subscription level. It decides whether a
// generated preview carries the brand watermark.
type EntitlementTier string

const (
	TierFree EntitlementTier = "free"
	TierPlus EntitlementTier = "plus"
	TierPro  EntitlementTier = "pro"
)

// ParseEntitlementTier maps a stored plan name onto a tier. Unknown plans are
// treated as free so that an unrecognised value never unlocks clean output.
func ParseEntitlementTier(plan string) EntitlementTier {
	switch EntitlementTier(strings.ToLower(strings.TrimSpace(plan))) {
	case TierPlus:
		return TierPlus
	case TierPro:
		return TierPro
	default:
		return TierFree
	}
}

// Unwatermarked reports whether the tier has paid for output without the mark.
func (t EntitlementTier) Unwatermarked() bool {
	return t == TierPlus || t == TierPro
}
