// Package entitlement resolves the caller's subscription tier.
package entitlement

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/middleware"
	"canvaspreview/internal/sqlinline"
)

// Lookup maps a user id to a tier. Implementations never fail: anything they
// cannot resolve is reported as free so the watermark stays on.
type Lookup interface {
	Tier(ctx context.Context, userID string) domain.EntitlementTier
}

// PGLookup reads users.plan.
type PGLookup struct {
	sql    infra.SQLExecutor
	logger zerolog.Logger
}

func NewPGLookup(sql infra.SQLExecutor, logger *infra.Logger) *PGLookup {
	l := &PGLookup{sql: sql, logger: zerolog.Nop()}
	if logger != nil {
		l.logger = infra.NewComponentLogger(*logger, "entitlement")
	}
	return l
}

func (p *PGLookup) Tier(ctx context.Context, userID string) domain.EntitlementTier {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.TierFree
	}
	var plan string
	if err := p.sql.QueryRow(ctx, sqlinline.QSelectUserPlan, userID).Scan(&plan); err != nil {
		if !infra.IsNoRows(err) {
			p.logger.Warn().Err(err).Str("user_id", userID).Msg("plan lookup failed, defaulting to free")
		}
		return domain.TierFree
	}
	return domain.ParseEntitlementTier(plan)
}

// ClaimsLookup trusts the plan claim placed on the context by the auth
// middleware and falls back to next when the token carried none.
type ClaimsLookup struct {
	next Lookup
}

func NewClaimsLookup(next Lookup) *ClaimsLookup {
	return &ClaimsLookup{next: next}
}

func (c *ClaimsLookup) Tier(ctx context.Context, userID string) domain.EntitlementTier {
	if plan := middleware.UserPlanFromContext(ctx); plan != "" {
		return domain.ParseEntitlementTier(plan)
	}
	if c.next == nil {
		return domain.TierFree
	}
	return c.next.Tier(ctx, userID)
}

// Static returns the same tier for everyone.
type Static domain.EntitlementTier

func (s Static) Tier(context.Context, string) domain.EntitlementTier {
	return domain.ParseEntitlementTier(string(s))
}
