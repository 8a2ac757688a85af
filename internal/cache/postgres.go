package cache

import (
	"context"
	"time"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/sqlinline"
)

// PGIndex stores records in the preview_cache table.
type PGIndex struct {
	sql infra.SQLExecutor
}

func NewPGIndex(sql infra.SQLExecutor) *PGIndex {
	return &PGIndex{sql: sql}
}

func (p *PGIndex) Get(ctx context.Context, key string) (*domain.CacheRecord, error) {
	var (
		rec       domain.CacheRecord
		expiresAt *time.Time
	)
	err := p.sql.QueryRow(ctx, sqlinline.QSelectCacheEntry, key).Scan(
		&rec.Key,
		&rec.Bucket,
		&rec.Path,
		&rec.Width,
		&rec.Height,
		&rec.Bytes,
		&rec.ContentType,
		&rec.HitCount,
		&rec.CreatedAt,
		&rec.LastAccessedAt,
		&expiresAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}
	return &rec, nil
}

func (p *PGIndex) Upsert(ctx context.Context, rec domain.CacheRecord) error {
	var expiresAt *time.Time
	if !rec.ExpiresAt.IsZero() {
		expiresAt = &rec.ExpiresAt
	}
	_, err := p.sql.Exec(ctx, sqlinline.QUpsertCacheEntry,
		rec.Key,
		rec.Bucket,
		rec.Path,
		rec.Width,
		rec.Height,
		rec.Bytes,
		rec.ContentType,
		rec.HitCount,
		rec.CreatedAt,
		expiresAt,
	)
	return err
}

func (p *PGIndex) IncrementHit(ctx context.Context, key string, at time.Time) error {
	tag, err := p.sql.Exec(ctx, sqlinline.QTouchCacheEntry, key, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PGIndex) DeleteExpired(ctx context.Context, before time.Time) ([]domain.CacheRecord, error) {
	rows, err := p.sql.Query(ctx, sqlinline.QDeleteExpiredCacheEntries, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []domain.CacheRecord
	for rows.Next() {
		var rec domain.CacheRecord
		if err := rows.Scan(&rec.Key, &rec.Bucket, &rec.Path); err != nil {
			return nil, err
		}
		removed = append(removed, rec)
	}
	return removed, rows.Err()
}

var _ Index = (*PGIndex)(nil)
