package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/sqlinline"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type scanRow struct {
	scan func(dest ...any) error
}

func (r scanRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type fakeSQL struct {
	row       scanRow
	execTag   pgconn.CommandTag
	execErr   error
	lastQuery string
	lastArgs  []any
}

func (f *fakeSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.lastQuery, f.lastArgs = query, args
	return f.execTag, f.execErr
}

func (f *fakeSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.lastQuery, f.lastArgs = query, args
	return f.row
}

func (f *fakeSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPGIndexGetMissing(t *testing.T) {
	idx := NewPGIndex(&fakeSQL{})
	rec, err := idx.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got %#v %v", rec, err)
	}
}

func TestPGIndexGetScansRecord(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	sql := &fakeSQL{row: scanRow{scan: func(dest ...any) error {
		*dest[0].(*string) = "k1"
		*dest[1].(*string) = "previews"
		*dest[2].(*string) = "k1/k1.jpg"
		*dest[3].(*int) = 640
		*dest[4].(*int) = 480
		*dest[5].(*int64) = 1024
		*dest[6].(*string) = "image/jpeg"
		*dest[7].(*int64) = 7
		*dest[8].(*time.Time) = created
		*dest[9].(*time.Time) = created
		*dest[10].(**time.Time) = &expires
		return nil
	}}}

	rec, err := NewPGIndex(sql).Get(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sql.lastQuery != sqlinline.QSelectCacheEntry {
		t.Fatalf("unexpected query")
	}
	if rec.HitCount != 7 || rec.Width != 640 || !rec.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestPGIndexUpsertPassesNullExpiry(t *testing.T) {
	sql := &fakeSQL{}
	err := NewPGIndex(sql).Upsert(context.Background(), domain.CacheRecord{Key: "k1", Bucket: "previews", Path: "k1/k1.jpg"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !strings.Contains(sql.lastQuery, "greatest(preview_cache.hit_count") {
		t.Fatalf("upsert must not lower hit_count")
	}
	if got := sql.lastArgs[9].(*time.Time); got != nil {
		t.Fatalf("expected nil expiry, got %v", got)
	}
}

func TestPGIndexIncrementHit(t *testing.T) {
	sql := &fakeSQL{execTag: pgconn.NewCommandTag("UPDATE 1")}
	if err := NewPGIndex(sql).IncrementHit(context.Background(), "k1", time.Now()); err != nil {
		t.Fatalf("IncrementHit: %v", err)
	}
	if !strings.Contains(sql.lastQuery, "hit_count = hit_count + 1") {
		t.Fatalf("increment must be done in SQL")
	}

	sql.execTag = pgconn.NewCommandTag("UPDATE 0")
	if err := NewPGIndex(sql).IncrementHit(context.Background(), "k1", time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
