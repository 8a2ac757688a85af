package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestPredictionToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " r8_abc123 "})
	key, err := store.PredictionToken(context.Background())
	if err != nil {
		t.Fatalf("PredictionToken error: %v", err)
	}
	if key != "r8_abc123" {
		t.Fatalf("expected r8_abc123, got %q", key)
	}
}

func TestPredictionToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.PredictionToken(context.Background())
	if err != nil {
		t.Fatalf("PredictionToken error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestSetPredictionToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetPredictionToken(context.Background(), "secret", "black-forest-labs/flux-kontext-pro"); err != nil {
		t.Fatalf("SetPredictionToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderPrediction {
		t.Fatalf("expected provider argument, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
	if raw, ok := exec.exec.args[2].([]byte); !ok || string(raw) != `{"model":"black-forest-labs/flux-kontext-pro"}` {
		t.Fatalf("unexpected properties %T %s", exec.exec.args[2], exec.exec.args[2])
	}
}

func TestSetPredictionTokenEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetPredictionToken(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestResolvePrefersConfiguredToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: "stored"})
	token, err := store.Resolve(context.Background(), " from-env ")
	if err != nil || token != "from-env" {
		t.Fatalf("expected from-env, got %q err=%v", token, err)
	}

	token, err = store.Resolve(context.Background(), "")
	if err != nil || token != "stored" {
		t.Fatalf("expected stored, got %q err=%v", token, err)
	}

	var none *Store
	if token, err := none.Resolve(context.Background(), ""); err != nil || token != "" {
		t.Fatalf("nil store should resolve to empty, got %q err=%v", token, err)
	}
}

func TestResolveWrapsErrors(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("connection reset")})
	if _, err := store.Resolve(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
}
