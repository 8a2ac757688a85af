package preview

import (
	"context"
	"sort"
	"sync"
	"time"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/sqlinline"
)

// StatusStore persists asynchronous preview requests so the webhook and the
// status endpoint can find them. Get returns domain.ErrNotFound for unknown
// ids; FindPending returns (nil, nil) when nothing is in flight for the key.
// Complete reports false when the row was already terminal.
type StatusStore interface {
	Create(ctx context.Context, pr domain.PreviewRequest) error
	Get(ctx context.Context, requestID string) (*domain.PreviewRequest, error)
	FindPending(ctx context.Context, cacheKey string) (*domain.PreviewRequest, error)
	AttachJob(ctx context.Context, requestID, jobID string, status domain.JobStatus) error
	Complete(ctx context.Context, requestID string, status domain.JobStatus, kind domain.ErrorKind, message string) (bool, error)
	ExpireStale(ctx context.Context, before time.Time) (int64, error)
}

// PGStatusStore keeps requests in the preview_requests table.
type PGStatusStore struct {
	sql infra.SQLExecutor
}

func NewPGStatusStore(sql infra.SQLExecutor) *PGStatusStore {
	return &PGStatusStore{sql: sql}
}

func (p *PGStatusStore) Create(ctx context.Context, pr domain.PreviewRequest) error {
	_, err := p.sql.Exec(ctx, sqlinline.QInsertPreviewRequest,
		pr.RequestID,
		pr.CacheKey,
		pr.UserID,
		pr.StyleID,
		string(pr.AspectRatio),
		string(pr.Quality),
		pr.Watermarked,
		pr.ProviderJobID,
		string(pr.Status),
		pr.CreatedAt,
	)
	return err
}

func (p *PGStatusStore) Get(ctx context.Context, requestID string) (*domain.PreviewRequest, error) {
	return p.scanOne(ctx, sqlinline.QSelectPreviewRequest, requestID)
}

func (p *PGStatusStore) FindPending(ctx context.Context, cacheKey string) (*domain.PreviewRequest, error) {
	pr, err := p.scanOne(ctx, sqlinline.QSelectPendingPreviewRequest, cacheKey)
	if err == domain.ErrNotFound {
		return nil, nil
	}
	return pr, err
}

func (p *PGStatusStore) scanOne(ctx context.Context, query string, arg any) (*domain.PreviewRequest, error) {
	var (
		pr                             domain.PreviewRequest
		aspect, quality, status, kind string
	)
	err := p.sql.QueryRow(ctx, query, arg).Scan(
		&pr.RequestID,
		&pr.CacheKey,
		&pr.UserID,
		&pr.StyleID,
		&aspect,
		&quality,
		&pr.Watermarked,
		&pr.ProviderJobID,
		&status,
		&kind,
		&pr.ErrorMessage,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	pr.AspectRatio = domain.AspectRatio(aspect)
	pr.Quality = domain.QualityTier(quality)
	pr.Status = domain.JobStatus(status)
	pr.ErrorKind = domain.ErrorKind(kind)
	return &pr, nil
}

func (p *PGStatusStore) AttachJob(ctx context.Context, requestID, jobID string, status domain.JobStatus) error {
	_, err := p.sql.Exec(ctx, sqlinline.QAttachProviderJob, requestID, jobID, string(status))
	return err
}

func (p *PGStatusStore) Complete(ctx context.Context, requestID string, status domain.JobStatus, kind domain.ErrorKind, message string) (bool, error) {
	tag, err := p.sql.Exec(ctx, sqlinline.QCompletePreviewRequest, requestID, string(status), string(kind), message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PGStatusStore) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.sql.Exec(ctx, sqlinline.QExpireStalePreviewRequests, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MemoryStatusStore is the single-process StatusStore used with the memory
// cache backend and in tests.
type MemoryStatusStore struct {
	mu   sync.Mutex
	rows map[string]*domain.PreviewRequest
	now  func() time.Time
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{rows: map[string]*domain.PreviewRequest{}, now: time.Now}
}

func (m *MemoryStatusStore) Create(_ context.Context, pr domain.PreviewRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr.UpdatedAt.IsZero() {
		pr.UpdatedAt = pr.CreatedAt
	}
	m.rows[pr.RequestID] = &pr
	return nil
}

func (m *MemoryStatusStore) Get(_ context.Context, requestID string) (*domain.PreviewRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.rows[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (m *MemoryStatusStore) FindPending(_ context.Context, cacheKey string) (*domain.PreviewRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*domain.PreviewRequest
	for _, pr := range m.rows {
		if pr.CacheKey == cacheKey && !pr.Status.Terminal() {
			pending = append(pending, pr)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.After(pending[j].CreatedAt) })
	cp := *pending[0]
	return &cp, nil
}

func (m *MemoryStatusStore) AttachJob(_ context.Context, requestID, jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.rows[requestID]
	if !ok || pr.Status.Terminal() {
		return nil
	}
	pr.ProviderJobID = jobID
	pr.Status = status
	pr.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStatusStore) Complete(_ context.Context, requestID string, status domain.JobStatus, kind domain.ErrorKind, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.rows[requestID]
	if !ok || pr.Status.Terminal() {
		return false, nil
	}
	pr.Status = status
	pr.ErrorKind = kind
	pr.ErrorMessage = message
	pr.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStatusStore) ExpireStale(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, pr := range m.rows {
		if !pr.Status.Terminal() && pr.UpdatedAt.Before(before) {
			pr.Status = domain.JobStatusFailed
			pr.ErrorKind = domain.ErrorTimeout
			pr.ErrorMessage = "no provider callback received"
			pr.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

var (
	_ StatusStore = (*PGStatusStore)(nil)
	_ StatusStore = (*MemoryStatusStore)(nil)
)
