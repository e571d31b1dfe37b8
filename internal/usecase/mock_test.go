//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// fixedClock returns a clock frozen at t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func ptr[T any](v T) *T { return &v }

// =============================
// Adapters
// =============================

// ---- Mock PurchaseGateway ----

// MockGateway keeps purchases in memory and counts every call. Any ...Func
// field overrides the in-memory behavior for that call.
type MockGateway struct {
	mu        sync.Mutex
	purchases map[string]*model.Purchase
	seq       int
	calls     map[string]int

	CreatePurchaseFunc              func(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error)
	ConfirmPurchaseFunc             func(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error)
	CancelPurchaseFunc              func(ctx context.Context, purchaseID string) error
	GetPurchaseFunc                 func(ctx context.Context, purchaseID string) (*model.Purchase, error)
	GetPendingPurchaseByJourneyFunc func(ctx context.Context, journeyID string) (*model.Purchase, error)
}

var _ adapter.PurchaseGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{purchases: map[string]*model.Purchase{}, calls: map[string]int{}}
}

func (m *MockGateway) Put(p *model.Purchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.purchases[p.ID] = &cp
}

func (m *MockGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockGateway) count(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

func (m *MockGateway) CreatePurchase(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error) {
	m.count("create")
	if m.CreatePurchaseFunc != nil {
		return m.CreatePurchaseFunc(ctx, journeyID, method)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.JourneyID == journeyID && p.Status == model.PurchaseStatusPending {
			return nil, &domain.GatewayError{Kind: domain.KindConflict, Op: "create", StatusCode: 409, Err: domain.ErrPendingPurchaseExists}
		}
	}
	m.seq++
	id := fmt.Sprintf("p-%d", m.seq)
	m.purchases[id] = &model.Purchase{ID: id, JourneyID: journeyID, Amount: 4900, Currency: "USD", PaymentMethod: method, Status: model.PurchaseStatusPending}
	return &model.CreatedPurchase{ID: id, Amount: 4900, Currency: "USD"}, nil
}

func (m *MockGateway) ConfirmPurchase(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error) {
	m.count("confirm")
	if m.ConfirmPurchaseFunc != nil {
		return m.ConfirmPurchaseFunc(ctx, purchaseID, details)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[purchaseID]
	if !ok {
		return nil, &domain.GatewayError{Kind: domain.KindNotFound, Op: "confirm", StatusCode: 404}
	}
	if err := model.Transition(p, model.PurchaseStatusCompleted, time.Now(), ""); err != nil {
		return nil, &domain.GatewayError{Kind: domain.KindConflict, Op: "confirm", StatusCode: 409, Err: domain.ErrPurchaseTerminal}
	}
	cp := *p
	return &cp, nil
}

func (m *MockGateway) CancelPurchase(ctx context.Context, purchaseID string) error {
	m.count("cancel")
	if m.CancelPurchaseFunc != nil {
		return m.CancelPurchaseFunc(ctx, purchaseID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[purchaseID]
	if !ok {
		return &domain.GatewayError{Kind: domain.KindNotFound, Op: "cancel", StatusCode: 404}
	}
	if err := model.Transition(p, model.PurchaseStatusCancelled, time.Now(), ""); err != nil {
		return &domain.GatewayError{Kind: domain.KindConflict, Op: "cancel", StatusCode: 409, Err: domain.ErrPurchaseTerminal}
	}
	return nil
}

func (m *MockGateway) GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	m.count("get")
	if m.GetPurchaseFunc != nil {
		return m.GetPurchaseFunc(ctx, purchaseID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[purchaseID]
	if !ok {
		return nil, &domain.GatewayError{Kind: domain.KindNotFound, Op: "get", StatusCode: 404}
	}
	cp := *p
	return &cp, nil
}

func (m *MockGateway) GetPendingPurchaseByJourney(ctx context.Context, journeyID string) (*model.Purchase, error) {
	m.count("pending")
	if m.GetPendingPurchaseByJourneyFunc != nil {
		return m.GetPendingPurchaseByJourneyFunc(ctx, journeyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.JourneyID == journeyID && p.Status == model.PurchaseStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

// =============================
// Repositories
// =============================

// ---- Mock TransitionRepository ----

type MockTransitionRepo struct {
	mu   sync.Mutex
	rows []*model.PurchaseTransition

	AppendIfChangedFunc func(ctx context.Context, tx repository.Tx, t *model.PurchaseTransition) (bool, error)
}

var _ repository.TransitionRepository = (*MockTransitionRepo)(nil)

func NewMockTransitionRepo() *MockTransitionRepo { return &MockTransitionRepo{} }

func (r *MockTransitionRepo) latest(purchaseID string) *model.PurchaseTransition {
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].PurchaseID == purchaseID {
			return r.rows[i]
		}
	}
	return nil
}

func (r *MockTransitionRepo) AppendIfChanged(ctx context.Context, tx repository.Tx, t *model.PurchaseTransition) (bool, error) {
	if r.AppendIfChangedFunc != nil {
		return r.AppendIfChangedFunc(ctx, tx, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.latest(t.PurchaseID)
	if last != nil {
		if last.To == t.To {
			return false, nil
		}
		t.Follows(last.To)
		if t.JourneyID == "" {
			t.JourneyID = last.JourneyID
		}
	}
	cp := *t
	cp.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, &cp)
	return true, nil
}

func (r *MockTransitionRepo) LatestStatus(ctx context.Context, tx repository.Tx, purchaseID string) (model.PurchaseStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last := r.latest(purchaseID); last != nil {
		return last.To, nil
	}
	return "", domain.ErrNotFound
}

func (r *MockTransitionRepo) ListByPurchase(ctx context.Context, tx repository.Tx, purchaseID string) ([]*model.PurchaseTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PurchaseTransition
	for _, row := range r.rows {
		if row.PurchaseID == purchaseID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockTransitionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.PurchaseTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []*model.PurchaseTransition
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if seen[row.PurchaseID] {
			continue
		}
		seen[row.PurchaseID] = true
		if row.To == model.PurchaseStatusPending && row.ObservedAt.Before(cutoff) {
			cp := *row
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	mu    sync.Mutex
	count int

	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

func (m *MockTxManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
