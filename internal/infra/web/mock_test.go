//go:build !integration

package web

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"course-checkout/internal/config"
	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/infra/i18n"
	"course-checkout/internal/infra/logging"
	"course-checkout/internal/infra/worker"
	"course-checkout/internal/usecase"
)

// memGateway is an in-memory purchase API. Any ...Func field overrides the
// default behavior for that call.
type memGateway struct {
	mu        sync.Mutex
	purchases map[string]*model.Purchase
	seq       int

	GetPurchaseFunc func(ctx context.Context, purchaseID string) (*model.Purchase, error)
}

var _ adapter.PurchaseGateway = (*memGateway)(nil)

func newMemGateway() *memGateway {
	return &memGateway{purchases: map[string]*model.Purchase{}}
}

func (g *memGateway) put(p *model.Purchase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *p
	g.purchases[p.ID] = &cp
}

func (g *memGateway) CreatePurchase(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.purchases {
		if p.JourneyID == journeyID && p.Status == model.PurchaseStatusPending {
			return nil, &domain.GatewayError{Kind: domain.KindConflict, Op: "create", StatusCode: 409, Err: domain.ErrPendingPurchaseExists}
		}
	}
	g.seq++
	id := fmt.Sprintf("p-%d", g.seq)
	g.purchases[id] = &model.Purchase{
		ID: id, JourneyID: journeyID, Amount: 4900, Currency: "USD",
		PaymentMethod: method, Status: model.PurchaseStatusPending,
	}
	return &model.CreatedPurchase{ID: id, Amount: 4900, Currency: "USD"}, nil
}

func (g *memGateway) ConfirmPurchase(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.purchases[purchaseID]
	if !ok {
		return nil, &domain.GatewayError{Kind: domain.KindNotFound, Op: "confirm", StatusCode: 404}
	}
	if err := model.Transition(p, model.PurchaseStatusCompleted, time.Now(), ""); err != nil {
		return nil, &domain.GatewayError{Kind: domain.KindConflict, Op: "confirm", StatusCode: 409, Err: err}
	}
	cp := *p
	return &cp, nil
}

func (g *memGateway) CancelPurchase(ctx context.Context, purchaseID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.purchases[purchaseID]
	if !ok {
		return &domain.GatewayError{Kind: domain.KindNotFound, Op: "cancel", StatusCode: 404}
	}
	if err := model.Transition(p, model.PurchaseStatusCancelled, time.Now(), ""); err != nil {
		return &domain.GatewayError{Kind: domain.KindConflict, Op: "cancel", StatusCode: 409, Err: err}
	}
	return nil
}

func (g *memGateway) GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	if g.GetPurchaseFunc != nil {
		return g.GetPurchaseFunc(ctx, purchaseID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.purchases[purchaseID]
	if !ok {
		return nil, &domain.GatewayError{Kind: domain.KindNotFound, Op: "get", StatusCode: 404}
	}
	cp := *p
	return &cp, nil
}

func (g *memGateway) GetPendingPurchaseByJourney(ctx context.Context, journeyID string) (*model.Purchase, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.purchases {
		if p.JourneyID == journeyID && p.Status == model.PurchaseStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

// newTestServer wires a Server over gw with a running worker pool. The pool
// stops when the test ends.
func newTestServer(t *testing.T, gw adapter.PurchaseGateway) *Server {
	t.Helper()
	log := logging.Nop()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatal(err)
	}
	uc := usecase.NewPurchaseUseCase(gw, usecase.NewExpiryGuard(gw, log), usecase.NewStatusPoller(gw, log), nil, nil, log)

	cfg := &config.Config{
		Session: config.SessionConfig{LoginURL: "/login"},
		Poll:    config.PollConfig{Interval: 10 * time.Millisecond, MaxAttempts: 5},
		Web:     config.WebConfig{Port: 0, ReturnPath: "/purchase/return", Workers: 2, WatchTTL: time.Minute, ConfirmWindow: time.Minute},
	}
	pool := worker.NewPool(cfg.Web.Workers, log)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})
	return NewServer(uc, tr, pool, cfg, log)
}
