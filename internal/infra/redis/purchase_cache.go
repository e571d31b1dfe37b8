package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/infra/metrics"
)

const purchaseCacheName = "purchase"

var _ adapter.PurchaseGateway = (*CachedGateway)(nil)

// CachedGateway caches GetPurchase results once the purchase is terminal.
// A terminal status never changes on the server, so such an entry cannot go
// stale. Anything still PENDING is always read from upstream, and
// GetPendingPurchaseByJourney is never cached: the "may a new purchase
// start" decision is taken from a fresh server read every time.
type CachedGateway struct {
	inner adapter.PurchaseGateway
	cache RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewCachedGateway(inner adapter.PurchaseGateway, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) *CachedGateway {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := logger.With().Str("component", "PurchaseCache").Logger()
	return &CachedGateway{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func purchaseKey(purchaseID string) string { return fmt.Sprintf("purchase:%s", purchaseID) }

func (d *CachedGateway) GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	key := purchaseKey(purchaseID)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p model.Purchase
		if json.Unmarshal([]byte(val), &p) == nil && p.Status.IsTerminal() {
			metrics.IncCacheRequest(purchaseCacheName, "hit")
			return &p, nil
		}
		_ = d.cache.Del(ctx, key)
	case !errors.Is(err, Nil):
		metrics.IncCacheRequest(purchaseCacheName, "error")
		d.log.Warn().Err(err).Str("purchase_id", purchaseID).Msg("purchase cache read")
	}

	metrics.IncCacheRequest(purchaseCacheName, "miss")
	p, err := d.inner.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, p)
	return p, nil
}

// store writes p when it is terminal.
func (d *CachedGateway) store(ctx context.Context, p *model.Purchase) {
	if p == nil || p.ID == "" || !p.Status.IsTerminal() {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, purchaseKey(p.ID), b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("purchase_id", p.ID).Msg("purchase cache write")
	}
}

func (d *CachedGateway) GetPendingPurchaseByJourney(ctx context.Context, journeyID string) (*model.Purchase, error) {
	return d.inner.GetPendingPurchaseByJourney(ctx, journeyID)
}

func (d *CachedGateway) CreatePurchase(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error) {
	return d.inner.CreatePurchase(ctx, journeyID, method)
}

func (d *CachedGateway) ConfirmPurchase(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error) {
	p, err := d.inner.ConfirmPurchase(ctx, purchaseID, details)
	if err == nil {
		d.store(ctx, p)
	}
	return p, err
}

func (d *CachedGateway) CancelPurchase(ctx context.Context, purchaseID string) error {
	return d.inner.CancelPurchase(ctx, purchaseID)
}
