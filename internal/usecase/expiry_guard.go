package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
)

const defaultCountdownTick = time.Second

// FilterPending returns p when it is effectively pending at now and nil
// otherwise. A PENDING record past ExpiresAt is hidden even though the
// server has not moved it yet.
func FilterPending(p *model.Purchase, now time.Time) *model.Purchase {
	if !p.EffectivelyPending(now) {
		return nil
	}
	return p
}

// Reclassify returns the purchase as the client should show it: a PENDING
// record past ExpiresAt is reported as EXPIRED. The input is never modified.
func Reclassify(p *model.Purchase, now time.Time) *model.Purchase {
	if p == nil || p.Status != model.PurchaseStatusPending || p.EffectivelyPending(now) {
		return p
	}
	cp := *p
	_ = model.Transition(&cp, model.PurchaseStatusExpired, now, "")
	return &cp
}

// ExpiryGuard answers "is there a pending purchase for this journey" from a
// fresh gateway read every time. Nothing is cached here.
type ExpiryGuard struct {
	gateway adapter.PurchaseGateway
	now     func() time.Time
	log     *zerolog.Logger
}

func NewExpiryGuard(gateway adapter.PurchaseGateway, logger *zerolog.Logger) *ExpiryGuard {
	l := logger.With().Str("component", "ExpiryGuard").Logger()
	return &ExpiryGuard{gateway: gateway, now: time.Now, log: &l}
}

// WithClock replaces the clock used for expiry checks.
func (g *ExpiryGuard) WithClock(now func() time.Time) *ExpiryGuard {
	if now != nil {
		g.now = now
	}
	return g
}

// PendingForJourney returns the effectively pending purchase for the journey, or nil.
func (g *ExpiryGuard) PendingForJourney(ctx context.Context, journeyID string) (*model.Purchase, error) {
	p, err := g.gateway.GetPendingPurchaseByJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	visible := FilterPending(p, g.now())
	if p != nil && visible == nil {
		g.log.Debug().Str("purchase_id", p.ID).Str("journey_id", journeyID).Msg("hiding lapsed pending purchase")
	}
	return visible, nil
}

// NewPurchaseAllowed reports whether a new purchase may be started for the journey.
func (g *ExpiryGuard) NewPurchaseAllowed(ctx context.Context, journeyID string) (bool, error) {
	p, err := g.PendingForJourney(ctx, journeyID)
	if err != nil {
		return false, err
	}
	return p == nil, nil
}

// Countdown reports the remaining time of p to fn once immediately and then
// on every tick until it reaches zero, ctx ends or stop is called. It is a
// display aid only; gating decisions go through NewPurchaseAllowed.
func (g *ExpiryGuard) Countdown(ctx context.Context, p *model.Purchase, tick time.Duration, fn func(remaining time.Duration)) (stop func()) {
	if tick <= 0 {
		tick = defaultCountdownTick
	}
	quit := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(quit) }) }

	if p == nil || p.ExpiresAt == nil || fn == nil {
		stop()
		return stop
	}

	go func() {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			remaining := p.Remaining(g.now())
			select {
			case <-quit:
				return
			default:
			}
			fn(remaining)
			if remaining <= 0 {
				stop()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-t.C:
			}
		}
	}()
	return stop
}
