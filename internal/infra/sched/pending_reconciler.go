package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-checkout/internal/config"
	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/domain/ports/repository"
	red "course-checkout/internal/infra/redis"
	"course-checkout/internal/infra/metrics"
	"course-checkout/internal/usecase"
)

const reconcilerLockKey = "lock:pending_reconciler"

// PendingReconciler periodically re-reads purchases whose last journaled
// status is PENDING and journals whatever the server (or the local expiry
// rule) says now. This covers watches that ended before the purchase settled.
type PendingReconciler struct {
	gateway     adapter.PurchaseGateway
	transitions repository.TransitionRepository
	tm          repository.TransactionManager
	locker      red.Locker // optional; nil runs every sweep unguarded

	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending observation must be to re-read
	batch      int

	now func() time.Time
	log *zerolog.Logger
}

func NewPendingReconciler(
	gateway adapter.PurchaseGateway,
	transitions repository.TransitionRepository,
	tm repository.TransactionManager,
	locker red.Locker,
	cfg config.ReconcilerConfig,
	logger *zerolog.Logger,
) *PendingReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	l := logger.With().Str("component", "PendingReconciler").Logger()
	return &PendingReconciler{
		gateway:     gateway,
		transitions: transitions,
		tm:          tm,
		locker:      locker,
		interval:    cfg.Interval,
		staleAfter:  cfg.StaleAfter,
		batch:       cfg.BatchSize,
		now:         time.Now,
		log:         &l,
	}
}

// WithClock replaces the clock used for cutoffs and expiry checks.
func (w *PendingReconciler) WithClock(now func() time.Time) *PendingReconciler {
	if now != nil {
		w.now = now
	}
	return w
}

func (w *PendingReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting pending reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping pending reconciler")
			return ctx.Err()
		case <-t.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("pending reconciler sweep")
			}
		}
	}
}

// Sweep runs one reconciliation pass and returns the number of transitions
// it journaled. A sweep skipped because another process holds the lock
// returns 0, nil.
func (w *PendingReconciler) Sweep(ctx context.Context) (n int, err error) {
	if w.locker != nil {
		token, lerr := w.locker.TryLock(ctx, reconcilerLockKey, w.interval)
		if errors.Is(lerr, red.ErrLockHeld) {
			w.log.Debug().Msg("another instance holds the reconciler lock")
			return 0, nil
		}
		if lerr != nil {
			metrics.IncReconcilerRun(false)
			return 0, lerr
		}
		defer func() {
			if uerr := w.locker.Unlock(context.WithoutCancel(ctx), reconcilerLockKey, token); uerr != nil {
				w.log.Warn().Err(uerr).Msg("release reconciler lock")
			}
		}()
	}
	defer func() { metrics.IncReconcilerRun(err == nil) }()

	now := w.now()
	stale, err := w.transitions.ListPendingOlderThan(ctx, repository.NoTX, now.Add(-w.staleAfter), w.batch)
	if err != nil {
		return 0, err
	}

	for _, last := range stale {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		p, gerr := w.gateway.GetPurchase(ctx, last.PurchaseID)
		if errors.Is(gerr, domain.ErrNotFound) {
			w.log.Warn().Str("purchase_id", last.PurchaseID).Msg("journaled purchase no longer exists upstream")
			continue
		}
		if gerr != nil {
			w.log.Error().Err(gerr).Str("purchase_id", last.PurchaseID).Msg("re-read pending purchase")
			continue
		}

		shown := usecase.Reclassify(p, now)
		t := &model.PurchaseTransition{
			PurchaseID: shown.ID,
			JourneyID:  shown.JourneyID,
			To:         shown.Status,
			Source:     model.SourceReconciler,
			ObservedAt: now,
		}
		wrote, rerr := usecase.RecordTransition(ctx, w.tm, w.transitions, t)
		if rerr != nil {
			w.log.Error().Err(rerr).Str("purchase_id", shown.ID).Msg("journal reconciled status")
			continue
		}
		if wrote {
			n++
			metrics.IncTransition(string(shown.Status), string(model.SourceReconciler))
			if t.Irregular {
				w.log.Warn().Str("purchase_id", shown.ID).Str("from", string(t.From)).Str("to", string(t.To)).Msg("reconciled transition outside the purchase state machine")
			} else {
				w.log.Info().Str("purchase_id", shown.ID).Str("status", string(shown.Status)).Msg("reconciled purchase")
			}
		}
	}
	return n, nil
}
