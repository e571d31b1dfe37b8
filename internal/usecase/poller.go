package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/infra/metrics"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 30
)

// PollOutcome says why a poll stopped. Exhausted is inconclusive: the
// purchase was still PENDING when the attempt budget ran out.
type PollOutcome string

const (
	PollRunning   PollOutcome = ""
	PollTerminal  PollOutcome = "terminal"
	PollExhausted PollOutcome = "exhausted"
	PollFailed    PollOutcome = "failed"
	PollCancelled PollOutcome = "cancelled"
)

type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	// Disabled returns a finished handle without fetching.
	Disabled bool
	// OnStatusChange fires once per distinct observed status, including the first.
	OnStatusChange func(p *model.Purchase, prev model.PurchaseStatus)
	// OnError fires once when a fetch fails; polling stops afterwards.
	OnError func(err error)
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultPollMaxAttempts
	}
	return o
}

// PollSnapshot is a copy of a poll's observable state.
type PollSnapshot struct {
	PurchaseID string
	Purchase   *model.Purchase
	Status     model.PurchaseStatus
	Attempts   int
	Fetched    bool
	Outcome    PollOutcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (s PollSnapshot) Done() bool { return s.Outcome != PollRunning }

// StatusPoller polls GetPurchase until the purchase is terminal, the attempt
// budget is spent, a fetch fails, or the poll is cancelled.
type StatusPoller struct {
	gateway adapter.PurchaseGateway
	now     func() time.Time
	log     *zerolog.Logger
}

func NewStatusPoller(gateway adapter.PurchaseGateway, logger *zerolog.Logger) *StatusPoller {
	l := logger.With().Str("component", "StatusPoller").Logger()
	return &StatusPoller{gateway: gateway, now: time.Now, log: &l}
}

// WithClock replaces the clock used to reclassify lapsed pending purchases.
func (s *StatusPoller) WithClock(now func() time.Time) *StatusPoller {
	if now != nil {
		s.now = now
	}
	return s
}

// Start issues the first fetch immediately and keeps polling in a single
// goroutine. The first fetch counts as attempt one, so at most MaxAttempts
// fetches are made.
func (s *StatusPoller) Start(ctx context.Context, purchaseID string, opts PollOptions) *PollHandle {
	opts = opts.withDefaults()
	h := &PollHandle{
		id:   purchaseID,
		opts: opts,
		done: make(chan struct{}),
		snap: PollSnapshot{PurchaseID: purchaseID, StartedAt: s.now()},
	}
	if purchaseID == "" || opts.Disabled {
		h.snap.Outcome = PollCancelled
		h.snap.FinishedAt = h.snap.StartedAt
		h.cancel = func() {}
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.live = true
	go s.run(ctx, h)
	return h
}

func (s *StatusPoller) run(ctx context.Context, h *PollHandle) {
	defer close(h.done)
	defer h.cancel()

	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	s.loop(ctx, h, ticker.C)

	snap := h.Snapshot()
	metrics.ObservePoll(string(snap.Outcome), snap.Attempts)
	s.log.Debug().
		Str("purchase_id", snap.PurchaseID).
		Str("outcome", string(snap.Outcome)).
		Str("status", string(snap.Status)).
		Int("attempts", snap.Attempts).
		Msg("poll finished")
}

func (s *StatusPoller) loop(ctx context.Context, h *PollHandle, tick <-chan time.Time) {
	for !s.poll(ctx, h) {
		select {
		case <-ctx.Done():
			h.finish(PollCancelled, s.now())
			return
		case <-tick:
		}
	}
}

// poll performs one fetch and applies it. It reports whether polling is over.
func (s *StatusPoller) poll(ctx context.Context, h *PollHandle) bool {
	seq, ok := h.issue()
	if !ok {
		return true
	}

	p, err := s.gateway.GetPurchase(ctx, h.id)
	now := s.now()

	if err != nil {
		if !h.apply(seq, func(sn *PollSnapshot) {
			sn.Fetched = true
			sn.Err = err
		}) {
			return true
		}
		if ctx.Err() != nil {
			h.finish(PollCancelled, now)
			return true
		}
		s.log.Warn().Err(err).Str("purchase_id", h.id).Bool("retryable", domain.IsRetryable(err)).Msg("status fetch failed")
		h.dispatch(func() {
			if h.opts.OnError != nil {
				h.opts.OnError(err)
			}
		})
		h.finish(PollFailed, now)
		return true
	}

	p = Reclassify(p, now)
	var prev model.PurchaseStatus
	changed := false
	if !h.apply(seq, func(sn *PollSnapshot) {
		prev = sn.Status
		changed = prev != p.Status
		sn.Purchase = p
		sn.Status = p.Status
		sn.Fetched = true
		sn.Err = nil
	}) {
		return true
	}

	if changed {
		h.dispatch(func() {
			if h.opts.OnStatusChange != nil {
				h.opts.OnStatusChange(p, prev)
			}
		})
	}

	switch {
	case p.Status.IsTerminal():
		h.finish(PollTerminal, now)
		return true
	case h.Snapshot().Attempts >= h.opts.MaxAttempts:
		h.finish(PollExhausted, now)
		return true
	}
	return false
}

// PollHandle controls one running poll. Every mutation checks liveness and
// the fetch sequence under mu, so nothing changes after Cancel.
type PollHandle struct {
	id     string
	opts   PollOptions
	cancel context.CancelFunc
	done   chan struct{}

	// cbMu is held while a callback runs so Cancel can wait it out.
	cbMu sync.Mutex

	mu         sync.Mutex
	live       bool
	inCallback bool
	issued     uint64
	applied    uint64
	snap       PollSnapshot
}

func (h *PollHandle) issue() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return 0, false
	}
	h.issued++
	h.snap.Attempts++
	return h.issued, true
}

// apply runs fn on the snapshot when the handle is live and seq is newer
// than the last applied response.
func (h *PollHandle) apply(seq uint64, fn func(*PollSnapshot)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live || seq <= h.applied {
		return false
	}
	h.applied = seq
	fn(&h.snap)
	return true
}

func (h *PollHandle) dispatch(cb func()) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.mu.Lock()
	if !h.live {
		h.mu.Unlock()
		return
	}
	h.inCallback = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.inCallback = false
		h.mu.Unlock()
	}()
	cb()
}

func (h *PollHandle) finish(outcome PollOutcome, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return
	}
	h.live = false
	h.snap.Outcome = outcome
	h.snap.FinishedAt = at
}

// Cancel stops the poll. Once it returns no new callback starts and the
// snapshot no longer changes. It may be called from inside a callback; a
// callback already running when Cancel is called is not waited for.
func (h *PollHandle) Cancel() {
	h.finish(PollCancelled, time.Now())
	h.cancel()

	h.mu.Lock()
	running := h.inCallback
	h.mu.Unlock()
	if running {
		return
	}
	// A dispatch holding cbMu but not yet in its callback sees the handle
	// dead and returns.
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
}

// Done is closed once the poll goroutine has exited.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the poll finishes or ctx ends.
func (h *PollHandle) Wait(ctx context.Context) (PollSnapshot, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

func (h *PollHandle) Snapshot() PollSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Result returns the last observed purchase, the outcome and the fetch
// error if the poll failed. The outcome is PollRunning while still active.
func (h *PollHandle) Result() (*model.Purchase, PollOutcome, error) {
	s := h.Snapshot()
	if s.Outcome == PollFailed {
		return s.Purchase, s.Outcome, s.Err
	}
	return s.Purchase, s.Outcome, nil
}
