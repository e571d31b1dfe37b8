package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/infra/metrics"
)

const defaultRefreshTimeout = 15 * time.Second

// Gate serializes session refreshes: however many requests hit a 401 at the
// same time, one refresh request is sent and every caller gets its result.
//
// Build one Gate per process and share it between every transport that uses
// the same session. The in-progress flag and the shared flight are only
// touched through EnsureFreshSession.
type Gate struct {
	refresher adapter.SessionRefresher
	timeout   time.Duration
	log       *zerolog.Logger

	mu         sync.Mutex
	inProgress bool
	current    *flight
}

// flight is the shared handle for one refresh request.
type flight struct {
	done    chan struct{}
	err     error
	waiters int
}

func NewGate(refresher adapter.SessionRefresher, timeout time.Duration, logger *zerolog.Logger) *Gate {
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	l := logger.With().Str("component", "SessionGate").Logger()
	return &Gate{refresher: refresher, timeout: timeout, log: &l}
}

// EnsureFreshSession joins the in-flight refresh or starts one. The refresh
// runs detached from ctx: a caller that gives up stops waiting, the others
// still get the shared result.
func (g *Gate) EnsureFreshSession(ctx context.Context) error {
	g.mu.Lock()
	f := g.current
	if !g.inProgress {
		f = &flight{done: make(chan struct{})}
		g.inProgress = true
		g.current = f
		go g.run(f)
	}
	f.waiters++
	metrics.SetSessionRefreshWaiters(f.waiters)
	g.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		g.mu.Lock()
		if g.current == f {
			f.waiters--
			metrics.SetSessionRefreshWaiters(f.waiters)
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *Gate) run(f *flight) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	err := g.refresher.Refresh(ctx)
	metrics.IncSessionRefresh(err == nil)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrSessionExpired, err)
	}

	g.mu.Lock()
	f.err = err
	waiters := f.waiters
	g.inProgress = false
	g.current = nil
	metrics.SetSessionRefreshWaiters(0)
	g.mu.Unlock()
	close(f.done)

	if err != nil {
		g.log.Warn().Err(err).Int("waiters", waiters).Msg("session refresh failed")
		return
	}
	g.log.Debug().Int("waiters", waiters).Msg("session refreshed")
}

// InProgress reports whether a refresh request is in flight.
func (g *Gate) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inProgress
}

// Waiters returns how many callers are parked on the in-flight refresh.
func (g *Gate) Waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return 0
	}
	return g.current.waiters
}

// Send performs one attempt of a request and returns its HTTP status code.
// err is reserved for failures where no response arrived.
type Send func(ctx context.Context) (int, error)

// Do runs send; on a 401 it waits for a fresh session and retries exactly
// once. A refresh failure or a second 401 yields domain.ErrSessionExpired.
func (g *Gate) Do(ctx context.Context, send Send) (int, error) {
	status, err := send(ctx)
	if err != nil || status != http.StatusUnauthorized {
		return status, err
	}

	if rerr := g.EnsureFreshSession(ctx); rerr != nil {
		if ctx.Err() != nil {
			return status, ctx.Err()
		}
		metrics.IncSessionRetry("refresh_failed")
		return status, rerr
	}

	status, err = send(ctx)
	if err != nil {
		return status, err
	}
	if status == http.StatusUnauthorized {
		metrics.IncSessionRetry("unauthorized")
		return status, fmt.Errorf("%w: still unauthorized after refresh", domain.ErrSessionExpired)
	}
	metrics.IncSessionRetry("ok")
	return status, nil
}
