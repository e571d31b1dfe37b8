package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"course-checkout/internal/config"
	"course-checkout/internal/infra/i18n"
	"course-checkout/internal/infra/logging"
	"course-checkout/internal/infra/worker"
	"course-checkout/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Server is the local callback server: the return target for redirect
// gateways plus a small JSON API over the purchase use case.
type Server struct {
	purchases usecase.PurchaseUseCase
	tr        *i18n.Translator
	pool      *worker.Pool
	watches   *watchRegistry

	port       int
	returnPath string
	loginURL   string
	poll       usecase.PollOptions

	limiter       RateLimiter // optional
	confirmLimit  int
	confirmWindow time.Duration

	log *zerolog.Logger
}

// RateLimiter caps attempts per key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func NewServer(
	purchases usecase.PurchaseUseCase,
	tr *i18n.Translator,
	pool *worker.Pool,
	cfg *config.Config,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "CallbackServer").Logger()
	return &Server{
		purchases:  purchases,
		tr:         tr,
		pool:       pool,
		watches:    newWatchRegistry(cfg.Web.WatchTTL),
		port:       cfg.Web.Port,
		returnPath: cfg.Web.ReturnPath,
		loginURL:   cfg.Session.LoginURL,
		poll:       usecase.PollOptions{Interval: cfg.Poll.Interval, MaxAttempts: cfg.Poll.MaxAttempts},

		confirmLimit:  cfg.Web.ConfirmLimit,
		confirmWindow: cfg.Web.ConfirmWindow,
		log:           &l,
	}
}

// WithRateLimiter limits confirm attempts per purchase.
func (s *Server) WithRateLimiter(l RateLimiter) *Server {
	s.limiter = l
	return s
}

// Routes builds the router. The return page path comes from web.return_path.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get(s.returnPath, s.handleReturn)

	r.Route("/api", func(r chi.Router) {
		r.Post("/journeys/{journeyID}/purchases", s.handleStart)
		r.Route("/purchases/{id}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/confirm", s.handleConfirm)
			r.Post("/cancel", s.handleCancel)
		})
	})
	return r
}

// Run serves until ctx ends, then shuts the listener down and stops the
// worker pool. Watches started by the return page run on ctx.
func (s *Server) Run(ctx context.Context) error {
	s.pool.Start(ctx)
	defer s.pool.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.port).Str("return_path", s.returnPath).Msg("callback server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("callback server shutdown")
		}
		s.log.Info().Msg("callback server stopped")
		return ctx.Err()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags every request with a trace id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set("X-Trace-Id", traceID)
		ctx := logging.WithTraceID(r.Context(), traceID)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		logging.With(ctx, s.log).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
