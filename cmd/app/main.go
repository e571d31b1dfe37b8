// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"course-checkout/internal/config"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/domain/ports/repository"
	"course-checkout/internal/infra/adapters/purchaseapi"
	pg "course-checkout/internal/infra/db/postgres"
	"course-checkout/internal/infra/i18n"
	"course-checkout/internal/infra/logging"
	"course-checkout/internal/infra/metrics"
	red "course-checkout/internal/infra/redis"
	"course-checkout/internal/infra/session"
	"course-checkout/internal/usecase"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

const usage = `usage: app [-config config.yaml] [-dev] <command> [args]

commands:
  start <journey> <CREDIT_CARD|BANK_TRANSFER>
  confirm <purchase> card <number> <MM/YY> <cvv> <cardholder name>
  confirm <purchase> bank <bank code> <account number> <account name>
  cancel <purchase>
  get <purchase>
  pending <journey>
  watch <purchase>
  session
  reconcile
  serve
`

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no redaction)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer a.Close()

	if err := a.dispatch(ctx, flag.Args()); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, ue.Error())
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, a.tr.Error(err))
		logger.Debug().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app holds the wired dependencies shared by every command.
type app struct {
	cfg *config.Config
	log *zerolog.Logger
	tr  *i18n.Translator

	jar  http.CookieJar
	base *url.URL
	gate *session.Gate

	gateway   adapter.PurchaseGateway
	guard     *usecase.ExpiryGuard
	purchases usecase.PurchaseUseCase

	// Optional; nil when the section is not configured.
	transitions repository.TransitionRepository
	tm          repository.TransactionManager
	locker      red.Locker
	limiter     *red.RateLimiter

	closers []func()
}

func build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Locale)
	if err != nil {
		return nil, err
	}
	a.tr = tr

	// ---- Session + HTTP ----
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client, base, err := purchaseapi.NewHTTPClient(cfg.API, jar)
	if err != nil {
		return nil, err
	}
	session.Seed(jar, base, map[string]string{
		cfg.Session.CookieName:  cfg.Session.CookieValue,
		cfg.Session.RefreshName: cfg.Session.RefreshValue,
	})
	a.jar, a.base = jar, base
	a.gate = session.NewGate(purchaseapi.NewRefresher(client), cfg.API.Timeout, logger)

	var gateway adapter.PurchaseGateway = purchaseapi.NewGateway(client, a.gate, logger)

	// ---- Redis (optional settled-purchase cache, reconciler lock, confirm limiter) ----
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		gateway = red.NewCachedGateway(gateway, rc, cfg.Redis.TTL, logger)
		a.locker = red.NewLocker(rc)
		a.limiter = red.NewRateLimiter(rc)
	}
	a.gateway = gateway

	// ---- Postgres (optional transition journal) ----
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		a.transitions = pg.NewTransitionRepo(pool)
		a.tm = pg.NewTxManager(pool)
	}

	// ---- Use cases ----
	a.guard = usecase.NewExpiryGuard(gateway, logger)
	poller := usecase.NewStatusPoller(gateway, logger)
	a.purchases = usecase.NewPurchaseUseCase(gateway, a.guard, poller, a.transitions, a.tm, logger)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
