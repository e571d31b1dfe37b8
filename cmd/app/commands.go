package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/infra/i18n"
	"course-checkout/internal/infra/logging"
	"course-checkout/internal/infra/sched"
	"course-checkout/internal/infra/session"
	"course-checkout/internal/infra/web"
	"course-checkout/internal/infra/worker"
	"course-checkout/internal/usecase"
)

type usageError string

func (e usageError) Error() string { return string(e) }

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	ctx = logging.WithTraceID(ctx, "")
	switch cmd {
	case "start":
		return a.cmdStart(ctx, rest)
	case "confirm":
		return a.cmdConfirm(ctx, rest)
	case "cancel":
		return a.cmdCancel(ctx, rest)
	case "get":
		return a.cmdGet(ctx, rest)
	case "pending":
		return a.cmdPending(ctx, rest)
	case "watch":
		return a.cmdWatch(ctx, rest)
	case "session":
		return a.cmdSession()
	case "reconcile":
		return a.cmdReconcile(ctx)
	case "serve":
		return a.cmdServe(ctx)
	}
	return usageError(fmt.Sprintf("unknown command %q", cmd))
}

func (a *app) cmdStart(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("start needs <journey> <method>")
	}
	created, err := a.purchases.Start(ctx, args[0], model.PaymentMethod(strings.ToUpper(args[1])))
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", created.ID, i18n.Amount(created.Amount, created.Currency))
	if created.CheckoutURL != nil {
		fmt.Println(*created.CheckoutURL)
	}
	return nil
}

func (a *app) cmdConfirm(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("confirm needs <purchase> card|bank ...")
	}
	id, kind, fields := args[0], args[1], args[2:]

	var details model.PaymentDetails
	switch kind {
	case "card":
		if len(fields) < 4 {
			return usageError("confirm card needs <number> <MM/YY> <cvv> <name>")
		}
		details = model.PaymentDetails{Method: model.PaymentMethodCreditCard, Card: &model.CardDetails{
			Number:         fields[0],
			Expiry:         fields[1],
			CVV:            fields[2],
			CardholderName: strings.Join(fields[3:], " "),
		}}
	case "bank":
		if len(fields) < 3 {
			return usageError("confirm bank needs <code> <account> <name>")
		}
		details = model.PaymentDetails{Method: model.PaymentMethodBankTransfer, Bank: &model.BankDetails{
			BankCode:      fields[0],
			AccountNumber: fields[1],
			AccountName:   strings.Join(fields[2:], " "),
		}}
	default:
		return usageError(fmt.Sprintf("unknown payment kind %q", kind))
	}

	p, err := a.purchases.Confirm(ctx, id, details)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		for field, msg := range a.tr.Fields(ve.Fields) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", field, msg)
		}
		return err
	}
	if p != nil {
		a.printPurchase(p)
	}
	return err
}

func (a *app) cmdCancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("cancel needs <purchase>")
	}
	if err := a.purchases.Cancel(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println(a.tr.T("status.CANCELLED"))
	return nil
}

func (a *app) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("get needs <purchase>")
	}
	p, err := a.purchases.Get(ctx, args[0])
	if err != nil {
		return err
	}
	a.printPurchase(p)

	history, err := a.purchases.History(ctx, p.ID)
	if err != nil {
		a.log.Warn().Err(err).Msg("read transition history")
		return nil
	}
	for _, t := range history {
		from := string(t.From)
		if from == "" {
			from = "-"
		}
		fmt.Printf("  %s  %s -> %s  (%s)\n", t.ObservedAt.Format(time.RFC3339), from, t.To, t.Source)
	}
	return nil
}

func (a *app) cmdPending(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("pending needs <journey>")
	}
	p, err := a.purchases.Pending(ctx, args[0])
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Println(a.tr.T("pending.none"))
		return nil
	}
	fmt.Printf("%s\t%s\n", p.ID, a.tr.T("pending.banner", i18n.Amount(p.Amount, p.Currency), i18n.Countdown(p.Remaining(time.Now()))))
	return nil
}

// cmdWatch shows a live countdown while polling until the purchase settles.
func (a *app) cmdWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("watch needs <purchase>")
	}
	p, err := a.purchases.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		a.printPurchase(p)
		return nil
	}

	stopCountdown := a.guard.Countdown(ctx, p, time.Second, func(remaining time.Duration) {
		fmt.Printf("\r%s %s ", a.tr.T("status.PENDING"), i18n.Countdown(remaining))
	})
	defer stopCountdown()

	h := a.purchases.Watch(ctx, p.ID, usecase.PollOptions{
		Interval:    a.cfg.Poll.Interval,
		MaxAttempts: a.cfg.Poll.MaxAttempts,
		OnStatusChange: func(p *model.Purchase, prev model.PurchaseStatus) {
			if p.Status.IsTerminal() {
				stopCountdown()
			}
		},
	})
	defer h.Cancel()

	snap, err := h.Wait(ctx)
	stopCountdown()
	fmt.Println()
	if errors.Is(err, context.Canceled) {
		fmt.Println(a.tr.T("poll.cancelled"))
		return nil
	}
	if err != nil {
		return err
	}
	switch snap.Outcome {
	case usecase.PollTerminal:
		a.printPurchase(snap.Purchase)
		return nil
	case usecase.PollExhausted:
		fmt.Println(a.tr.T("poll.exhausted"))
		return nil
	case usecase.PollFailed:
		return snap.Err
	}
	fmt.Println(a.tr.T("poll.cancelled"))
	return nil
}

func (a *app) cmdSession() error {
	st := session.Inspect(a.jar, a.base, a.cfg.Session.CookieName, time.Now())
	fmt.Printf("state=%s", st.State)
	if st.Subject != "" {
		fmt.Printf(" subject=%s", st.Subject)
	}
	if !st.ExpiresAt.IsZero() {
		fmt.Printf(" expires=%s", st.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func (a *app) newReconciler() *sched.PendingReconciler {
	return sched.NewPendingReconciler(a.gateway, a.transitions, a.tm, a.locker, a.cfg.Reconciler, a.log)
}

func (a *app) cmdReconcile(ctx context.Context) error {
	if a.transitions == nil {
		return usageError("reconcile needs database.url")
	}
	n, err := a.newReconciler().Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reconciled %d\n", n)
	return nil
}

// cmdServe runs the callback server and, when configured, the reconciler
// until a signal arrives.
func (a *app) cmdServe(ctx context.Context) error {
	pool := worker.NewPool(a.cfg.Web.Workers, a.log)
	srv := web.NewServer(a.purchases, a.tr, pool, a.cfg, a.log)
	if a.limiter != nil {
		srv.WithRateLimiter(a.limiter)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if a.cfg.Reconciler.Enabled {
		if a.transitions == nil {
			a.log.Warn().Msg("reconciler enabled without database.url; skipping")
		} else {
			rec := a.newReconciler()
			g.Go(func() error { return rec.Run(gctx) })
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}

func (a *app) printPurchase(p *model.Purchase) {
	line := fmt.Sprintf("%s\t%s\t%s", p.ID, p.Status, i18n.Amount(p.Amount, p.Currency))
	if p.FailureReason != nil {
		line += "\t" + *p.FailureReason
	}
	fmt.Println(line)
	fmt.Println(a.tr.T("status." + string(p.Status)))
}
