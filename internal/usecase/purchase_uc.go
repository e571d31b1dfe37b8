// File: internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/domain/ports/repository"
	"course-checkout/internal/domain/validator"
	"course-checkout/internal/infra/logging"
	"course-checkout/internal/infra/metrics"
)

// Compile-time check
var _ PurchaseUseCase = (*purchaseUC)(nil)

type PurchaseUseCase interface {
	// Start opens a purchase unless an effectively pending one exists for the journey.
	Start(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error)
	// Confirm validates details locally and submits them. On a decline the
	// canonical FAILED purchase is returned together with the error.
	Confirm(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error)
	Cancel(ctx context.Context, purchaseID string) error
	// Get returns the canonical purchase, reported EXPIRED once past ExpiresAt.
	Get(ctx context.Context, purchaseID string) (*model.Purchase, error)
	// Watch polls the purchase until it settles; observed transitions are journaled.
	Watch(ctx context.Context, purchaseID string, opts PollOptions) *PollHandle
	Pending(ctx context.Context, journeyID string) (*model.Purchase, error)
	CanStart(ctx context.Context, journeyID string) (bool, error)
	// History lists the transitions this client observed for the purchase.
	History(ctx context.Context, purchaseID string) ([]*model.PurchaseTransition, error)
}

type purchaseUC struct {
	gateway     adapter.PurchaseGateway
	guard       *ExpiryGuard
	poller      *StatusPoller
	transitions repository.TransitionRepository
	tm          repository.TransactionManager
	now         func() time.Time
	log         *zerolog.Logger
}

// NewPurchaseUseCase wires the use case. transitions and tm may be nil when
// no journal database is configured.
func NewPurchaseUseCase(
	gateway adapter.PurchaseGateway,
	guard *ExpiryGuard,
	poller *StatusPoller,
	transitions repository.TransitionRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *purchaseUC {
	return &purchaseUC{
		gateway:     gateway,
		guard:       guard,
		poller:      poller,
		transitions: transitions,
		tm:          tm,
		now:         time.Now,
		log:         logger,
	}
}

// WithClock replaces the clock of the use case and its guard and poller.
func (u *purchaseUC) WithClock(now func() time.Time) *purchaseUC {
	if now == nil {
		return u
	}
	u.now = now
	u.guard.WithClock(now)
	u.poller.WithClock(now)
	return u
}

func (u *purchaseUC) Start(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.Start")()
	if journeyID == "" || !method.Valid() {
		return nil, domain.ErrInvalidArgument
	}

	existing, err := u.guard.PendingForJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPendingPurchaseExists, existing.ID)
	}

	created, err := u.gateway.CreatePurchase(ctx, journeyID, method)
	if err != nil {
		return nil, err
	}
	u.record(ctx, created.ID, journeyID, model.PurchaseStatusPending, model.SourceGateway)
	u.logFor(ctx, created.ID, journeyID).Info().Str("method", string(method)).Int64("amount", created.Amount).Msg("purchase created")
	return created, nil
}

func (u *purchaseUC) Confirm(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.Confirm")()
	if purchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if fields := validator.Validate(details, u.now()); len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	p, err := u.gateway.ConfirmPurchase(ctx, purchaseID, details)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentDeclined) && !domain.IsConflict(err) {
			return nil, err
		}
		// The server moved the purchase; report the canonical record with the error.
		canonical, gerr := u.Get(ctx, purchaseID)
		if gerr != nil {
			u.log.Warn().Err(gerr).Str("purchase_id", purchaseID).Msg("re-read after confirm failure")
			return nil, err
		}
		return canonical, err
	}

	p = Reclassify(p, u.now())
	u.record(ctx, p.ID, p.JourneyID, p.Status, model.SourceGateway)
	u.logFor(ctx, p.ID, p.JourneyID).Info().Str("status", string(p.Status)).Str("card", maskedCard(details)).Msg("purchase confirmed")
	return p, nil
}

func (u *purchaseUC) Cancel(ctx context.Context, purchaseID string) error {
	defer logging.TraceDuration(u.log, "PurchaseUC.Cancel")()
	if purchaseID == "" {
		return domain.ErrInvalidArgument
	}
	if err := u.gateway.CancelPurchase(ctx, purchaseID); err != nil {
		if domain.IsConflict(err) {
			// Journal whatever terminal status the server holds.
			if _, gerr := u.Get(ctx, purchaseID); gerr != nil {
				u.log.Warn().Err(gerr).Str("purchase_id", purchaseID).Msg("re-read after cancel conflict")
			}
		}
		return err
	}

	p, err := u.gateway.GetPurchase(ctx, purchaseID)
	if err != nil {
		u.log.Warn().Err(err).Str("purchase_id", purchaseID).Msg("re-read after cancel")
		u.record(ctx, purchaseID, "", model.PurchaseStatusCancelled, model.SourceGateway)
		return nil
	}
	u.record(ctx, p.ID, p.JourneyID, p.Status, model.SourceGateway)
	u.logFor(ctx, p.ID, p.JourneyID).Info().Msg("purchase cancelled")
	return nil
}

func (u *purchaseUC) Get(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	if purchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := u.gateway.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	shown := Reclassify(p, u.now())
	source := model.SourceGateway
	if shown.Status != p.Status {
		source = model.SourceGuard
	}
	u.record(ctx, shown.ID, shown.JourneyID, shown.Status, source)
	return shown, nil
}

func (u *purchaseUC) Watch(ctx context.Context, purchaseID string, opts PollOptions) *PollHandle {
	user := opts.OnStatusChange
	opts.OnStatusChange = func(p *model.Purchase, prev model.PurchaseStatus) {
		u.record(ctx, p.ID, p.JourneyID, p.Status, model.SourcePoller)
		if user != nil {
			user(p, prev)
		}
	}
	return u.poller.Start(ctx, purchaseID, opts)
}

func (u *purchaseUC) Pending(ctx context.Context, journeyID string) (*model.Purchase, error) {
	if journeyID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.guard.PendingForJourney(ctx, journeyID)
}

func (u *purchaseUC) CanStart(ctx context.Context, journeyID string) (bool, error) {
	if journeyID == "" {
		return false, domain.ErrInvalidArgument
	}
	return u.guard.NewPurchaseAllowed(ctx, journeyID)
}

func (u *purchaseUC) History(ctx context.Context, purchaseID string) ([]*model.PurchaseTransition, error) {
	if u.transitions == nil {
		return nil, nil
	}
	return u.transitions.ListByPurchase(ctx, repository.NoTX, purchaseID)
}

// record journals an observed status. Journal failures are logged and never
// fail the purchase operation itself.
func (u *purchaseUC) record(ctx context.Context, purchaseID, journeyID string, to model.PurchaseStatus, source model.TransitionSource) {
	t := &model.PurchaseTransition{
		PurchaseID: purchaseID,
		JourneyID:  journeyID,
		To:         to,
		Source:     source,
		ObservedAt: u.now(),
	}
	wrote, err := RecordTransition(ctx, u.tm, u.transitions, t)
	if err != nil {
		u.log.Error().Err(err).Str("purchase_id", purchaseID).Str("to", string(to)).Msg("journal transition")
		return
	}
	if wrote {
		metrics.IncTransition(string(to), string(source))
	}
	if wrote && t.Irregular {
		u.log.Warn().Str("purchase_id", purchaseID).Str("from", string(t.From)).Str("to", string(to)).
			Str("source", string(source)).Msg("observed transition outside the purchase state machine")
	}
}

// RecordTransition appends t when it changes the journaled status. With a
// transaction manager the check and the insert share one transaction. After a
// write t.From and t.Irregular describe the stored edge.
func RecordTransition(ctx context.Context, tm repository.TransactionManager, transitions repository.TransitionRepository, t *model.PurchaseTransition) (bool, error) {
	if transitions == nil {
		return false, nil
	}
	var (
		wrote bool
		err   error
	)
	if tm == nil {
		wrote, err = transitions.AppendIfChanged(ctx, repository.NoTX, t)
	} else {
		err = tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			wrote, err = transitions.AppendIfChanged(ctx, tx, t)
			return err
		})
	}
	if err == nil && wrote && t.Irregular {
		metrics.IncIrregularTransition(string(t.From), string(t.To))
	}
	return wrote, err
}

func (u *purchaseUC) logFor(ctx context.Context, purchaseID, journeyID string) *zerolog.Logger {
	ctx = logging.WithPurchaseID(ctx, purchaseID)
	if journeyID != "" {
		ctx = logging.WithJourneyID(ctx, journeyID)
	}
	return logging.With(ctx, u.log)
}

func maskedCard(d model.PaymentDetails) string {
	if d.Card == nil {
		return ""
	}
	return validator.MaskCardNumber(d.Card.Number)
}
