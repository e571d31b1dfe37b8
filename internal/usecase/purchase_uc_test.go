//go:build !integration

package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/validator"
	"course-checkout/internal/usecase"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// purchaseUCTestDeps holds all the mock dependencies for the purchase use case tests.
type purchaseUCTestDeps struct {
	gateway     *MockGateway
	transitions *MockTransitionRepo
	tm          *MockTxManager
	uc          usecase.PurchaseUseCase
}

func newPurchaseUCDeps() *purchaseUCTestDeps {
	d := &purchaseUCTestDeps{
		gateway:     NewMockGateway(),
		transitions: NewMockTransitionRepo(),
		tm:          NewMockTxManager(),
	}
	logger := newTestLogger()
	d.uc = usecase.NewPurchaseUseCase(
		d.gateway,
		usecase.NewExpiryGuard(d.gateway, logger),
		usecase.NewStatusPoller(d.gateway, logger),
		d.transitions,
		d.tm,
		logger,
	).WithClock(fixedClock(testNow))
	return d
}

func validCard() model.PaymentDetails {
	return model.PaymentDetails{
		Method: model.PaymentMethodCreditCard,
		Card:   &model.CardDetails{Number: "4111 1111 1111 1111", Expiry: "12/30", CVV: "123", CardholderName: "Ada Lovelace"},
	}
}

func TestPurchaseUseCase_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("should create and journal a pending purchase", func(t *testing.T) {
		// --- Arrange ---
		deps := newPurchaseUCDeps()

		// --- Act ---
		created, err := deps.uc.Start(ctx, "j-1", model.PaymentMethodCreditCard)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		history, _ := deps.uc.History(ctx, created.ID)
		if len(history) != 1 || history[0].To != model.PurchaseStatusPending || history[0].JourneyID != "j-1" {
			t.Errorf("expected one PENDING journal row, got %+v", history)
		}
		if deps.tm.Count() != 1 {
			t.Errorf("expected the journal write inside one transaction, got %d", deps.tm.Count())
		}
	})

	t.Run("should refuse while an effectively pending purchase exists", func(t *testing.T) {
		deps := newPurchaseUCDeps()
		deps.gateway.Put(&model.Purchase{ID: "p-open", JourneyID: "j-1", Status: model.PurchaseStatusPending, ExpiresAt: ptr(testNow.Add(10 * time.Minute))})

		_, err := deps.uc.Start(ctx, "j-1", model.PaymentMethodCreditCard)

		if !errors.Is(err, domain.ErrPendingPurchaseExists) {
			t.Fatalf("expected ErrPendingPurchaseExists, got %v", err)
		}
		if deps.gateway.Calls("create") != 0 {
			t.Error("create must not be called when the guard refuses")
		}
	})

	t.Run("should ignore a lapsed pending purchase", func(t *testing.T) {
		deps := newPurchaseUCDeps()
		deps.gateway.GetPendingPurchaseByJourneyFunc = func(ctx context.Context, journeyID string) (*model.Purchase, error) {
			return &model.Purchase{ID: "p-old", JourneyID: journeyID, Status: model.PurchaseStatusPending, ExpiresAt: ptr(testNow.Add(-30 * time.Minute))}, nil
		}

		if _, err := deps.uc.Start(ctx, "j-1", model.PaymentMethodBankTransfer); err != nil {
			t.Fatalf("expected a new purchase to be allowed, got %v", err)
		}
	})

	t.Run("should reject invalid arguments", func(t *testing.T) {
		deps := newPurchaseUCDeps()
		if _, err := deps.uc.Start(ctx, "j-1", "PAYPAL"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPurchaseUseCase_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("should never send invalid details", func(t *testing.T) {
		deps := newPurchaseUCDeps()
		details := validCard()
		details.Card.Number = "4111111111111112"
		details.Card.Expiry = "01/20"

		_, err := deps.uc.Confirm(ctx, "p-1", details)

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected a ValidationError, got %v", err)
		}
		if verr.Fields[validator.FieldCardNumber] == "" || verr.Fields[validator.FieldExpiry] == "" {
			t.Errorf("expected card number and expiry errors, got %v", verr.Fields)
		}
		if deps.gateway.Calls("confirm") != 0 {
			t.Error("confirm must not reach the gateway")
		}
	})

	t.Run("should complete and journal", func(t *testing.T) {
		deps := newPurchaseUCDeps()
		created, _ := deps.uc.Start(ctx, "j-1", model.PaymentMethodCreditCard)

		p, err := deps.uc.Confirm(ctx, created.ID, validCard())

		if err != nil || p.Status != model.PurchaseStatusCompleted {
			t.Fatalf("expected COMPLETED, got %v, %v", p, err)
		}
		history, _ := deps.uc.History(ctx, created.ID)
		if len(history) != 2 || history[1].From != model.PurchaseStatusPending || history[1].To != model.PurchaseStatusCompleted {
			t.Errorf("expected PENDING -> COMPLETED in the journal, got %+v", history)
		}
	})

	t.Run("should return the canonical record on decline", func(t *testing.T) {
		deps := newPurchaseUCDeps()
		reason := "insufficient funds"
		deps.gateway.Put(&model.Purchase{ID: "p-1", JourneyID: "j-1", Status: model.PurchaseStatusFailed, FailureReason: &reason})
		deps.gateway.ConfirmPurchaseFunc = func(ctx context.Context, id string, d model.PaymentDetails) (*model.Purchase, error) {
			return nil, &domain.GatewayError{Kind: domain.KindDeclined, Op: "confirm", StatusCode: 402, Message: reason}
		}

		p, err := deps.uc.Confirm(ctx, "p-1", validCard())

		if !errors.Is(err, domain.ErrPaymentDeclined) {
			t.Fatalf("expected ErrPaymentDeclined, got %v", err)
		}
		if p == nil || p.Status != model.PurchaseStatusFailed || *p.FailureReason != reason {
			t.Errorf("expected the FAILED record, got %+v", p)
		}
	})
}

func TestPurchaseUseCase_CancelThenRestart(t *testing.T) {
	ctx := context.Background()
	deps := newPurchaseUCDeps()

	first, err := deps.uc.Start(ctx, "j-1", model.PaymentMethodCreditCard)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ok, _ := deps.uc.CanStart(ctx, "j-1"); ok {
		t.Fatal("a second purchase must be blocked while the first is pending")
	}

	if err := deps.uc.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pending, err := deps.uc.Pending(ctx, "j-1")
	if err != nil || pending != nil {
		t.Fatalf("expected no pending purchase after cancel, got %v, %v", pending, err)
	}
	second, err := deps.uc.Start(ctx, "j-1", model.PaymentMethodCreditCard)
	if err != nil || second.ID == first.ID {
		t.Fatalf("expected a new purchase, got %v, %v", second, err)
	}

	if err := deps.uc.Cancel(ctx, first.ID); !errors.Is(err, domain.ErrPurchaseTerminal) || !domain.IsConflict(err) {
		t.Errorf("cancelling twice must be a conflict, got %v", err)
	}
	history, _ := deps.uc.History(ctx, first.ID)
	if len(history) != 2 || history[1].To != model.PurchaseStatusCancelled {
		t.Errorf("expected PENDING -> CANCELLED, got %+v", history)
	}
}

func TestPurchaseUseCase_CancelConflictLogsFailedReread(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	gw := NewMockGateway()
	gw.CancelPurchaseFunc = func(ctx context.Context, purchaseID string) error {
		return &domain.GatewayError{Kind: domain.KindConflict, Op: "cancel", StatusCode: 409, Err: domain.ErrPurchaseTerminal}
	}
	gw.GetPurchaseFunc = func(ctx context.Context, purchaseID string) (*model.Purchase, error) {
		return nil, &domain.GatewayError{Kind: domain.KindNetwork, Op: "get", Err: errors.New("connection reset")}
	}
	uc := usecase.NewPurchaseUseCase(gw, usecase.NewExpiryGuard(gw, &logger), usecase.NewStatusPoller(gw, &logger), nil, nil, &logger)

	err := uc.Cancel(ctx, "p-1")

	if !errors.Is(err, domain.ErrPurchaseTerminal) {
		t.Fatalf("expected the cancel conflict, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "re-read after cancel conflict") || !strings.Contains(out, "connection reset") {
		t.Errorf("expected the failed re-read to be logged, got %q", out)
	}
}

func TestPurchaseUseCase_GetReclassifiesExpired(t *testing.T) {
	ctx := context.Background()
	deps := newPurchaseUCDeps()
	url := "https://pay.example.com/p-1"
	deps.gateway.Put(&model.Purchase{ID: "p-1", JourneyID: "j-1", Status: model.PurchaseStatusPending, CheckoutURL: &url, ExpiresAt: ptr(testNow.Add(-time.Second))})

	p, err := deps.uc.Get(ctx, "p-1")

	if err != nil || p.Status != model.PurchaseStatusExpired {
		t.Fatalf("expected EXPIRED, got %v, %v", p, err)
	}
	if p.CheckoutURL != nil || p.ExpiresAt != nil {
		t.Error("an expired purchase must not expose checkout data")
	}
	history, _ := deps.uc.History(ctx, "p-1")
	if len(history) != 1 || history[0].Source != model.SourceGuard {
		t.Errorf("expected a guard-sourced journal row, got %+v", history)
	}
}

func TestPurchaseUseCase_LateCompletionIsFlagged(t *testing.T) {
	ctx := context.Background()
	deps := newPurchaseUCDeps()
	deps.gateway.Put(&model.Purchase{ID: "p-1", JourneyID: "j-1", Status: model.PurchaseStatusPending, ExpiresAt: ptr(testNow.Add(-time.Second))})
	if _, err := deps.uc.Get(ctx, "p-1"); err != nil {
		t.Fatal(err)
	}

	// The payment landed just before the deadline and the server settles it late.
	deps.gateway.Put(&model.Purchase{ID: "p-1", JourneyID: "j-1", Status: model.PurchaseStatusCompleted, CompletedAt: ptr(testNow)})
	p, err := deps.uc.Get(ctx, "p-1")

	if err != nil || p.Status != model.PurchaseStatusCompleted {
		t.Fatalf("expected the server status, got %v, %v", p, err)
	}
	history, _ := deps.uc.History(ctx, "p-1")
	if len(history) != 2 {
		t.Fatalf("expected both observations journaled, got %+v", history)
	}
	if history[0].Irregular {
		t.Error("the client-side expiry is a regular edge")
	}
	if last := history[1]; !last.Irregular || last.From != model.PurchaseStatusExpired || last.To != model.PurchaseStatusCompleted {
		t.Errorf("expected an irregular EXPIRED -> COMPLETED row, got %+v", last)
	}
}

func TestPurchaseUseCase_WatchJournalsTransitions(t *testing.T) {
	ctx := context.Background()
	deps := newPurchaseUCDeps()
	scriptedStatuses(deps.gateway, model.PurchaseStatusPending, model.PurchaseStatusCompleted)

	var seen []model.PurchaseStatus
	h := deps.uc.Watch(ctx, "p-1", usecase.PollOptions{
		Interval:       time.Millisecond,
		OnStatusChange: func(p *model.Purchase, _ model.PurchaseStatus) { seen = append(seen, p.Status) },
	})
	waitDone(t, h)

	if len(seen) != 2 {
		t.Errorf("expected the caller's callback to run twice, got %v", seen)
	}
	history, _ := deps.uc.History(ctx, "p-1")
	if len(history) != 2 || history[1].Source != model.SourcePoller || history[1].To != model.PurchaseStatusCompleted {
		t.Errorf("expected poller rows in the journal, got %+v", history)
	}
}

func TestRecordTransition_NilRepositoryIsNoop(t *testing.T) {
	wrote, err := usecase.RecordTransition(context.Background(), nil, nil, &model.PurchaseTransition{PurchaseID: "p-1", To: model.PurchaseStatusPending})
	if wrote || err != nil {
		t.Errorf("expected a no-op, got %v, %v", wrote, err)
	}
}
