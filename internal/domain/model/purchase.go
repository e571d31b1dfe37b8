package model

import (
	"time"

	"course-checkout/internal/domain"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"   // created; awaiting confirmation or redirect return
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED" // paid
	PurchaseStatusFailed    PurchaseStatus = "FAILED"    // gateway declined
	PurchaseStatusCancelled PurchaseStatus = "CANCELLED" // user cancelled
	PurchaseStatusExpired   PurchaseStatus = "EXPIRED"   // past expiresAt without confirmation
)

// IsTerminal reports whether no further transition can leave s.
func (s PurchaseStatus) IsTerminal() bool {
	switch s {
	case PurchaseStatusCompleted, PurchaseStatusFailed, PurchaseStatusCancelled, PurchaseStatusExpired:
		return true
	}
	return false
}

func (s PurchaseStatus) Valid() bool {
	return s == PurchaseStatusPending || s.IsTerminal()
}

type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCreditCard || m == PaymentMethodBankTransfer
}

// Purchase is the server's canonical transaction record for a paid journey.
type Purchase struct {
	ID            string         `json:"id"`
	JourneyID     string         `json:"journeyId"`
	Amount        int64          `json:"amount"` // minor units
	Currency      string         `json:"currency"`
	PaymentMethod PaymentMethod  `json:"paymentMethod"`
	Status        PurchaseStatus `json:"status"`
	CheckoutURL   *string        `json:"checkoutUrl,omitempty"` // redirect gateways only, while pending
	CreatedAt     time.Time      `json:"createdAt"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"` // while pending
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	FailureReason *string        `json:"failureReason,omitempty"`
}

// EffectivelyPending is PENDING and not yet past ExpiresAt by the given clock.
// A pending record without ExpiresAt never lapses client-side.
func (p *Purchase) EffectivelyPending(now time.Time) bool {
	if p == nil || p.Status != PurchaseStatusPending {
		return false
	}
	if p.ExpiresAt == nil {
		return true
	}
	return !now.After(*p.ExpiresAt)
}

// Remaining returns the time left before ExpiresAt, floored at zero.
func (p *Purchase) Remaining(now time.Time) time.Duration {
	if p == nil || p.ExpiresAt == nil {
		return 0
	}
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CreatedPurchase is the reply of the create call.
type CreatedPurchase struct {
	ID          string  `json:"id"`
	CheckoutURL *string `json:"checkoutUrl,omitempty"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
}

// CanTransition encodes the purchase state machine: PENDING is the only
// state with outgoing edges, and every edge leads to a terminal state.
func CanTransition(from, to PurchaseStatus) bool {
	return from == PurchaseStatusPending && to.IsTerminal()
}

// Transition applies to on p when the edge is legal. CompletedAt is set exactly
// once on entering COMPLETED; checkout data is dropped once the purchase resolves.
func Transition(p *Purchase, to PurchaseStatus, at time.Time, reason string) error {
	if p == nil {
		return domain.ErrInvalidArgument
	}
	if !CanTransition(p.Status, to) {
		if p.Status.IsTerminal() {
			return domain.ErrPurchaseTerminal
		}
		return domain.ErrInvalidTransition
	}
	p.Status = to
	p.CheckoutURL = nil
	p.ExpiresAt = nil
	switch to {
	case PurchaseStatusCompleted:
		t := at
		p.CompletedAt = &t
	case PurchaseStatusFailed:
		if reason != "" {
			r := reason
			p.FailureReason = &r
		}
	}
	return nil
}

// TransitionSource names who observed a status change.
type TransitionSource string

const (
	SourceGateway    TransitionSource = "gateway"
	SourcePoller     TransitionSource = "poller"
	SourceReconciler TransitionSource = "reconciler"
	SourceGuard      TransitionSource = "guard"
)

// PurchaseTransition is one observed status change, kept as a local trail.
// From is empty for the first observation of a purchase.
type PurchaseTransition struct {
	ID         int64
	PurchaseID string
	JourneyID  string
	From       PurchaseStatus
	To         PurchaseStatus
	Source     TransitionSource
	ObservedAt time.Time
	// Irregular marks an edge CanTransition rejects, such as a late COMPLETED
	// from the server after a client-side EXPIRED.
	Irregular bool
}

// Follows sets last as the status t moves away from and flags an edge the
// state machine does not allow. An empty last is a first observation.
func (t *PurchaseTransition) Follows(last PurchaseStatus) {
	t.From = last
	t.Irregular = last != "" && !CanTransition(last, t.To)
}
