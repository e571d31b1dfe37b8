package repository

import (
	"context"
	"time"

	"course-checkout/internal/domain/model"
)

// TransitionRepository keeps the local trail of observed purchase transitions.
type TransitionRepository interface {
	// AppendIfChanged stores t unless the latest stored status for the purchase
	// already equals t.To. It reports whether a row was written.
	AppendIfChanged(ctx context.Context, tx Tx, t *model.PurchaseTransition) (bool, error)
	LatestStatus(ctx context.Context, tx Tx, purchaseID string) (model.PurchaseStatus, error)
	ListByPurchase(ctx context.Context, tx Tx, purchaseID string) ([]*model.PurchaseTransition, error)
	// ListPendingOlderThan returns the latest transition of purchases whose last
	// observed status is PENDING and was observed before cutoff.
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.PurchaseTransition, error)
}
