package adapter

import (
	"context"

	"course-checkout/internal/domain/model"
)

// PurchaseGateway is the port to the remote purchase API. Implementations
// return *domain.GatewayError for every failed call.
type PurchaseGateway interface {
	// CreatePurchase opens a PENDING purchase. Fails with a conflict when an
	// effectively pending purchase already exists for the journey.
	CreatePurchase(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error)
	// ConfirmPurchase submits payment details; the returned purchase is COMPLETED or FAILED.
	ConfirmPurchase(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error)
	// CancelPurchase moves a PENDING purchase to CANCELLED; conflict when already terminal.
	CancelPurchase(ctx context.Context, purchaseID string) error
	// GetPurchase is an idempotent read.
	GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error)
	// GetPendingPurchaseByJourney returns nil, nil when the server has none.
	GetPendingPurchaseByJourney(ctx context.Context, journeyID string) (*model.Purchase, error)
}
