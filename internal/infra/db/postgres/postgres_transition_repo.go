package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/repository"
)

var _ repository.TransitionRepository = (*transitionRepo)(nil)

type transitionRepo struct{ pool *pgxpool.Pool }

func NewTransitionRepo(pool *pgxpool.Pool) *transitionRepo {
	return &transitionRepo{pool: pool}
}

const transitionColumns = `id, purchase_id, journey_id, from_status, to_status, source, observed_at, irregular`

// AppendIfChanged serializes writers per purchase with a transaction-scoped
// advisory lock, so two observers cannot both append the same status. An
// edge the state machine rejects is still stored, flagged irregular.
func (r *transitionRepo) AppendIfChanged(ctx context.Context, tx repository.Tx, t *model.PurchaseTransition) (bool, error) {
	if t == nil || t.PurchaseID == "" || !t.To.Valid() {
		return false, domain.ErrInvalidArgument
	}
	if _, ok := tx.(pgx.Tx); ok {
		if _, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock(hashtext($1));`, t.PurchaseID); err != nil {
			return false, err
		}
	}

	row, err := pickRow(ctx, r.pool, tx, `
SELECT to_status, journey_id FROM purchase_transitions
WHERE purchase_id=$1 ORDER BY id DESC LIMIT 1;`, t.PurchaseID)
	if err != nil {
		return false, err
	}
	var last, journeyID string
	switch err := row.Scan(&last, &journeyID); {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return false, domain.ErrReadDatabaseRow
	default:
		if model.PurchaseStatus(last) == t.To {
			return false, nil
		}
		t.Follows(model.PurchaseStatus(last))
		if t.JourneyID == "" {
			t.JourneyID = journeyID
		}
	}

	if t.ObservedAt.IsZero() {
		t.ObservedAt = time.Now().UTC()
	}
	row, err = pickRow(ctx, r.pool, tx, `
INSERT INTO purchase_transitions (purchase_id, journey_id, from_status, to_status, source, observed_at, irregular)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id;`,
		t.PurchaseID, t.JourneyID, string(t.From), string(t.To), string(t.Source), t.ObservedAt, t.Irregular)
	if err != nil {
		return false, err
	}
	if err := row.Scan(&t.ID); err != nil {
		return false, domain.ErrOperationFailed
	}
	return true, nil
}

func (r *transitionRepo) LatestStatus(ctx context.Context, tx repository.Tx, purchaseID string) (model.PurchaseStatus, error) {
	row, err := pickRow(ctx, r.pool, tx, `
SELECT to_status FROM purchase_transitions WHERE purchase_id=$1 ORDER BY id DESC LIMIT 1;`, purchaseID)
	if err != nil {
		return "", err
	}
	var st string
	if err := row.Scan(&st); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", domain.ErrReadDatabaseRow
	}
	return model.PurchaseStatus(st), nil
}

func (r *transitionRepo) ListByPurchase(ctx context.Context, tx repository.Tx, purchaseID string) ([]*model.PurchaseTransition, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT `+transitionColumns+` FROM purchase_transitions WHERE purchase_id=$1 ORDER BY id;`, purchaseID)
	if err != nil {
		return nil, err
	}
	return scanTransitions(rows)
}

func (r *transitionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.PurchaseTransition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT `+transitionColumns+` FROM (
  SELECT DISTINCT ON (purchase_id) `+transitionColumns+`
  FROM purchase_transitions
  ORDER BY purchase_id, id DESC
) latest
WHERE to_status = 'PENDING' AND observed_at < $1
ORDER BY observed_at
LIMIT $2;`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return scanTransitions(rows)
}

func scanTransitions(rows pgx.Rows) ([]*model.PurchaseTransition, error) {
	defer rows.Close()
	var out []*model.PurchaseTransition
	for rows.Next() {
		var (
			t                model.PurchaseTransition
			from, to, source string
		)
		if err := rows.Scan(&t.ID, &t.PurchaseID, &t.JourneyID, &from, &to, &source, &t.ObservedAt, &t.Irregular); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.From, t.To, t.Source = model.PurchaseStatus(from), model.PurchaseStatus(to), model.TransitionSource(source)
		out = append(out, &t)
	}
	return out, rows.Err()
}
