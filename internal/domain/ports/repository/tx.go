package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories accept nil to run outside a transaction.
type Tx interface{}

// NoTX runs a repository call outside any transaction.
var NoTX Tx = nil

// TransactionManager runs fn inside a storage transaction and passes the
// handle on, so use cases never see driver types.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		_, err := transitions.AppendIfChanged(ctx, tx, t)
//		return err
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
