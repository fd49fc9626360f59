package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run executes fn with queries bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise; a failed
// rollback is joined onto fn's error.
func Run[T any](
	ctx context.Context,
	conn *sql.DB,
	opts *sql.TxOptions,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) error {
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(newQueries(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
