package postgres

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

// errCommitAmbiguous marks a COMMIT that was sent but never acknowledged.
var errCommitAmbiguous = errors.New("commit not acknowledged")

// TxOptions configures WithRetry.
type TxOptions struct {
	IsoLevel    pgx.TxIsoLevel
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultTxOptions runs at READ COMMITTED with three retries.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsoLevel:    pgx.ReadCommitted,
		MaxRetries:  3,
		BaseBackoff: 50 * time.Millisecond,
	}
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithRetry runs fn in a transaction and retries it with exponential
// backoff and jitter when PostgreSQL reports a serialization failure,
// deadlock or lock timeout. Any other error is returned as is.
func WithRetry(ctx context.Context, db txBeginner, opts TxOptions, fn func(pgx.Tx) error) error {
	backoff := opts.BaseBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := runTx(ctx, db, opts, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
		}

		jitter := time.Duration(rand.Int64N(int64(backoff/4) + 1))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func runTx(ctx context.Context, db txBeginner, opts TxOptions, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsoLevel})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		// A server error or an implicit rollback means nothing was committed.
		if pgCode(err) != "" || errors.Is(err, pgx.ErrTxCommitRollback) {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return fmt.Errorf("commit transaction: %w: %w", errCommitAmbiguous, err)
	}
	return nil
}
