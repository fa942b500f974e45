package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookorama/internal/domain/order"
	"github.com/xenking/bookorama/internal/domain/user"
)

const (
	summaryColumns = `id, user_id, amount, item_count, created_at`

	// Serializes checkouts of one user for the rest of the transaction.
	lockUserCheckoutSQL = `SELECT pg_advisory_xact_lock($1)`

	findOrderByKeySQL = `SELECT ` + summaryColumns + ` FROM orders
		WHERE user_id = $1 AND idempotency_key = $2`

	findRecentOrderSQL = `SELECT ` + summaryColumns + ` FROM orders
		WHERE user_id = $1 AND cart_fingerprint = $2
			AND created_at > clock_timestamp() - make_interval(secs => $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	insertOrderSQL = `INSERT INTO orders (user_id, amount, item_count, cart_fingerprint, idempotency_key)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING ` + summaryColumns

	insertOrderItemSQL = `INSERT INTO order_items (order_id, book_isbn, price, quantity)
		VALUES ($1, $2, $3, $4)`

	listOrdersSQL = `SELECT ` + summaryColumns + ` FROM orders
		WHERE user_id = $1
			AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3::bigint))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	getOrderSQL = `SELECT ` + summaryColumns + ` FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT oi.book_isbn, b.title, b.author, oi.price, oi.quantity
		FROM order_items oi
		JOIN books b ON b.isbn = oi.book_isbn
		WHERE oi.order_id = $1
		ORDER BY oi.id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool   *pgxpool.Pool
	txOpts TxOptions
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool, txOpts TxOptions) *OrderRepository {
	return &OrderRepository{pool: pool, txOpts: txOpts}
}

// Create takes a per-user advisory lock, looks for a duplicate as described
// by dedup and either returns it or inserts the order header with its items.
// Everything happens in one transaction, so a failed item insert leaves no
// header behind.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, dedup order.Dedup) (*order.CreateResult, error) {
	var res *order.CreateResult
	err := WithRetry(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserCheckoutSQL, o.UserID); err != nil {
			return fmt.Errorf("locking checkouts of user %d: %w", o.UserID, err)
		}

		existing, err := findDuplicate(ctx, tx, o.UserID, dedup)
		if err != nil {
			return err
		}
		if existing != nil {
			res = &order.CreateResult{Summary: *existing, Replayed: true}
			return nil
		}

		s, err := insertOrder(ctx, tx, o, dedup.Key)
		if err != nil {
			return err
		}
		res = &order.CreateResult{Summary: *s}
		return nil
	})
	if err == nil {
		return res, nil
	}

	// The partial unique index caught a concurrent insert with the same key.
	if dedup.Key != "" && isUniqueViolation(err) {
		s, findErr := findByKey(ctx, r.pool, o.UserID, dedup.Key)
		if findErr == nil && s != nil {
			return &order.CreateResult{Summary: *s, Replayed: true}, nil
		}
	}
	if errors.Is(err, errCommitAmbiguous) {
		return nil, fmt.Errorf("creating order for user %d: %w: %w", o.UserID, order.ErrCommitUnknown, err)
	}
	return nil, fmt.Errorf("creating order for user %d: %w", o.UserID, err)
}

func findDuplicate(ctx context.Context, tx pgx.Tx, userID int64, dedup order.Dedup) (*order.Summary, error) {
	switch {
	case dedup.Key != "":
		return findByKey(ctx, tx, userID, dedup.Key)
	case dedup.Window > 0:
		rows, err := tx.Query(ctx, findRecentOrderSQL, userID, dedup.Fingerprint, dedup.Window.Seconds())
		if err != nil {
			return nil, fmt.Errorf("finding recent order: %w", err)
		}
		return collectOptionalSummary(rows)
	default:
		return nil, nil
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func findByKey(ctx context.Context, q querier, userID int64, key string) (*order.Summary, error) {
	rows, err := q.Query(ctx, findOrderByKeySQL, userID, key)
	if err != nil {
		return nil, fmt.Errorf("finding order by idempotency key: %w", err)
	}
	return collectOptionalSummary(rows)
}

func collectOptionalSummary(rows pgx.Rows) (*order.Summary, error) {
	s, err := pgx.CollectExactlyOneRow(rows, scanSummary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order, key string) (*order.Summary, error) {
	rows, err := tx.Query(ctx, insertOrderSQL, o.UserID, o.Amount, len(o.Items), o.Fingerprint, key)
	if err != nil {
		return nil, fmt.Errorf("inserting order: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSummary)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("inserting order: %w", err)
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, insertOrderItemSQL, s.ID, it.ISBN, it.Price, it.Quantity); err != nil {
			if isForeignKeyViolation(err) {
				return nil, &order.UnknownBookError{ISBN: it.ISBN}
			}
			return nil, fmt.Errorf("inserting item %s of order %d: %w", it.ISBN, s.ID, err)
		}
	}
	return &s, nil
}

// List returns up to limit orders of the user strictly after the cursor,
// newest first.
func (r *OrderRepository) List(ctx context.Context, userID int64, after *order.Cursor, limit int) ([]order.Summary, error) {
	var (
		afterAt *time.Time
		afterID int64
	)
	if after != nil {
		afterAt, afterID = &after.CreatedAt, after.ID
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, userID, afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	return orders, nil
}

// Get returns the order with its items or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Detail, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSummary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %d: %w", id, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.DetailItem, error) {
		var it order.DetailItem
		err := row.Scan(&it.ISBN, &it.Title, &it.Author, &it.Price, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting items of order %d: %w", id, err)
	}

	return &order.Detail{Summary: s, Items: items}, nil
}

func scanSummary(row pgx.CollectableRow) (order.Summary, error) {
	var s order.Summary
	err := row.Scan(&s.ID, &s.UserID, &s.Amount, &s.ItemCount, &s.CreatedAt)
	return s, err
}
