package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a priced line of an order. Price is copied from the catalog at
// checkout and never follows later catalog changes.
type Item struct {
	ISBN     string
	Price    decimal.Decimal
	Quantity int
}

// Order is a new order ready to be persisted.
type Order struct {
	UserID         int64
	Items          []Item
	Amount         decimal.Decimal
	Fingerprint    string
	IdempotencyKey string
}

// Summary is the header of a persisted order.
type Summary struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	ItemCount int
	CreatedAt time.Time
}

// DetailItem is a persisted line item. Title and Author are read from the
// catalog when the order is fetched, so they reflect current metadata while
// Price and Quantity stay frozen.
type DetailItem struct {
	ISBN     string
	Title    string
	Author   string
	Price    decimal.Decimal
	Quantity int
}

// Detail is a persisted order with its line items.
type Detail struct {
	Summary
	Items []DetailItem
}

// CreateResult reports the order a checkout resolved to. Replayed is true
// when the duplicate guard matched an order created earlier.
type CreateResult struct {
	Summary  Summary
	Replayed bool
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order header and its items atomically. The duplicate
	// check described by dedup runs in the same transaction, serialized per
	// user, and a match is returned instead of inserting.
	Create(ctx context.Context, o *Order, dedup Dedup) (*CreateResult, error)
	// List returns up to limit orders of the user, newest first, strictly
	// after the cursor position when one is given.
	List(ctx context.Context, userID int64, after *Cursor, limit int) ([]Summary, error)
	// Get returns the order with its items or ErrNotFound.
	Get(ctx context.Context, id int64) (*Detail, error)
}
