package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/bookorama/internal/domain/user"
)

// Page size limits for ListOrders.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListParams selects a page of order history.
type ListParams struct {
	Limit  int
	Cursor string
}

// Page is a slice of order history, newest first. NextCursor is empty on the
// last page.
type Page struct {
	Orders     []Summary
	NextCursor string
}

// Reader serves order history with per-user visibility.
type Reader struct {
	users  user.Repository
	orders Repository
}

// NewReader creates a Reader.
func NewReader(users user.Repository, orders Repository) *Reader {
	return &Reader{users: users, orders: orders}
}

// ListOrders returns the viewer's own orders, newest first.
func (r *Reader) ListOrders(ctx context.Context, viewerID int64, p ListParams) (*Page, error) {
	viewer, err := r.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	var after *Cursor
	if p.Cursor != "" {
		c, err := DecodeCursor(p.Cursor)
		if err != nil {
			return nil, &ValidationError{Field: "cursor", Err: err}
		}
		after = &c
	}

	// One extra row tells whether another page exists.
	orders, err := r.orders.List(ctx, viewer.ID, after, limit+1)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	page := &Page{Orders: orders}
	if len(orders) > limit {
		page.Orders = orders[:limit]
		last := page.Orders[limit-1]
		page.NextCursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// GetOrder returns an order with its items. Orders of other users are
// reported as ErrNotFound unless the viewer is an admin.
func (r *Reader) GetOrder(ctx context.Context, orderID, viewerID int64) (*Detail, error) {
	viewer, err := r.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, ErrNotFound
	}

	d, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %d", orderID)
	}
	if d.UserID != viewer.ID && !viewer.IsAdmin() {
		return nil, ErrNotFound
	}
	return d, nil
}

func (r *Reader) viewer(ctx context.Context, id int64) (*user.User, error) {
	if id <= 0 {
		return nil, ErrUnauthorized
	}
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "resolve viewer")
	}
	return u, nil
}
