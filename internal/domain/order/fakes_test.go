package order

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookorama/internal/domain/catalog"
	"github.com/xenking/bookorama/internal/domain/user"
)

// --- Fake implementations ---

type fakeUsers struct {
	byID map[int64]*user.User
	err  error
}

func newUsers(users ...user.User) *fakeUsers {
	byID := make(map[int64]*user.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	return &fakeUsers{byID: byID}
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type fakeBooks struct {
	mu     sync.Mutex
	byISBN map[string]catalog.Book
	err    error
	calls  int
}

func newBooks(books ...catalog.Book) *fakeBooks {
	byISBN := make(map[string]catalog.Book, len(books))
	for _, b := range books {
		byISBN[b.ISBN] = b
	}
	return &fakeBooks{byISBN: byISBN}
}

func (f *fakeBooks) GetByISBNs(_ context.Context, isbns []string) (map[string]catalog.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]catalog.Book, len(isbns))
	for _, isbn := range isbns {
		if b, ok := f.byISBN[isbn]; ok {
			out[isbn] = b
		}
	}
	return out, nil
}

func (f *fakeBooks) setPrice(isbn string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.byISBN[isbn]
	b.Price = price
	f.byISBN[isbn] = b
}

// fakeOrders keeps orders in memory and applies Dedup the way the
// PostgreSQL repository does, under a single lock.
type fakeOrders struct {
	mu        sync.Mutex
	now       func() time.Time
	orders    []storedOrder
	createErr error
	listErr   error
	delay     time.Duration
	creates   int
}

type storedOrder struct {
	Summary
	fingerprint string
	key         string
	items       []Item
}

func newOrders() *fakeOrders {
	return &fakeOrders{now: time.Now}
}

func (f *fakeOrders) Create(ctx context.Context, o *Order, dedup Dedup) (*CreateResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}

	now := f.now()
	for i := len(f.orders) - 1; i >= 0; i-- {
		s := f.orders[i]
		if s.UserID != o.UserID {
			continue
		}
		if dedup.Key != "" {
			if s.key == dedup.Key {
				return &CreateResult{Summary: s.Summary, Replayed: true}, nil
			}
			continue
		}
		if dedup.Window > 0 && s.fingerprint == dedup.Fingerprint && now.Sub(s.CreatedAt) < dedup.Window {
			return &CreateResult{Summary: s.Summary, Replayed: true}, nil
		}
	}

	s := storedOrder{
		Summary: Summary{
			ID:        int64(len(f.orders) + 1),
			UserID:    o.UserID,
			Amount:    o.Amount,
			ItemCount: len(o.Items),
			CreatedAt: now,
		},
		fingerprint: o.Fingerprint,
		key:         o.IdempotencyKey,
		items:       slices.Clone(o.Items),
	}
	f.orders = append(f.orders, s)
	return &CreateResult{Summary: s.Summary}, nil
}

func (f *fakeOrders) List(_ context.Context, userID int64, after *Cursor, limit int) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Summary
	for i := len(f.orders) - 1; i >= 0; i-- {
		s := f.orders[i].Summary
		if s.UserID != userID {
			continue
		}
		if after != nil && !before(s, *after) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func before(s Summary, c Cursor) bool {
	if s.CreatedAt.Equal(c.CreatedAt) {
		return s.ID < c.ID
	}
	return s.CreatedAt.Before(c.CreatedAt)
}

func (f *fakeOrders) Get(_ context.Context, id int64) (*Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.orders {
		if s.ID != id {
			continue
		}
		d := &Detail{Summary: s.Summary}
		for _, it := range s.items {
			d.Items = append(d.Items, DetailItem{ISBN: it.ISBN, Price: it.Price, Quantity: it.Quantity})
		}
		return d, nil
	}
	return nil, ErrNotFound
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// --- Helpers ---

func newTestBook(isbn, title string, price string) catalog.Book {
	return catalog.Book{
		ISBN:   isbn,
		Title:  title,
		Author: "Author of " + title,
		Price:  decimal.RequireFromString(price),
	}
}

func customer(id int64) user.User {
	return user.User{ID: id, Email: "user@test.com", Role: user.RoleCustomer}
}

func admin(id int64) user.User {
	return user.User{ID: id, Email: "admin@test.com", Role: user.RoleAdmin}
}
