// Package catalog describes the bookstore catalog as seen by checkout: books
// keyed by ISBN with their current price.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested book does not exist.
var ErrNotFound = errors.New("book not found")

// Book is a catalog entry. Price is the live price and changes over time;
// orders copy it at checkout.
type Book struct {
	ISBN      string
	Title     string
	Author    string
	Price     decimal.Decimal
	Category  string
	CreatedAt time.Time
}

// Reader resolves ISBNs to their current catalog entries in one call.
// ISBNs missing from the catalog are absent from the returned map.
type Reader interface {
	GetByISBNs(ctx context.Context, isbns []string) (map[string]Book, error)
}

// Repository adds the browse operations used by the storefront.
type Repository interface {
	Reader
	List(ctx context.Context) ([]Book, error)
	GetByISBN(ctx context.Context, isbn string) (*Book, error)
}
