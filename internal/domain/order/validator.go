package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/bookorama/internal/domain/catalog"
)

// ValidatedCart is a cart whose every ISBN resolved against the catalog.
// Books is the price snapshot taken during validation.
type ValidatedCart struct {
	ISBNs []string
	Books map[string]catalog.Book
}

// Validator checks carts against the catalog. It never writes.
type Validator struct {
	books catalog.Reader
}

// NewValidator creates a Validator reading from books.
func NewValidator(books catalog.Reader) *Validator {
	return &Validator{books: books}
}

// Validate rejects empty carts, repeated ISBNs and ISBNs missing from the
// catalog. Client errors are returned as *ValidationError for field "cart";
// a catalog lookup failure is returned as is.
func (v *Validator) Validate(ctx context.Context, cart []string) (*ValidatedCart, error) {
	if len(cart) == 0 {
		return nil, &ValidationError{Field: "cart", Err: ErrEmptyCart}
	}

	isbns := make([]string, len(cart))
	seen := make(map[string]struct{}, len(cart))
	for i, raw := range cart {
		isbn := strings.TrimSpace(raw)
		if isbn == "" {
			return nil, &ValidationError{Field: "cart", Err: &UnknownBookError{}}
		}
		if _, dup := seen[isbn]; dup {
			return nil, &ValidationError{Field: "cart", Err: &DuplicateItemError{ISBN: isbn}}
		}
		seen[isbn] = struct{}{}
		isbns[i] = isbn
	}

	books, err := v.books.GetByISBNs(ctx, isbns)
	if err != nil {
		return nil, errors.Wrap(err, "lookup books")
	}

	for _, isbn := range isbns {
		if _, ok := books[isbn]; !ok {
			return nil, &ValidationError{Field: "cart", Err: &UnknownBookError{ISBN: isbn}}
		}
	}

	return &ValidatedCart{ISBNs: isbns, Books: books}, nil
}
