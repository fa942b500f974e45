package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout and order reads.
var (
	ErrEmptyCart     = errors.New("cart must contain at least one book")
	ErrUnauthorized  = errors.New("user is not allowed to place or view orders")
	ErrNotFound      = errors.New("order not found")
	ErrInvalidCursor = errors.New("invalid page cursor")

	// ErrCommitUnknown is wrapped by repositories when the commit of an order
	// was sent but its acknowledgement was lost.
	ErrCommitUnknown = errors.New("order commit outcome unknown")
)

// DuplicateItemError indicates the same ISBN appears twice in a cart.
type DuplicateItemError struct {
	ISBN string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("book %s appears more than once in cart", e.ISBN)
}

// UnknownBookError indicates a cart ISBN that is blank or absent from the
// catalog. The whole checkout is rejected.
type UnknownBookError struct {
	ISBN string
}

func (e *UnknownBookError) Error() string {
	if e.ISBN == "" {
		return "cart contains a blank ISBN"
	}
	return fmt.Sprintf("book %s not found", e.ISBN)
}

// ValidationError is a client error tied to a request field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError indicates storage failed and nothing was written.
// Retrying the same request is safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// OutcomeUnknownError indicates the order may or may not have been stored.
// Callers should read the order history before resubmitting.
type OutcomeUnknownError struct {
	Err error
}

func (e *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("order outcome unknown: %v", e.Err)
}

func (e *OutcomeUnknownError) Unwrap() error { return e.Err }
