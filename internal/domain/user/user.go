// Package user holds the account data checkout needs from the auth system.
package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no account matches the given ID.
var ErrNotFound = errors.New("user not found")

// Role is the account role issued by the auth system.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// User is an authenticated account.
type User struct {
	ID    int64
	Email string
	Name  string
	Role  Role
}

// IsAdmin reports whether the user may read every order.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Repository looks up accounts.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
}
