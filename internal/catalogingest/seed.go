package catalogingest

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/bookorama/internal/domain/auth"
	"github.com/xenking/bookorama/internal/domain/catalog"
	"github.com/xenking/bookorama/internal/domain/user"
)

// DefaultUsers are the accounts a development database starts with.
var DefaultUsers = []user.User{
	{Email: "admin@test.com", Name: "Test Admin", Role: user.RoleAdmin},
	{Email: "user@test.com", Name: "Test Customer", Role: user.RoleCustomer},
}

// UserStore persists accounts.
type UserStore interface {
	Upsert(ctx context.Context, u user.User) (int64, error)
}

// KeyStore persists API keys.
type KeyStore interface {
	Upsert(ctx context.Context, k auth.APIKeyInfo) error
}

// SeedInput is what a seed run writes.
type SeedInput struct {
	Books []catalog.Book
	// APIKey is stored hashed under Pepper with read and write scopes.
	// Empty skips key creation.
	APIKey string
	Pepper []byte
}

// SeedReport lists what a seed run created.
type SeedReport struct {
	Users map[string]int64
	Books int
}

// Seeder fills an empty database for development and tests.
type Seeder struct {
	users UserStore
	books Store
	keys  KeyStore
	lg    *zap.Logger
}

func NewSeeder(users UserStore, books Store, keys KeyStore, lg *zap.Logger) *Seeder {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Seeder{users: users, books: books, keys: keys, lg: lg}
}

// Seed upserts DefaultUsers, in.Books and the API key. It is safe to run
// repeatedly.
func (s *Seeder) Seed(ctx context.Context, in SeedInput) (*SeedReport, error) {
	report := &SeedReport{Users: make(map[string]int64, len(DefaultUsers))}
	for _, u := range DefaultUsers {
		id, err := s.users.Upsert(ctx, u)
		if err != nil {
			return nil, errors.Wrapf(err, "user %s", u.Email)
		}
		report.Users[u.Email] = id
		s.lg.Info("Upserted user", zap.String("email", u.Email), zap.Int64("id", id), zap.String("role", string(u.Role)))
	}

	books, dups := dedupe(in.Books)
	for _, isbn := range dups {
		s.lg.Warn("Duplicate ISBN in seed file", zap.String("isbn", isbn))
	}
	ing := NewIngester(s.books, s.lg, Options{})
	if len(books) > 0 {
		if err := ing.write(ctx, books); err != nil {
			return nil, err
		}
	}
	report.Books = len(books)

	if in.APIKey != "" {
		key := auth.APIKeyInfo{
			ID:      "default",
			KeyHash: auth.HashKey(in.APIKey, in.Pepper),
			Name:    "Default storefront key",
			Scopes:  []string{auth.ScopeOrdersWrite, auth.ScopeOrdersRead},
		}
		if err := s.keys.Upsert(ctx, key); err != nil {
			return nil, errors.Wrap(err, "api key")
		}
		s.lg.Info("Upserted API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	}
	return report, nil
}

// ParseBooks reads a JSON array of books.
func ParseBooks(r io.Reader) ([]catalog.Book, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	var books []catalog.Book
	idx := 0
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		b, err := decodeBook(d)
		if err != nil {
			return errors.Wrapf(err, "book #%d", idx)
		}
		idx++
		books = append(books, b)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "parse books")
	}
	return books, nil
}
