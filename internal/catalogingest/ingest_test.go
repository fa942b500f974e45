package catalogingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookorama/internal/domain/auth"
	"github.com/xenking/bookorama/internal/domain/catalog"
	"github.com/xenking/bookorama/internal/domain/user"
)

type fakeStore struct {
	mu         sync.Mutex
	categories map[string]int64
	books      map[string]catalog.Book
	batches    []int
	err        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{categories: map[string]int64{}, books: map[string]catalog.Book{}}
}

func (s *fakeStore) UpsertCategory(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.categories[name]; ok {
		return id, nil
	}
	id := int64(len(s.categories) + 1)
	s.categories[name] = id
	return id, nil
}

func (s *fakeStore) UpsertBooks(_ context.Context, books []catalog.Book, categoryIDs map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, b := range books {
		if b.Category != "" {
			if _, ok := categoryIDs[b.Category]; !ok {
				return errors.Errorf("category %q not upserted", b.Category)
			}
		}
		s.books[b.ISBN] = b
	}
	s.batches = append(s.batches, len(books))
	return nil
}

func writeGzip(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestParseBook(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    catalog.Book
		wantErr string
	}{
		{
			name: "numeric price",
			line: `{"isbn":" 978-0-1 ","title":"Dune","author":"Herbert","price":45000,"category":"Sci-Fi","pages":600}`,
			want: catalog.Book{ISBN: "978-0-1", Title: "Dune", Author: "Herbert", Price: decimal.RequireFromString("45000"), Category: "Sci-Fi"},
		},
		{
			name: "string price rounded",
			line: `{"isbn":"978-0-2","title":"Emma","author":"Austen","price":"19.999","category":null}`,
			want: catalog.Book{ISBN: "978-0-2", Title: "Emma", Author: "Austen", Price: decimal.RequireFromString("20.00")},
		},
		{name: "missing isbn", line: `{"title":"Emma","price":1}`, wantErr: "isbn is required"},
		{name: "missing title", line: `{"isbn":"x","price":1}`, wantErr: "title is required"},
		{name: "zero price", line: `{"isbn":"x","title":"t","price":0}`, wantErr: "price must be positive"},
		{name: "bad price type", line: `{"isbn":"x","title":"t","price":true}`, wantErr: "price must be a number or string"},
		{name: "not json", line: `isbn,title`, wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBook([]byte(tt.line))
			if tt.want.ISBN == "" {
				require.Error(t, err)
				if tt.wantErr != "" {
					assert.Contains(t, err.Error(), tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ISBN, got.ISBN)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.Author, got.Author)
			assert.Equal(t, tt.want.Category, got.Category)
			assert.True(t, tt.want.Price.Equal(got.Price), "price %s", got.Price)
		})
	}
}

func TestDedupe_KeepsLastOccurrence(t *testing.T) {
	books := []catalog.Book{
		{ISBN: "a", Title: "first a"},
		{ISBN: "b", Title: "b"},
		{ISBN: "a", Title: "second a"},
		{ISBN: "c", Title: "c"},
		{ISBN: "a", Title: "third a"},
	}

	kept, dups := dedupe(books)

	assert.Equal(t, []string{"a"}, dups)
	require.Len(t, kept, 3)
	assert.Equal(t, "b", kept[0].ISBN)
	assert.Equal(t, "c", kept[1].ISBN)
	assert.Equal(t, "third a", kept[2].Title)
}

func TestDedupe_NoDuplicates(t *testing.T) {
	books := []catalog.Book{{ISBN: "a"}, {ISBN: "b"}}

	kept, dups := dedupe(books)
	assert.Equal(t, books, kept)
	assert.Empty(t, dups)

	kept, dups = dedupe(nil)
	assert.Empty(t, kept)
	assert.Empty(t, dups)
}

func TestIngest(t *testing.T) {
	first := writeGzip(t, "books1.jsonl.gz",
		`{"isbn":"978-0-1","title":"Dune","author":"Herbert","price":45000,"category":"Sci-Fi"}`,
		``,
		`{"isbn":"978-0-2","title":"Emma","author":"Austen","price":30000}`,
		`{"isbn":"","title":"blank"}`,
	)
	second := writeGzip(t, "books2.jsonl.gz",
		`{"isbn":"978-0-1","title":"Dune (2nd ed.)","author":"Herbert","price":46000,"category":"Sci-Fi"}`,
		`{"isbn":"978-0-3","title":"Hyperion","author":"Simmons","price":12000,"category":"Sci-Fi"}`,
		`not json`,
	)
	store := newFakeStore()

	report, err := NewIngester(store, nil, Options{BatchSize: 2}).Ingest(context.Background(), first, second)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Records)
	require.Len(t, report.Invalid, 2)
	assert.Equal(t, InvalidLine{File: first, Line: 4, Err: report.Invalid[0].Err}, report.Invalid[0])
	assert.Equal(t, second, report.Invalid[1].File)
	assert.Equal(t, 3, report.Invalid[1].Line)
	assert.Equal(t, []string{"978-0-1"}, report.Duplicates)
	assert.Equal(t, 3, report.Upserted)

	assert.Equal(t, []int{2, 1}, store.batches)
	assert.Equal(t, "Dune (2nd ed.)", store.books["978-0-1"].Title, "later file wins")
	assert.Contains(t, store.books, "978-0-2")
	assert.Contains(t, store.books, "978-0-3")
	assert.Equal(t, map[string]int64{"Sci-Fi": 1}, store.categories)
}

func TestIngest_DryRun(t *testing.T) {
	path := writeGzip(t, "books.jsonl.gz", `{"isbn":"a","title":"t","price":1}`)
	store := newFakeStore()

	report, err := NewIngester(store, nil, Options{DryRun: true}).Ingest(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Records)
	assert.Zero(t, report.Upserted)
	assert.Empty(t, store.books)
}

func TestIngest_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := NewIngester(newFakeStore(), nil, Options{}).
			Ingest(context.Background(), filepath.Join(t.TempDir(), "missing.gz"))
		require.Error(t, err)
	})
	t.Run("not gzip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain.jsonl")
		require.NoError(t, os.WriteFile(path, []byte(`{"isbn":"a"}`), 0o600))

		_, err := NewIngester(newFakeStore(), nil, Options{}).Ingest(context.Background(), path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gzip")
	})
	t.Run("store failure", func(t *testing.T) {
		path := writeGzip(t, "books.jsonl.gz", `{"isbn":"a","title":"t","price":1}`)
		store := newFakeStore()
		store.err = errors.New("db down")

		report, err := NewIngester(store, nil, Options{}).Ingest(context.Background(), path)
		require.ErrorContains(t, err, "db down")
		assert.Zero(t, report.Upserted)
	})
}

type fakeUsers struct {
	users map[string]user.User
}

func (f *fakeUsers) Upsert(_ context.Context, u user.User) (int64, error) {
	if f.users == nil {
		f.users = map[string]user.User{}
	}
	f.users[u.Email] = u
	return int64(len(f.users)), nil
}

type fakeKeys struct {
	keys []auth.APIKeyInfo
}

func (f *fakeKeys) Upsert(_ context.Context, k auth.APIKeyInfo) error {
	f.keys = append(f.keys, k)
	return nil
}

func TestParseBooks(t *testing.T) {
	books, err := ParseBooks(strings.NewReader(`[
		{"isbn":"978-0-1","title":"Dune","author":"Herbert","price":"45000.00","category":"Sci-Fi"},
		{"isbn":"978-0-2","title":"Emma","author":"Austen","price":30000}
	]`))
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Sci-Fi", books[0].Category)
	assert.True(t, decimal.NewFromInt(30000).Equal(books[1].Price))

	_, err = ParseBooks(strings.NewReader(`[{"isbn":"x","title":"t","price":-1}]`))
	assert.ErrorContains(t, err, "book #0")
}

func TestSeed(t *testing.T) {
	users := &fakeUsers{}
	books := newFakeStore()
	keys := &fakeKeys{}
	pepper := []byte("pepper")

	report, err := NewSeeder(users, books, keys, nil).Seed(context.Background(), SeedInput{
		Books: []catalog.Book{
			{ISBN: "978-0-1", Title: "Dune", Price: decimal.NewFromInt(45000), Category: "Sci-Fi"},
			{ISBN: "978-0-2", Title: "Emma", Price: decimal.NewFromInt(30000)},
		},
		APIKey: "secret",
		Pepper: pepper,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Books)
	assert.Len(t, report.Users, 2)
	assert.Equal(t, user.RoleAdmin, users.users["admin@test.com"].Role)
	assert.Equal(t, user.RoleCustomer, users.users["user@test.com"].Role)
	assert.Len(t, books.books, 2)

	require.Len(t, keys.keys, 1)
	assert.Equal(t, auth.HashKey("secret", pepper), keys.keys[0].KeyHash)
	assert.True(t, keys.keys[0].HasScope(auth.ScopeOrdersWrite))
	assert.True(t, keys.keys[0].HasScope(auth.ScopeOrdersRead))
}

func TestSeed_WithoutKey(t *testing.T) {
	keys := &fakeKeys{}

	_, err := NewSeeder(&fakeUsers{}, newFakeStore(), keys, nil).Seed(context.Background(), SeedInput{})
	require.NoError(t, err)
	assert.Empty(t, keys.keys)
}
