package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookorama/internal/domain/catalog"
)

const (
	bookColumns = `b.isbn, b.title, b.author, b.price, COALESCE(c.name, ''), b.created_at
		FROM books b LEFT JOIN categories c ON c.id = b.category_id`

	listBooksSQL       = `SELECT ` + bookColumns + ` ORDER BY b.created_at DESC, b.isbn`
	getBookByISBNSQL   = `SELECT ` + bookColumns + ` WHERE b.isbn = $1`
	getBooksByISBNsSQL = `SELECT ` + bookColumns + ` WHERE b.isbn = ANY($1)`

	upsertCategorySQL = `INSERT INTO categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	upsertBookSQL = `INSERT INTO books (isbn, title, author, price, category_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (isbn) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			price = EXCLUDED.price,
			category_id = EXCLUDED.category_id`
)

var _ catalog.Repository = (*BookRepository)(nil)

// BookRepository implements catalog.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// List returns the whole catalog, newest first.
func (r *BookRepository) List(ctx context.Context) ([]catalog.Book, error) {
	rows, err := r.pool.Query(ctx, listBooksSQL)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// GetByISBN returns a single book or catalog.ErrNotFound.
func (r *BookRepository) GetByISBN(ctx context.Context, isbn string) (*catalog.Book, error) {
	rows, err := r.pool.Query(ctx, getBookByISBNSQL, isbn)
	if err != nil {
		return nil, fmt.Errorf("getting book %q: %w", isbn, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %q: %w", isbn, err)
	}
	return &b, nil
}

// GetByISBNs resolves all given ISBNs with one query.
func (r *BookRepository) GetByISBNs(ctx context.Context, isbns []string) (map[string]catalog.Book, error) {
	rows, err := r.pool.Query(ctx, getBooksByISBNsSQL, isbns)
	if err != nil {
		return nil, fmt.Errorf("getting books by isbn: %w", err)
	}
	books, err := pgx.CollectRows(rows, scanBook)
	if err != nil {
		return nil, fmt.Errorf("getting books by isbn: %w", err)
	}

	byISBN := make(map[string]catalog.Book, len(books))
	for _, b := range books {
		byISBN[b.ISBN] = b
	}
	return byISBN, nil
}

// UpsertCategory creates the category if needed and returns its ID.
func (r *BookRepository) UpsertCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, upsertCategorySQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting category %q: %w", name, err)
	}
	return id, nil
}

// UpsertBooks writes books in one batch. categoryIDs maps category names to
// IDs; books with an unknown or empty category are stored uncategorized.
func (r *BookRepository) UpsertBooks(ctx context.Context, books []catalog.Book, categoryIDs map[string]int64) error {
	batch := &pgx.Batch{}
	for _, b := range books {
		var categoryID *int64
		if id, ok := categoryIDs[b.Category]; ok {
			categoryID = &id
		}
		batch.Queue(upsertBookSQL, b.ISBN, b.Title, b.Author, b.Price, categoryID)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d books: %w", len(books), err)
	}
	return nil
}

func scanBook(row pgx.CollectableRow) (catalog.Book, error) {
	var b catalog.Book
	err := row.Scan(&b.ISBN, &b.Title, &b.Author, &b.Price, &b.Category, &b.CreatedAt)
	return b, err
}
