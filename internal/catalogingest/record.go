// Package catalogingest loads books into the catalog: bulk gzip JSON-lines
// files for ingest and a JSON document for seeding a fresh database.
package catalogingest

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookorama/internal/domain/catalog"
)

// decodeBook reads one book object. Unknown fields are skipped.
func decodeBook(d *jx.Decoder) (catalog.Book, error) {
	var (
		b     catalog.Book
		price string
	)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "isbn":
			b.ISBN, err = d.Str()
		case "title":
			b.Title, err = d.Str()
		case "author":
			b.Author, err = d.Str()
		case "category":
			if d.Next() == jx.Null {
				return d.Null()
			}
			b.Category, err = d.Str()
		case "price":
			// Prices may be written as numbers or strings.
			switch d.Next() {
			case jx.String:
				price, err = d.Str()
			case jx.Number:
				var n jx.Num
				n, err = d.Num()
				price = n.String()
			default:
				return errors.Errorf("price must be a number or string, got %s", d.Next())
			}
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return catalog.Book{}, err
	}

	b.ISBN = strings.TrimSpace(b.ISBN)
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.Category = strings.TrimSpace(b.Category)
	if b.ISBN == "" {
		return catalog.Book{}, errors.New("isbn is required")
	}
	if b.Title == "" {
		return catalog.Book{}, errors.Errorf("book %s: title is required", b.ISBN)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return catalog.Book{}, errors.Wrapf(err, "book %s: price", b.ISBN)
	}
	if !p.IsPositive() {
		return catalog.Book{}, errors.Errorf("book %s: price must be positive, got %s", b.ISBN, p)
	}
	b.Price = p.Round(2)
	return b, nil
}

// ParseBook parses a single JSON-lines record.
func ParseBook(line []byte) (catalog.Book, error) {
	return decodeBook(jx.DecodeBytes(line))
}
