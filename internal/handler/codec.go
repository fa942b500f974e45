package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookorama/internal/domain/catalog"
	"github.com/xenking/bookorama/internal/domain/order"
)

// checkoutBody is the POST /api/order payload. Cart entries may be bare
// ISBNs or the book objects the storefront keeps in its cart; only the isbn
// of an object is read.
type checkoutBody struct {
	Cart   []string
	UserID int64
}

// errMalformedBody wraps every decoding failure of a request body.
var errMalformedBody = errors.New("malformed request body")

func decodeCheckout(data []byte) (checkoutBody, error) {
	var body checkoutBody
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "cart":
			return decodeCart(d, &body.Cart)
		case "userId":
			id, err := decodeUserID(d)
			body.UserID = id
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return checkoutBody{}, errors.Wrap(errMalformedBody, err.Error())
	}
	return body, nil
}

func decodeCart(d *jx.Decoder, cart *[]string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Arr(func(d *jx.Decoder) error {
		switch d.Next() {
		case jx.String:
			isbn, err := d.Str()
			if err != nil {
				return err
			}
			*cart = append(*cart, isbn)
			return nil
		case jx.Object:
			var isbn string
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "isbn" {
					return d.Skip()
				}
				v, err := d.Str()
				isbn = v
				return err
			}); err != nil {
				return err
			}
			*cart = append(*cart, isbn)
			return nil
		default:
			return errors.Errorf("cart entry must be an ISBN or a book object, got %s", d.Next())
		}
	})
}

func decodeUserID(d *jx.Decoder) (int64, error) {
	switch d.Next() {
	case jx.Number:
		return d.Int64()
	case jx.Null:
		return 0, d.Null()
	default:
		return 0, errors.Errorf("userId must be a number, got %s", d.Next())
	}
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.RawStr(v.String())
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeSummary(e *jx.Encoder, s order.Summary) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(s.ID)
	e.FieldStart("userId")
	e.Int64(s.UserID)
	e.FieldStart("amount")
	encodeMoney(e, s.Amount)
	e.FieldStart("itemCount")
	e.Int(s.ItemCount)
	e.FieldStart("date")
	encodeTime(e, s.CreatedAt)
	e.ObjEnd()
}

func encodeDetail(e *jx.Encoder, d *order.Detail) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(d.ID)
	e.FieldStart("userId")
	e.Int64(d.UserID)
	e.FieldStart("amount")
	encodeMoney(e, d.Amount)
	e.FieldStart("itemCount")
	e.Int(d.ItemCount)
	e.FieldStart("date")
	encodeTime(e, d.CreatedAt)
	e.FieldStart("books")
	e.ArrStart()
	for _, it := range d.Items {
		e.ObjStart()
		e.FieldStart("isbn")
		e.Str(it.ISBN)
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("author")
		e.Str(it.Author)
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeBook(e *jx.Encoder, b catalog.Book) {
	e.ObjStart()
	e.FieldStart("isbn")
	e.Str(b.ISBN)
	e.FieldStart("title")
	e.Str(b.Title)
	e.FieldStart("author")
	e.Str(b.Author)
	e.FieldStart("price")
	encodeMoney(e, b.Price)
	e.FieldStart("category")
	if b.Category == "" {
		e.Null()
	} else {
		e.Str(b.Category)
	}
	e.ObjEnd()
}

// writeJSON writes the encoder contents with the given status.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent; a write error means the client is gone.
	_, _ = w.Write(e.Bytes())
}

// writeData wraps the value written by fn in {"data": ...}.
func writeData(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("data")
	fn(&e)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// apiError is the error body: code repeats the HTTP status, reason is a
// stable machine-readable code and field names the offending input.
type apiError struct {
	Code    int
	Reason  string
	Field   string
	Message string
}

func writeError(w http.ResponseWriter, ae apiError) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(ae.Code)
	e.FieldStart("reason")
	e.Str(ae.Reason)
	if ae.Field != "" {
		e.FieldStart("field")
		e.Str(ae.Field)
	}
	e.FieldStart("message")
	e.Str(strings.TrimSpace(ae.Message))
	e.ObjEnd()
	writeJSON(w, ae.Code, &e)
}
