package order

import (
	"encoding/base64"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Cursor is a keyset position in a user's order history. Orders are listed
// by (CreatedAt, ID) descending, so the next page starts strictly below it.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// Encode returns the opaque URL-safe form of the cursor.
func (c Cursor) Encode() string {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("t")
	e.Int64(c.CreatedAt.UnixMicro())
	e.FieldStart("id")
	e.Int64(c.ID)
	e.ObjEnd()
	return base64.RawURLEncoding.EncodeToString(e.Bytes())
}

// DecodeCursor parses a cursor produced by Encode.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, errors.Wrap(ErrInvalidCursor, err.Error())
	}

	var (
		c      Cursor
		micros int64
	)
	if err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "t":
			micros, err = d.Int64()
		case "id":
			c.ID, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return Cursor{}, errors.Wrap(ErrInvalidCursor, err.Error())
	}
	if micros <= 0 || c.ID <= 0 {
		return Cursor{}, ErrInvalidCursor
	}

	c.CreatedAt = time.UnixMicro(micros).UTC()
	return c, nil
}
