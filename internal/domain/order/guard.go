package order

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Dedup describes how a repository should look for an order that a checkout
// duplicates. When Key is set only the key is matched. Otherwise an order of
// the same user with the same Fingerprint created within Window matches. A
// zero Window with an empty Key disables the check.
type Dedup struct {
	Key         string
	Fingerprint string
	Window      time.Duration
}

// Policy decides how duplicate submissions are detected.
type Policy interface {
	Name() string
	Dedup(fingerprint, key string) Dedup
}

// WindowPolicy treats an identical cart from the same user within Window as
// a repeat of the earlier order. It is a heuristic: a deliberate second
// purchase of the same books inside the window is folded into the first.
type WindowPolicy struct {
	Window time.Duration
}

func (p WindowPolicy) Name() string { return "window" }

// Dedup ignores the client key.
func (p WindowPolicy) Dedup(fingerprint, _ string) Dedup {
	return Dedup{Fingerprint: fingerprint, Window: p.Window}
}

// KeyPolicy matches on the client supplied Idempotency-Key. A replayed key
// returns the order created under it however old. Requests without a key
// fall back to the window heuristic.
type KeyPolicy struct {
	Fallback time.Duration
}

func (p KeyPolicy) Name() string { return "key" }

func (p KeyPolicy) Dedup(fingerprint, key string) Dedup {
	if key != "" {
		return Dedup{Key: key, Fingerprint: fingerprint}
	}
	return Dedup{Fingerprint: fingerprint, Window: p.Fallback}
}

// NewPolicy builds the policy registered under name.
func NewPolicy(name string, window time.Duration) (Policy, error) {
	switch name {
	case "", "window":
		return WindowPolicy{Window: window}, nil
	case "key":
		return KeyPolicy{Fallback: window}, nil
	default:
		return nil, errors.Errorf("unknown dedup policy %q", name)
	}
}

// Fingerprint identifies a cart by its ISBN multiset and priced total, so the
// order of books in the cart does not matter.
func Fingerprint(isbns []string, amount decimal.Decimal) string {
	sorted := slices.Clone(isbns)
	slices.Sort(sorted)

	h := sha256.New()
	for _, isbn := range sorted {
		h.Write([]byte(isbn))
		h.Write([]byte{0})
	}
	h.Write([]byte(amount.StringFixed(2)))
	return hex.EncodeToString(h.Sum(nil))
}
