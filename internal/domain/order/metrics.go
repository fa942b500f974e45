package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type checkoutMetrics struct {
	orders   metric.Int64Counter
	replays  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newCheckoutMetrics(meter metric.Meter) (*checkoutMetrics, error) {
	var (
		m   checkoutMetrics
		err error
	)
	if m.orders, err = meter.Int64Counter("bookorama.checkout.orders",
		metric.WithDescription("Orders created by checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if m.replays, err = meter.Int64Counter("bookorama.checkout.replays",
		metric.WithDescription("Checkouts resolved to an existing order"),
	); err != nil {
		return nil, errors.Wrap(err, "replays counter")
	}
	if m.failures, err = meter.Int64Counter("bookorama.checkout.failures",
		metric.WithDescription("Failed checkouts by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if m.duration, err = meter.Float64Histogram("bookorama.checkout.duration",
		metric.WithDescription("Checkout latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	return &m, nil
}

func (m *checkoutMetrics) record(ctx context.Context, start time.Time, res *CheckoutResult, err error) {
	m.duration.Record(ctx, time.Since(start).Seconds())
	switch {
	case err != nil:
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", FailureReason(err))))
	case res.Replayed:
		m.replays.Add(ctx, 1)
	default:
		m.orders.Add(ctx, 1)
	}
}

// FailureReason returns a stable machine-readable code for a checkout or
// read error.
func FailureReason(err error) string {
	var (
		dupErr     *DuplicateItemError
		unknownErr *UnknownBookError
		unknownOut *OutcomeUnknownError
		persistErr *PersistenceError
	)
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &dupErr):
		return "duplicate_item"
	case errors.As(err, &unknownErr):
		return "unknown_book"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCursor):
		return "invalid_cursor"
	case errors.As(err, &unknownOut):
		return "outcome_unknown"
	case errors.As(err, &persistErr):
		return "persistence_failure"
	default:
		return "internal"
	}
}
