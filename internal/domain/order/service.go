package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/bookorama/internal/domain/catalog"
	"github.com/xenking/bookorama/internal/domain/user"
)

const instrumentationName = "github.com/xenking/bookorama/internal/domain/order"

// CheckoutRequest is a cart submitted for checkout. Cart holds ISBNs in the
// order the client added them; prices are never taken from the client.
type CheckoutRequest struct {
	UserID         int64
	Cart           []string
	IdempotencyKey string
}

// CheckoutResult is the order a checkout resolved to.
type CheckoutResult struct {
	Order    Summary
	Replayed bool
}

// Config holds the optional settings of a Service.
type Config struct {
	// Policy detects duplicate submissions. Defaults to a 10s WindowPolicy.
	Policy Policy
	// PersistTimeout bounds the persistence step, which is not cancelled
	// when the client goes away. Defaults to 5s.
	PersistTimeout time.Duration

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (c *Config) setDefaults() {
	if c.Policy == nil {
		c.Policy = WindowPolicy{Window: 10 * time.Second}
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.TracerProvider == nil {
		c.TracerProvider = tracenoop.NewTracerProvider()
	}
	if c.MeterProvider == nil {
		c.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// Service turns carts into persisted orders.
type Service struct {
	users     user.Repository
	validator *Validator
	orders    Repository

	policy         Policy
	persistTimeout time.Duration
	inflight       singleflight.Group

	tracer  trace.Tracer
	metrics *checkoutMetrics
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	users user.Repository,
	books catalog.Reader,
	orders Repository,
	cfg Config,
) (*Service, error) {
	cfg.setDefaults()

	m, err := newCheckoutMetrics(cfg.MeterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	return &Service{
		users:          users,
		validator:      NewValidator(books),
		orders:         orders,
		policy:         cfg.Policy,
		persistTimeout: cfg.PersistTimeout,
		tracer:         cfg.TracerProvider.Tracer(instrumentationName),
		metrics:        m,
	}, nil
}

// CreateOrder resolves the user, validates the cart, prices it from the
// catalog and persists the order with its items atomically. A submission the
// duplicate policy matches returns the earlier order with Replayed set.
//
// Client errors are *ValidationError. Storage failures are
// *PersistenceError. When persistence runs out of time or the commit is not
// acknowledged the error is *OutcomeUnknownError.
func (s *Service) CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("cart.size", len(req.Cart)),
		attribute.String("dedup.policy", s.policy.Name()),
	))
	defer span.End()

	start := time.Now()
	res, err := s.createOrder(ctx, req)
	s.metrics.record(ctx, start, res, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FailureReason(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("order.id", res.Order.ID),
		attribute.Bool("order.replayed", res.Replayed),
	)
	return res, nil
}

func (s *Service) createOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	u, err := s.resolveUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	cart, err := s.validator.Validate(ctx, req.Cart)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "validate cart", Err: err}
	}

	o := assemble(u.ID, cart)
	o.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	dedup := s.policy.Dedup(o.Fingerprint, o.IdempotencyKey)

	// Identical submissions racing inside this process share one transaction.
	flightKey := fmt.Sprintf("%d/%s/%s", o.UserID, dedup.Key, o.Fingerprint)
	v, err, shared := s.inflight.Do(flightKey, func() (any, error) {
		return s.persist(ctx, o, dedup)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*CheckoutResult)

	zctx.From(ctx).Info("Checkout completed",
		zap.Int64("order_id", res.Order.ID),
		zap.Int64("user_id", o.UserID),
		zap.String("amount", res.Order.Amount.String()),
		zap.Int("items", res.Order.ItemCount),
		zap.Bool("replayed", res.Replayed),
		zap.Bool("shared", shared),
	)
	return res, nil
}

func (s *Service) resolveUser(ctx context.Context, id int64) (*user.User, error) {
	if id <= 0 {
		return nil, &ValidationError{Field: "userId", Err: ErrUnauthorized}
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, &ValidationError{Field: "userId", Err: ErrUnauthorized}
		}
		return nil, &PersistenceError{Op: "resolve user", Err: err}
	}
	return u, nil
}

// assemble prices every cart line from the validation snapshot. Each book is
// bought once, so the amount is the sum of current prices.
func assemble(userID int64, cart *ValidatedCart) *Order {
	items := make([]Item, len(cart.ISBNs))
	amount := decimal.Zero
	for i, isbn := range cart.ISBNs {
		price := cart.Books[isbn].Price
		items[i] = Item{ISBN: isbn, Price: price, Quantity: 1}
		amount = amount.Add(price.Mul(decimal.NewFromInt(int64(items[i].Quantity))))
	}
	amount = amount.Round(2)

	return &Order{
		UserID:      userID,
		Items:       items,
		Amount:      amount,
		Fingerprint: Fingerprint(cart.ISBNs, amount),
	}
}

// persist runs detached from the caller's cancellation: once the cart is
// accepted the commit is allowed to finish within persistTimeout.
func (s *Service) persist(ctx context.Context, o *Order, dedup Dedup) (*CheckoutResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	res, err := s.orders.Create(ctx, o, dedup)
	if err == nil {
		return &CheckoutResult{Order: res.Summary, Replayed: res.Replayed}, nil
	}

	var unknownErr *UnknownBookError
	switch {
	case errors.As(err, &unknownErr):
		// Book deleted between validation and insert.
		return nil, &ValidationError{Field: "cart", Err: err}
	case errors.Is(err, user.ErrNotFound):
		return nil, &ValidationError{Field: "userId", Err: ErrUnauthorized}
	case errors.Is(err, ErrCommitUnknown),
		errors.Is(err, context.DeadlineExceeded),
		ctx.Err() != nil:
		return nil, &OutcomeUnknownError{Err: err}
	default:
		return nil, &PersistenceError{Op: "persist order", Err: err}
	}
}
