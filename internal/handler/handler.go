// Package handler exposes checkout, order history and catalog browse over
// HTTP with JSON bodies.
package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookorama/internal/domain/auth"
	"github.com/xenking/bookorama/internal/domain/catalog"
	"github.com/xenking/bookorama/internal/domain/order"
)

// Request headers understood by the API.
const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplay         = "Idempotent-Replay"
)

const maxBodyBytes = 1 << 20

// Checkout places orders.
type Checkout interface {
	CreateOrder(ctx context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error)
}

// OrderReader serves order history.
type OrderReader interface {
	ListOrders(ctx context.Context, viewerID int64, p order.ListParams) (*order.Page, error)
	GetOrder(ctx context.Context, orderID, viewerID int64) (*order.Detail, error)
}

// Handler serves the /api routes.
type Handler struct {
	books    catalog.Repository
	checkout Checkout
	orders   OrderReader
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(books catalog.Repository, checkout Checkout, orders OrderReader) *Handler {
	return &Handler{
		books:    books,
		checkout: checkout,
		orders:   orders,
	}
}

// Register mounts the API routes on mux. Order routes require an API key
// with the matching scope; catalog browse is public.
func (h *Handler) Register(mux *http.ServeMux, sec *SecurityHandler) {
	mux.Handle("POST /api/order", sec.Require(auth.ScopeOrdersWrite, http.HandlerFunc(h.CreateOrder)))
	mux.Handle("GET /api/orders", sec.Require(auth.ScopeOrdersRead, http.HandlerFunc(h.ListOrders)))
	mux.Handle("GET /api/order/{id}", sec.Require(auth.ScopeOrdersRead, http.HandlerFunc(h.GetOrder)))
	mux.HandleFunc("GET /api/books", h.ListBooks)
	mux.HandleFunc("GET /api/book/{isbn}", h.GetBook)
}

// CreateOrder handles POST /api/order. A new order answers 201; a
// submission matched to an earlier order answers 200 with the
// Idempotent-Replay header.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apiError{Code: http.StatusBadRequest, Reason: "malformed_body", Message: err.Error()})
		return
	}
	body, err := decodeCheckout(data)
	if err != nil {
		writeError(w, apiError{Code: http.StatusBadRequest, Reason: "malformed_body", Message: err.Error()})
		return
	}

	res, err := h.checkout.CreateOrder(r.Context(), order.CheckoutRequest{
		UserID:         body.UserID,
		Cart:           body.Cart,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		w.Header().Set(HeaderReplay, "true")
	}
	writeData(w, status, func(e *jx.Encoder) {
		encodeSummary(e, res.Order)
	})
}

// ListOrders handles GET /api/orders for the user in X-User-ID.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var limit int
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apiError{Code: http.StatusBadRequest, Reason: "invalid_limit", Field: "limit", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	page, err := h.orders.ListOrders(r.Context(), viewerID, order.ListParams{Limit: limit, Cursor: q.Get("cursor")})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("data")
	e.ArrStart()
	for _, s := range page.Orders {
		encodeSummary(&e, s)
	}
	e.ArrEnd()
	if page.NextCursor != "" {
		e.FieldStart("nextCursor")
		e.Str(page.NextCursor)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetOrder handles GET /api/order/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, apiError{Code: http.StatusNotFound, Reason: "not_found", Message: order.ErrNotFound.Error()})
		return
	}

	d, err := h.orders.GetOrder(r.Context(), id, viewerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) {
		encodeDetail(e, d)
	})
}

// ListBooks handles GET /api/books.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, b := range books {
			encodeBook(e, b)
		}
		e.ArrEnd()
	})
}

// GetBook handles GET /api/book/{isbn}.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.books.GetByISBN(r.Context(), r.PathValue("isbn"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) {
		encodeBook(e, *b)
	})
}

// viewerFromRequest reads the end user the storefront acts for.
func viewerFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderUserID)), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, apiError{
			Code:    http.StatusUnauthorized,
			Reason:  "unauthorized",
			Field:   HeaderUserID,
			Message: "a positive user id is required in " + HeaderUserID,
		})
		return 0, false
	}
	return id, true
}

// writeDomainError maps domain errors to HTTP responses. Unexpected errors
// are logged and answered with 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	reason := order.FailureReason(err)

	var (
		vErr       *order.ValidationError
		persistErr *order.PersistenceError
		unknownOut *order.OutcomeUnknownError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, apiError{Code: http.StatusBadRequest, Reason: reason, Field: vErr.Field, Message: vErr.Err.Error()})
	case errors.Is(err, order.ErrUnauthorized):
		writeError(w, apiError{Code: http.StatusUnauthorized, Reason: reason, Message: err.Error()})
	case errors.Is(err, order.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		writeError(w, apiError{Code: http.StatusNotFound, Reason: "not_found", Message: err.Error()})
	case errors.As(err, &unknownOut):
		zctx.From(r.Context()).Warn("Order outcome unknown", zap.Error(err))
		writeError(w, apiError{
			Code:    http.StatusGatewayTimeout,
			Reason:  reason,
			Message: "the order may have been placed; check order history before retrying",
		})
	case errors.As(err, &persistErr):
		zctx.From(r.Context()).Error("Order persistence failed", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, apiError{Code: http.StatusServiceUnavailable, Reason: reason, Message: "order storage is unavailable, nothing was saved"})
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, apiError{Code: http.StatusInternalServerError, Reason: "internal", Message: "internal server error"})
	}
}
