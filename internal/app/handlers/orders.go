package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/storefront/internal/service"
)

// IdempotencyKeyHeader — повтор запроса с тем же ключом возвращает уже созданный заказ.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

type CheckoutLineRequest struct {
	ProductID *int64 `json:"productId,omitempty" validate:"omitempty,gt=0"`
	Name      string `json:"name" validate:"required_without=ProductID"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
	SKU       string `json:"sku,omitempty"`
}

type CheckoutRequest struct {
	Lines       []CheckoutLineRequest  `json:"lines" validate:"required,min=1,dive"`
	Shipping    models.ShippingContact `json:"shipping"`
	Delivery    json.RawMessage        `json:"delivery,omitempty"`
	Payment     json.RawMessage        `json:"payment,omitempty"`
	ShippingFee int64                  `json:"shippingFee" validate:"gte=0"`
}

type ChangeStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
}

// CheckoutHandler обрабатывает POST /api/checkout и возвращает {id, orderNumber}.
func CheckoutHandler(log *slog.Logger, orders service.OrderService, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckoutHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}

		var req CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, logger, "invalid request", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, logger, validationMessage(err), err)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if len(key) > maxIdempotencyKeyLen {
			badRequest(w, logger, "idempotency key is too long", nil)
			return
		}
		session, hasSession, err := sessionKey(r)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}

		result, err := orders.Create(r.Context(), userID, toCheckout(req, key))
		if err != nil {
			writeError(w, logger, err)
			return
		}

		// заказ создан, локальная корзина больше не нужна
		if hasSession {
			sessions.Open(r.Context(), session).Clear(r.Context())
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, logger, status, result)
	}
}

func toCheckout(req CheckoutRequest, key string) service.CheckoutRequest {
	lines := make([]service.CheckoutLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, service.CheckoutLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			SKU:       l.SKU,
		})
	}
	return service.CheckoutRequest{
		Lines:          lines,
		Shipping:       req.Shipping,
		Delivery:       req.Delivery,
		Payment:        req.Payment,
		ShippingFee:    req.ShippingFee,
		IdempotencyKey: key,
	}
}

// ListOrdersHandler обрабатывает GET /api/orders.
func ListOrdersHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListOrdersHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}

		list, err := orders.List(r.Context(), userID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, list)
	}
}

// GetOrderHandler обрабатывает GET /api/orders/{id}.
func GetOrderHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}
		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || orderID <= 0 {
			badRequest(w, logger, "invalid order id", err)
			return
		}

		order, err := orders.Get(r.Context(), userID, orderID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// ChangeOrderStatusHandler обрабатывает PATCH /api/admin/orders/{id}/status.
func ChangeOrderStatusHandler(log *slog.Logger, orders service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ChangeOrderStatusHandler"
		logger := log.With(slog.String("op", op))

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || orderID <= 0 {
			badRequest(w, logger, "invalid order id", err)
			return
		}

		var req ChangeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, logger, "invalid request", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, logger, validationMessage(err), err)
			return
		}

		order, err := orders.ChangeStatus(r.Context(), orderID, req.Status)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}
