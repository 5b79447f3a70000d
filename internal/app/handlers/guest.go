package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/storefront/internal/cartsync"
	"github.com/linemk/storefront/internal/clientcart"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/service"
	"github.com/linemk/storefront/internal/storage"
)

// ProductReader — чтение каталога для гостевой корзины.
type ProductReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// guestCache открывает корзину гостя; без заголовка сессии запрос отклоняется.
func guestCache(w http.ResponseWriter, r *http.Request, logger *slog.Logger, sessions CartSessions) (*clientcart.Cache, bool) {
	key, ok, err := sessionKey(r)
	if err != nil {
		badRequest(w, logger, "invalid cart session", err)
		return nil, false
	}
	if !ok {
		badRequest(w, logger, CartSessionHeader+" header is required", nil)
		return nil, false
	}
	return sessions.Open(r.Context(), key), true
}

// GetGuestCartHandler обрабатывает GET /api/guest/cart.
func GetGuestCartHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetGuestCartHandler"
		logger := log.With(slog.String("op", op))

		cache, ok := guestCache(w, r, logger, sessions)
		if !ok {
			return
		}
		view, err := reconciler.Get(r.Context(), cartsync.Identity{}, cache)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// AddGuestCartItemHandler обрабатывает POST /api/guest/cart. Имя, цена и остаток
// берутся из каталога для новой строки; существующая строка увеличивается
// с учётом остатка, запомненного при её добавлении.
func AddGuestCartItemHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions, products ProductReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AddGuestCartItemHandler"
		logger := log.With(slog.String("op", op))

		var req AddCartItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, logger, "invalid request", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, logger, validationMessage(err), err)
			return
		}
		qty := 1
		if req.Quantity != nil {
			qty = *req.Quantity
		}

		cache, ok := guestCache(w, r, logger, sessions)
		if !ok {
			return
		}

		product, err := products.GetProductByID(r.Context(), req.ProductID)
		if err != nil {
			if errors.Is(err, storage.ErrProductNotFound) {
				err = service.ErrProductNotFound
			}
			writeError(w, logger, err)
			return
		}
		if !product.IsActive {
			writeError(w, logger, service.ErrProductInactive)
			return
		}

		line := clientcart.CartLine{
			ProductID:   product.ID,
			Name:        product.Name,
			UnitPrice:   product.UnitPrice,
			ImageRef:    product.ImageRef,
			StockAtSync: product.Stock,
		}
		view, err := reconciler.Add(r.Context(), cartsync.Identity{}, cache, line, qty)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// UpdateGuestCartItemHandler обрабатывает PUT /api/guest/cart.
func UpdateGuestCartItemHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateGuestCartItemHandler"
		logger := log.With(slog.String("op", op))

		var req UpdateCartItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, logger, "invalid request", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, logger, validationMessage(err), err)
			return
		}

		cache, ok := guestCache(w, r, logger, sessions)
		if !ok {
			return
		}
		view, err := reconciler.Update(r.Context(), cartsync.Identity{}, cache, req.ProductID, *req.Quantity)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// RemoveGuestCartItemHandler обрабатывает DELETE /api/guest/cart/{productID}.
func RemoveGuestCartItemHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RemoveGuestCartItemHandler"
		logger := log.With(slog.String("op", op))

		productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
		if err != nil || productID <= 0 {
			badRequest(w, logger, "invalid product id", err)
			return
		}

		cache, ok := guestCache(w, r, logger, sessions)
		if !ok {
			return
		}
		view, err := reconciler.Remove(r.Context(), cartsync.Identity{}, cache, productID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// ClearGuestCartHandler обрабатывает DELETE /api/guest/cart.
func ClearGuestCartHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ClearGuestCartHandler"
		logger := log.With(slog.String("op", op))

		cache, ok := guestCache(w, r, logger, sessions)
		if !ok {
			return
		}
		view, err := reconciler.Clear(r.Context(), cartsync.Identity{}, cache)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}
