package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/linemk/storefront/internal/cartsync"
	"github.com/linemk/storefront/internal/clientcart"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/storefront/internal/service"
)

// CartSessionHeader — ключ гостевой корзины посетителя (UUID).
const CartSessionHeader = "X-Cart-Session"

// CartReconciler — согласование клиентского кэша с серверной корзиной.
type CartReconciler interface {
	SignIn(ctx context.Context, userID int64, cache *clientcart.Cache) (models.CartView, error)
	Get(ctx context.Context, ident cartsync.Identity, cache *clientcart.Cache) (models.CartView, error)
	Add(ctx context.Context, ident cartsync.Identity, cache *clientcart.Cache, line clientcart.CartLine, qty int) (models.CartView, error)
	Update(ctx context.Context, ident cartsync.Identity, cache *clientcart.Cache, productID int64, qty int) (models.CartView, error)
	Remove(ctx context.Context, ident cartsync.Identity, cache *clientcart.Cache, productID int64) (models.CartView, error)
	Clear(ctx context.Context, ident cartsync.Identity, cache *clientcart.Cache) (models.CartView, error)
}

// CartSessions открывает кэш посетителя по ключу сессии.
type CartSessions interface {
	Open(ctx context.Context, key string) *clientcart.Cache
}

// AddCartItemRequest — тело POST /api/cart. Quantity по умолчанию 1.
type AddCartItemRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  *int  `json:"quantity,omitempty" validate:"omitempty,gte=1"`
}

// UpdateCartItemRequest — тело PUT /api/cart. Количество ниже 1 поднимается до 1.
type UpdateCartItemRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  *int  `json:"quantity" validate:"required"`
}

// MergeCartLine — строка корзины браузера. Остаток и цена могут быть неизвестны:
// сервер всё равно применит свои значения при слиянии.
type MergeCartLine struct {
	ProductID   int64  `json:"productId" validate:"required,gt=0"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice" validate:"gte=0"`
	ImageRef    string `json:"imageRef,omitempty"`
	Quantity    int    `json:"quantity" validate:"gte=1"`
	StockAtSync int    `json:"stockAtSync" validate:"gte=0"`
}

// MergeCartRequest — строки корзины, которые браузер хранил у себя до входа.
type MergeCartRequest struct {
	Lines []MergeCartLine `json:"lines" validate:"dive"`
}

func (req MergeCartRequest) cartLines() []clientcart.CartLine {
	lines := make([]clientcart.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, clientcart.CartLine{
			ProductID:   l.ProductID,
			Name:        l.Name,
			UnitPrice:   l.UnitPrice,
			ImageRef:    l.ImageRef,
			Quantity:    l.Quantity,
			StockAtSync: l.StockAtSync,
		})
	}
	return lines
}

// sessionKey возвращает ключ гостевой корзины из заголовка. Пустой заголовок не ошибка.
func sessionKey(r *http.Request) (string, bool, error) {
	raw := r.Header.Get(CartSessionHeader)
	if raw == "" {
		return "", false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false, err
	}
	return id.String(), true, nil
}

// userCache открывает кэш сессии, если клиент её прислал, иначе кэш на время запроса.
func userCache(r *http.Request, log *slog.Logger, sessions CartSessions) (*clientcart.Cache, error) {
	key, ok, err := sessionKey(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return clientcart.Ephemeral(r.Context(), log), nil
	}
	return sessions.Open(r.Context(), key), nil
}

func identity(r *http.Request) (cartsync.Identity, bool) {
	userID, ok := jwtmiddleware.FromContext(r.Context())
	if !ok || userID <= 0 {
		return cartsync.Identity{}, false
	}
	return cartsync.Identity{UserID: userID, Authenticated: true}, true
}

// GetCartHandler обрабатывает GET /api/cart.
func GetCartHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetCartHandler"
		logger := log.With(slog.String("op", op))

		ident, ok := identity(r)
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}
		cache, err := userCache(r, log, sessions)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}

		view, err := reconciler.Get(r.Context(), ident, cache)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// AddCartItemHandler обрабатывает POST /api/cart.
func AddCartItemHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AddCartItemHandler"
		logger := log.With(slog.String("op", op))

		ident, ok := identity(r)
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}

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

		cache, err := userCache(r, log, sessions)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}
		line, found := cache.Line(req.ProductID)
		if !found {
			line = clientcart.CartLine{ProductID: req.ProductID}
		}

		view, err := reconciler.Add(r.Context(), ident, cache, line, qty)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// UpdateCartItemHandler обрабатывает PUT /api/cart.
func UpdateCartItemHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateCartItemHandler"
		logger := log.With(slog.String("op", op))

		ident, ok := identity(r)
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}

		var req UpdateCartItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, logger, "invalid request", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, logger, validationMessage(err), err)
			return
		}

		cache, err := userCache(r, log, sessions)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}

		view, err := reconciler.Update(r.Context(), ident, cache, req.ProductID, *req.Quantity)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// RemoveCartItemHandler обрабатывает DELETE /api/cart/{productID}. Повторное удаление не ошибка.
func RemoveCartItemHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RemoveCartItemHandler"
		logger := log.With(slog.String("op", op))

		ident, ok := identity(r)
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}

		productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
		if err != nil || productID <= 0 {
			badRequest(w, logger, "invalid product id", err)
			return
		}

		cache, err := userCache(r, log, sessions)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}

		view, err := reconciler.Remove(r.Context(), ident, cache, productID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// ClearCartHandler обрабатывает DELETE /api/cart.
func ClearCartHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ClearCartHandler"
		logger := log.With(slog.String("op", op))

		ident, ok := identity(r)
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}
		cache, err := userCache(r, log, sessions)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}

		view, err := reconciler.Clear(r.Context(), ident, cache)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// MergeCartHandler обрабатывает POST /api/cart/merge: переносит гостевую корзину
// (из сессии или из тела запроса) в серверную и возвращает итоговую корзину.
func MergeCartHandler(log *slog.Logger, reconciler CartReconciler, sessions CartSessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MergeCartHandler"
		logger := log.With(slog.String("op", op))

		ident, ok := identity(r)
		if !ok {
			writeError(w, logger, service.ErrUnauthenticated)
			return
		}

		key, hasSession, err := sessionKey(r)
		if err != nil {
			badRequest(w, logger, "invalid cart session", err)
			return
		}

		var cache *clientcart.Cache
		if hasSession {
			cache = sessions.Open(r.Context(), key)
		} else {
			var req MergeCartRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				badRequest(w, logger, "invalid request", err)
				return
			}
			if err := validate.Struct(req); err != nil {
				badRequest(w, logger, validationMessage(err), err)
				return
			}
			// строки переносятся как есть: количество ограничит сервер
			cache = clientcart.Ephemeral(r.Context(), log)
			cache.Replace(r.Context(), req.cartLines())
		}

		view, err := reconciler.SignIn(r.Context(), ident.UserID, cache)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}
