// Package cartsync согласует клиентский кэш корзины с серверной корзиной.
// Пока пользователь не вошёл, все операции локальные. После входа сервер
// каноничен: кэш после каждой успешной операции перезаписывается ответом сервера,
// а при ошибке возвращается к состоянию до операции.
package cartsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linemk/storefront/internal/clientcart"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/logger/sl"
	"github.com/linemk/storefront/internal/service"
)

// ServerCart — серверная корзина. Реализуется service.CartService.
type ServerCart interface {
	Get(ctx context.Context, userID int64) (models.CartView, error)
	Add(ctx context.Context, userID, productID int64, qty int) (models.CartView, error)
	Update(ctx context.Context, userID, productID int64, qty int) (models.CartView, error)
	Remove(ctx context.Context, userID, productID int64) (models.CartView, error)
	Clear(ctx context.Context, userID int64) (models.CartView, error)
}

// Identity — кто выполняет операцию.
type Identity struct {
	UserID        int64
	Authenticated bool
}

func (i Identity) signedIn() bool {
	return i.Authenticated && i.UserID > 0
}

type Reconciler struct {
	log    *slog.Logger
	server ServerCart
}

func NewReconciler(log *slog.Logger, server ServerCart) *Reconciler {
	return &Reconciler{log: log, server: server}
}

// SignIn переносит строки кэша на сервер операцией добавления, а не перезаписи,
// затем заменяет кэш серверной корзиной. Строки, которые сервер отверг
// (товар удалён, неактивен или закончился), пропускаются. Принятая сервером строка
// сразу убирается из кэша, поэтому повтор после сбоя отправляет только оставшиеся.
func (r *Reconciler) SignIn(ctx context.Context, userID int64, cache *clientcart.Cache) (models.CartView, error) {
	const op = "cartsync.Reconciler.SignIn"
	logger := r.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.String("cart_key", cache.Key()))

	if userID <= 0 {
		return models.CartView{}, service.ErrUnauthenticated
	}

	lines := cache.Lines()
	skipped := 0
	for _, line := range lines {
		_, err := r.server.Add(ctx, userID, line.ProductID, line.Quantity)
		if err == nil {
			cache.Remove(ctx, line.ProductID)
			continue
		}
		if refused(err) {
			skipped++
			logger.Info("cached line refused by server", slog.Int64("productID", line.ProductID), sl.Err(err))
			continue
		}
		logger.Error("failed to merge cached line", slog.Int64("productID", line.ProductID), sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: %w", op, err)
	}

	view, err := r.server.Get(ctx, userID)
	if err != nil {
		logger.Error("failed to load server cart", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: %w", op, err)
	}
	cache.Replace(ctx, Lines(view))

	logger.Info("cart merged", slog.Int("cached", len(lines)), slog.Int("skipped", skipped), slog.Int("server", len(view.Items)))
	return view, nil
}

// Get возвращает каноническую корзину. Для вошедшего пользователя кэш обновляется.
func (r *Reconciler) Get(ctx context.Context, ident Identity, cache *clientcart.Cache) (models.CartView, error) {
	if !ident.signedIn() {
		return View(cache.Lines()), nil
	}
	view, err := r.server.Get(ctx, ident.UserID)
	if err != nil {
		return models.CartView{}, fmt.Errorf("cartsync.Reconciler.Get: %w", err)
	}
	cache.Replace(ctx, Lines(view))
	return view, nil
}

// Add добавляет товар. Line несёт имя, цену и последний известный остаток.
func (r *Reconciler) Add(ctx context.Context, ident Identity, cache *clientcart.Cache, line clientcart.CartLine, qty int) (models.CartView, error) {
	const op = "cartsync.Reconciler.Add"

	if !ident.signedIn() {
		if !cache.Add(ctx, line, qty) {
			return models.CartView{}, fmt.Errorf("%s: %w", op, service.ErrInsufficientStock)
		}
		return View(cache.Lines()), nil
	}

	return r.apply(ctx, op, ident, cache,
		func() { cache.Add(ctx, line, qty) },
		func() (models.CartView, error) { return r.server.Add(ctx, ident.UserID, line.ProductID, qty) },
	)
}

func (r *Reconciler) Update(ctx context.Context, ident Identity, cache *clientcart.Cache, productID int64, qty int) (models.CartView, error) {
	const op = "cartsync.Reconciler.Update"

	if !ident.signedIn() {
		if _, ok := cache.Line(productID); !ok {
			return models.CartView{}, fmt.Errorf("%s: cart line: %w", op, service.ErrNotFound)
		}
		if !cache.UpdateQuantity(ctx, productID, qty) {
			return models.CartView{}, fmt.Errorf("%s: %w", op, service.ErrInsufficientStock)
		}
		return View(cache.Lines()), nil
	}

	return r.apply(ctx, op, ident, cache,
		func() { cache.UpdateQuantity(ctx, productID, qty) },
		func() (models.CartView, error) { return r.server.Update(ctx, ident.UserID, productID, qty) },
	)
}

// Remove идемпотентен на обеих сторонах.
func (r *Reconciler) Remove(ctx context.Context, ident Identity, cache *clientcart.Cache, productID int64) (models.CartView, error) {
	const op = "cartsync.Reconciler.Remove"

	if !ident.signedIn() {
		cache.Remove(ctx, productID)
		return View(cache.Lines()), nil
	}

	return r.apply(ctx, op, ident, cache,
		func() { cache.Remove(ctx, productID) },
		func() (models.CartView, error) { return r.server.Remove(ctx, ident.UserID, productID) },
	)
}

// Clear очищает корзину; на сервере одним запросом.
func (r *Reconciler) Clear(ctx context.Context, ident Identity, cache *clientcart.Cache) (models.CartView, error) {
	const op = "cartsync.Reconciler.Clear"

	if !ident.signedIn() {
		cache.Clear(ctx)
		return models.NewCartView(nil), nil
	}

	return r.apply(ctx, op, ident, cache,
		func() { cache.Clear(ctx) },
		func() (models.CartView, error) { return r.server.Clear(ctx, ident.UserID) },
	)
}

// apply: оптимистичное локальное изменение, вызов сервера, затем перезапись кэша
// ответом сервера или откат к снимку. Если сервер записал изменение, но не смог
// вернуть корзину (Stale), остаётся оптимистичное локальное состояние.
func (r *Reconciler) apply(
	ctx context.Context,
	op string,
	ident Identity,
	cache *clientcart.Cache,
	local func(),
	remote func() (models.CartView, error),
) (models.CartView, error) {
	logger := r.log.With(slog.String("op", op), slog.Int64("userID", ident.UserID))

	snapshot := cache.Snapshot()
	local()

	view, err := remote()
	if err != nil {
		cache.Restore(ctx, snapshot)
		logger.Warn("server rejected cart mutation, local cart restored", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: %w", op, err)
	}

	if view.Stale {
		logger.Warn("server cart reload failed, keeping local state")
		optimistic := View(cache.Lines())
		optimistic.Stale = true
		return optimistic, nil
	}

	cache.Replace(ctx, Lines(view))
	return view, nil
}

func refused(err error) bool {
	return errors.Is(err, service.ErrProductNotFound) ||
		errors.Is(err, service.ErrProductInactive) ||
		errors.Is(err, service.ErrInsufficientStock)
}
