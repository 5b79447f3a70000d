package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/logger/sl"
	"github.com/linemk/storefront/internal/quantity"
	"github.com/linemk/storefront/internal/storage"
)

// CartService — серверная корзина авторизованного пользователя.
// Каждая операция возвращает каноническое представление корзины после записи.
type CartService interface {
	Get(ctx context.Context, userID int64) (models.CartView, error)
	Add(ctx context.Context, userID, productID int64, qty int) (models.CartView, error)
	Update(ctx context.Context, userID, productID int64, qty int) (models.CartView, error)
	Remove(ctx context.Context, userID, productID int64) (models.CartView, error)
	Clear(ctx context.Context, userID int64) (models.CartView, error)
}

type cartService struct {
	log      *slog.Logger
	products storage.ProductStorage
	carts    storage.CartStorage
}

func NewCartService(log *slog.Logger, products storage.ProductStorage, carts storage.CartStorage) CartService {
	return &cartService{
		log:      log,
		products: products,
		carts:    carts,
	}
}

// Get возвращает строки корзины. Неактивные и закончившиеся товары скрываются, но не удаляются,
// а количество заново ограничивается текущим остатком.
func (s *cartService) Get(ctx context.Context, userID int64) (models.CartView, error) {
	const op = "service.CartService.Get"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID))

	if userID <= 0 {
		return models.CartView{}, ErrUnauthenticated
	}

	// остаток мог уменьшиться после последней записи
	if err := s.carts.ClampToStock(ctx, userID); err != nil {
		logger.Warn("failed to clamp cart to stock", sl.Err(err))
	}

	items, err := s.carts.ListCart(ctx, userID)
	if err != nil {
		logger.Error("failed to list cart", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: failed to list cart: %w", op, err)
	}

	visible := make([]models.CartItem, 0, len(items))
	for _, it := range items {
		if !it.IsActive || it.Stock < 1 {
			continue
		}
		it.Quantity = quantity.Clamp(it.Quantity, it.Stock)
		visible = append(visible, it)
	}
	return models.NewCartView(visible), nil
}

// Add прибавляет qty к строке корзины или создаёт её: clamp(existing + qty, stock).
func (s *cartService) Add(ctx context.Context, userID, productID int64, qty int) (models.CartView, error) {
	const op = "service.CartService.Add"
	logger := s.log.With(
		slog.String("op", op),
		slog.Int64("userID", userID),
		slog.Int64("productID", productID),
		slog.Int("quantity", qty),
	)

	if userID <= 0 {
		return models.CartView{}, ErrUnauthenticated
	}

	product, err := s.availableProduct(ctx, productID)
	if err != nil {
		logger.Warn("product is not available for cart", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: %w", op, err)
	}

	stored, err := s.carts.AddItem(ctx, userID, productID, quantity.Clamp(qty, product.Stock))
	if err != nil {
		if errors.Is(err, storage.ErrProductUnavailable) {
			// остаток закончился между проверкой и записью
			logger.Warn("product became unavailable during add")
			return models.CartView{}, fmt.Errorf("%s: %w", op, ErrInsufficientStock)
		}
		logger.Error("failed to add cart item", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: failed to add cart item: %w", op, err)
	}

	logger.Info("cart item added", slog.Int("stored", stored))
	return s.afterWrite(ctx, logger, userID), nil
}

// Update задаёт количество строки: clamp(qty, stock), не меньше 1. Обнулить строку можно только Remove.
func (s *cartService) Update(ctx context.Context, userID, productID int64, qty int) (models.CartView, error) {
	const op = "service.CartService.Update"
	logger := s.log.With(
		slog.String("op", op),
		slog.Int64("userID", userID),
		slog.Int64("productID", productID),
		slog.Int("quantity", qty),
	)

	if userID <= 0 {
		return models.CartView{}, ErrUnauthenticated
	}

	product, err := s.availableProduct(ctx, productID)
	if err != nil {
		logger.Warn("product is not available for cart", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: %w", op, err)
	}

	stored, err := s.carts.SetItem(ctx, userID, productID, quantity.Clamp(qty, product.Stock))
	if err != nil {
		if errors.Is(err, storage.ErrCartItemNotFound) {
			logger.Warn("cart item not found")
			return models.CartView{}, fmt.Errorf("%s: cart item: %w", op, ErrNotFound)
		}
		logger.Error("failed to update cart item", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: failed to update cart item: %w", op, err)
	}

	logger.Info("cart item updated", slog.Int("stored", stored))
	return s.afterWrite(ctx, logger, userID), nil
}

// Remove идемпотентно удаляет строку.
func (s *cartService) Remove(ctx context.Context, userID, productID int64) (models.CartView, error) {
	const op = "service.CartService.Remove"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("productID", productID))

	if userID <= 0 {
		return models.CartView{}, ErrUnauthenticated
	}

	if err := s.carts.DeleteItem(ctx, userID, productID); err != nil {
		logger.Error("failed to delete cart item", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: failed to delete cart item: %w", op, err)
	}

	return s.afterWrite(ctx, logger, userID), nil
}

// Clear удаляет все строки корзины одним запросом.
func (s *cartService) Clear(ctx context.Context, userID int64) (models.CartView, error) {
	const op = "service.CartService.Clear"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID))

	if userID <= 0 {
		return models.CartView{}, ErrUnauthenticated
	}

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		logger.Error("failed to clear cart", sl.Err(err))
		return models.CartView{}, fmt.Errorf("%s: failed to clear cart: %w", op, err)
	}

	logger.Info("cart cleared")
	return models.NewCartView(nil), nil
}

// afterWrite перечитывает корзину после успешной записи. Запись уже применена,
// поэтому сбой чтения не становится ошибкой операции: возвращается пустое
// представление с признаком Stale.
func (s *cartService) afterWrite(ctx context.Context, logger *slog.Logger, userID int64) models.CartView {
	view, err := s.Get(ctx, userID)
	if err != nil {
		logger.Error("cart written but reload failed", sl.Err(err))
		stale := models.NewCartView(nil)
		stale.Stale = true
		return stale
	}
	return view
}

func (s *cartService) availableProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !product.IsActive {
		return nil, ErrProductInactive
	}
	if product.Stock < 1 {
		return nil, ErrInsufficientStock
	}
	return product, nil
}
