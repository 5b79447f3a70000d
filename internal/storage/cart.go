package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/linemk/storefront/internal/domain/models"
)

var (
	// ErrProductUnavailable — товар удалён, неактивен или закончился к моменту записи.
	ErrProductUnavailable = errors.New("product unavailable")
	ErrCartItemNotFound   = errors.New("cart item not found")
)

// CartStorage описывает серверную корзину: строки (user_id, product_id) -> quantity.
// Каждое изменение количества выполняется одним SQL-выражением, остаток читается в нём же.
type CartStorage interface {
	// ListCart возвращает строки пользователя вместе с текущими данными товаров.
	ListCart(ctx context.Context, userID int64) ([]models.CartItem, error)
	// AddItem прибавляет qty к строке (или создаёт её) с ограничением [1, stock].
	AddItem(ctx context.Context, userID, productID int64, qty int) (int, error)
	// SetItem задаёт количество существующей строки с ограничением [1, stock].
	SetItem(ctx context.Context, userID, productID int64, qty int) (int, error)
	// DeleteItem удаляет строку; отсутствие строки не ошибка.
	DeleteItem(ctx context.Context, userID, productID int64) error
	// ClearCart удаляет все строки пользователя одним запросом.
	ClearCart(ctx context.Context, userID int64) error
	// ClampToStock приводит сохранённые количества к уменьшившимся остаткам.
	ClampToStock(ctx context.Context, userID int64) error
	// DeleteItemsTx удаляет купленные позиции в транзакции оформления заказа.
	DeleteItemsTx(ctx context.Context, tx *sql.Tx, userID int64, productIDs []int64) error
}

type cartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) CartStorage {
	return &cartRepository{db: db}
}

func (r *cartRepository) ListCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	query := `
		SELECT c.product_id, p.name, p.sku, p.unit_price, p.image_ref, c.quantity, p.stock, p.is_active
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at, c.product_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.SKU, &it.UnitPrice, &it.ImageRef, &it.Quantity, &it.Stock, &it.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *cartRepository) AddItem(ctx context.Context, userID, productID int64, qty int) (int, error) {
	// при конфликте инкремент и ограничение выполняются под блокировкой строки, без чтения-потом-записи
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		SELECT $1, p.id, GREATEST(1, LEAST($3::int, p.stock)), NOW(), NOW()
		FROM products p
		WHERE p.id = $2 AND p.is_active AND p.stock >= 1
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = GREATEST(1, LEAST(cart_items.quantity + $3::int,
		        (SELECT stock FROM products WHERE id = EXCLUDED.product_id))),
		    updated_at = NOW()
		RETURNING quantity`
	var stored int
	err := r.db.QueryRowContext(ctx, query, userID, productID, qty).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProductUnavailable
		}
		return 0, fmt.Errorf("failed to add cart item: %w", err)
	}
	return stored, nil
}

func (r *cartRepository) SetItem(ctx context.Context, userID, productID int64, qty int) (int, error) {
	query := `
		UPDATE cart_items c
		SET quantity = GREATEST(1, LEAST($3::int, p.stock)), updated_at = NOW()
		FROM products p
		WHERE c.user_id = $1 AND c.product_id = $2
		  AND p.id = c.product_id AND p.is_active AND p.stock >= 1
		RETURNING c.quantity`
	var stored int
	err := r.db.QueryRowContext(ctx, query, userID, productID, qty).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrCartItemNotFound
		}
		return 0, fmt.Errorf("failed to set cart item: %w", err)
	}
	return stored, nil
}

func (r *cartRepository) DeleteItem(ctx context.Context, userID, productID int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2", userID, productID)
	if err != nil {
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	return nil
}

func (r *cartRepository) ClearCart(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (r *cartRepository) ClampToStock(ctx context.Context, userID int64) error {
	query := `
		UPDATE cart_items c
		SET quantity = p.stock, updated_at = NOW()
		FROM products p
		WHERE c.user_id = $1 AND p.id = c.product_id
		  AND p.stock >= 1 AND c.quantity > p.stock`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to clamp cart to stock: %w", err)
	}
	return nil
}

func (r *cartRepository) DeleteItemsTx(ctx context.Context, tx *sql.Tx, userID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)", userID, pq.Array(productIDs))
	if err != nil {
		return fmt.Errorf("failed to delete purchased cart items: %w", err)
	}
	return nil
}
