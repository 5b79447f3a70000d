package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linemk/storefront/internal/domain/models"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductLocked     = errors.New("product is locked by another checkout")
)

// ProductStorage — чтение каталога и резервирование остатка при оформлении заказа.
type ProductStorage interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// SetLockTimeoutTx ограничивает ожидание блокировок до конца транзакции.
	// Ожидание дольше timeout превращается в ErrProductLocked у LockProductTx.
	SetLockTimeoutTx(ctx context.Context, tx *sql.Tx, timeout time.Duration) error
	// LockProductTx читает товар с блокировкой строки до конца транзакции.
	LockProductTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error)
	// ReserveStockTx уменьшает остаток одним условным UPDATE.
	ReserveStockTx(ctx context.Context, tx *sql.Tx, id int64, qty int) error
}

type productRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

const selectProduct = `SELECT id, name, sku, unit_price, image_ref, stock, is_active FROM products WHERE id = $1`

func (r *productRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	return scanProduct(r.db.QueryRowContext(ctx, selectProduct, id))
}

// SET не принимает параметры запроса, поэтому значение подставляется целым числом миллисекунд.
func (r *productRepository) SetLockTimeoutTx(ctx context.Context, tx *sql.Tx, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}
	return nil
}

func (r *productRepository) LockProductTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	p, err := scanProduct(tx.QueryRowContext(ctx, selectProduct+" FOR UPDATE", id))
	if err != nil && lockNotAvailable(err) {
		return nil, fmt.Errorf("%w: %v", ErrProductLocked, err)
	}
	return p, err
}

func (r *productRepository) ReserveStockTx(ctx context.Context, tx *sql.Tx, id int64, qty int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2", id, qty)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func scanProduct(row *sql.Row) (*models.Product, error) {
	p := &models.Product{}
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.UnitPrice, &p.ImageRef, &p.Stock, &p.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}
