package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linemk/storefront/internal/domain/models"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrDuplicateOrderNumber    = errors.New("order number already exists")
	ErrDuplicateIdempotencyKey = errors.New("order for this idempotency key already exists")
	ErrStatusConflict          = errors.New("order status changed concurrently")
)

const (
	constraintOrderNumber    = "orders_order_number_key"
	constraintIdempotencyKey = "orders_user_idempotency_key"
)

// OrderStorage описывает методы для работы с заказами.
// Шапка и строки пишутся только внутри транзакции вызывающего.
type OrderStorage interface {
	// CreateOrderTx вставляет шапку заказа и заполняет ID, CreatedAt, UpdatedAt.
	CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// CreateOrderLineTx вставляет строку заказа и заполняет её ID.
	CreateOrderLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	// GetOrdersByUserID возвращает шапки заказов пользователя, новые первыми.
	GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
	// UpdateStatus меняет статус, только если текущий статус равен from.
	UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error
}

// orderRepository — конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	shipping, err := json.Marshal(order.ShippingSnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode shipping snapshot: %w", err)
	}
	delivery, err := json.Marshal(order.DeliverySnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode delivery snapshot: %w", err)
	}
	payment, err := json.Marshal(order.PaymentSnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode payment snapshot: %w", err)
	}

	query := `INSERT INTO orders (order_number, user_id, status, currency, subtotal_amount, shipping_fee, total_amount,
	                              shipping_snapshot, delivery_snapshot, payment_snapshot, idempotency_key, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	          RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		order.OrderNumber,
		order.UserID,
		string(order.Status),
		order.Currency,
		order.SubtotalAmount,
		order.ShippingFee,
		order.TotalAmount,
		shipping,
		delivery,
		payment,
		order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintOrderNumber:
				return ErrDuplicateOrderNumber
			case constraintIdempotencyKey:
				return ErrDuplicateIdempotencyKey
			}
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) CreateOrderLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) error {
	query := `INSERT INTO order_lines (order_id, product_id, name, unit_price, quantity, sku)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id`
	err := tx.QueryRowContext(ctx, query,
		line.OrderID, line.ProductID, line.Name, line.UnitPrice, line.Quantity, line.SKU,
	).Scan(&line.ID)
	if err != nil {
		return fmt.Errorf("failed to create order line: %w", err)
	}
	return nil
}

const selectOrder = `
	SELECT id, order_number, user_id, status, currency, subtotal_amount, shipping_fee, total_amount,
	       shipping_snapshot, delivery_snapshot, payment_snapshot, created_at, updated_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var status string
	var shipping, delivery, payment []byte
	if err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&status,
		&order.Currency,
		&order.SubtotalAmount,
		&order.ShippingFee,
		&order.TotalAmount,
		&shipping,
		&delivery,
		&payment,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(status)

	if err := json.Unmarshal(shipping, &order.ShippingSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode shipping snapshot: %w", err)
	}
	if err := json.Unmarshal(delivery, &order.DeliverySnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode delivery snapshot: %w", err)
	}
	if err := json.Unmarshal(payment, &order.PaymentSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode payment snapshot: %w", err)
	}
	return order, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	lines, err := r.getLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (r *orderRepository) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to query order by idempotency key: %w", err)
	}
	return r.GetOrderByID(ctx, id)
}

func (r *orderRepository) getLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, order_id, product_id, name, unit_price, quantity, sku FROM order_lines WHERE order_id = $1 ORDER BY id",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var l models.OrderLine
		var productID sql.NullInt64
		if err := rows.Scan(&l.ID, &l.OrderID, &productID, &l.Name, &l.UnitPrice, &l.Quantity, &l.SKU); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		if productID.Valid {
			id := productID.Int64
			l.ProductID = &id
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// GetOrdersByUserID возвращает список заказов пользователя без строк.
func (r *orderRepository) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrder+" WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}
