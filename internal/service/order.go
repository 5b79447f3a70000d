package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/linemk/storefront/internal/config"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/logger/sl"
	"github.com/linemk/storefront/internal/notify"
	"github.com/linemk/storefront/internal/storage"
)

// maxNumberAttempts — сколько раз генерируем номер заказа при коллизии.
const maxNumberAttempts = 3

// CheckoutLine — строка оформляемого заказа. Без ProductID строка принимается как есть.
type CheckoutLine struct {
	ProductID *int64
	Name      string
	UnitPrice int64
	Quantity  int
	SKU       string
}

type CheckoutRequest struct {
	Lines          []CheckoutLine
	Shipping       models.ShippingContact
	Delivery       json.RawMessage
	Payment        json.RawMessage
	ShippingFee    int64
	IdempotencyKey string
}

type CheckoutResult struct {
	ID          int64  `json:"id"`
	OrderNumber string `json:"orderNumber"`
	// Replayed — заказ с этим ключом идемпотентности уже существовал
	Replayed bool `json:"-"`
}

type OrderService interface {
	Create(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error)
	Get(ctx context.Context, userID, orderID int64) (*models.Order, error)
	List(ctx context.Context, userID int64) ([]*models.Order, error)
	ChangeStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, error)
}

// NumberGenerator выдаёт номера заказов.
type NumberGenerator interface {
	Next() string
}

// Notifier отправляет сообщение, не блокируя вызывающего.
type Notifier interface {
	Dispatch(msg notify.Message)
}

type orderService struct {
	log      *slog.Logger
	db       *sql.DB
	products storage.ProductStorage
	carts    storage.CartStorage
	orders   storage.OrderStorage
	users    storage.UserStorage
	numbers  NumberGenerator
	notifier Notifier
	cfg      config.CheckoutConfig
}

func NewOrderService(
	log *slog.Logger,
	db *sql.DB,
	products storage.ProductStorage,
	carts storage.CartStorage,
	orders storage.OrderStorage,
	users storage.UserStorage,
	numbers NumberGenerator,
	notifier Notifier,
	cfg config.CheckoutConfig,
) OrderService {
	return &orderService{
		log:      log,
		db:       db,
		products: products,
		carts:    carts,
		orders:   orders,
		users:    users,
		numbers:  numbers,
		notifier: notifier,
		cfg:      cfg,
	}
}

var structValidator = validator.New()

// Create материализует заказ: шапка и строки пишутся одной транзакцией,
// письмо уходит уже после коммита и на результат не влияет.
func (s *orderService) Create(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "service.OrderService.Create"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int("lines", len(req.Lines)))

	if userID <= 0 {
		return nil, ErrUnauthenticated
	}
	if err := s.validate(req); err != nil {
		logger.Warn("invalid checkout request", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err == nil {
			logger.Info("idempotent replay", slog.String("orderNumber", existing.OrderNumber))
			return &CheckoutResult{ID: existing.ID, OrderNumber: existing.OrderNumber, Replayed: true}, nil
		}
		if !errors.Is(err, storage.ErrOrderNotFound) {
			logger.Error("failed to look up idempotency key", sl.Err(err))
			return nil, fmt.Errorf("%s: failed to look up idempotency key: %w", op, err)
		}
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		order, err := s.materialize(ctx, logger, userID, req, s.numbers.Next())
		switch {
		case err == nil:
			logger.Info("order created", slog.Int64("orderID", order.ID), slog.String("orderNumber", order.OrderNumber))
			s.notifyCreated(logger, order, req.Shipping)
			return &CheckoutResult{ID: order.ID, OrderNumber: order.OrderNumber}, nil
		case errors.Is(err, storage.ErrDuplicateOrderNumber):
			logger.Warn("order number collision, retrying", slog.Int("attempt", attempt))
			continue
		case errors.Is(err, storage.ErrDuplicateIdempotencyKey):
			// параллельный запрос с тем же ключом успел закоммитить
			existing, getErr := s.orders.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			if getErr != nil {
				logger.Error("failed to load concurrent order", sl.Err(getErr))
				return nil, fmt.Errorf("%s: failed to load concurrent order: %w", op, getErr)
			}
			return &CheckoutResult{ID: existing.ID, OrderNumber: existing.OrderNumber, Replayed: true}, nil
		default:
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	logger.Error("order number attempts exhausted")
	return nil, fmt.Errorf("%s: %w", op, ErrDuplicateOrder)
}

func (s *orderService) validate(req CheckoutRequest) error {
	if len(req.Lines) == 0 {
		return invalid("lines", "at least one line is required")
	}
	if s.cfg.MaxLines > 0 && len(req.Lines) > s.cfg.MaxLines {
		return invalid("lines", fmt.Sprintf("at most %d lines are allowed", s.cfg.MaxLines))
	}
	for i, line := range req.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.Quantity < 1 {
			return invalid(field+".quantity", "must be at least 1")
		}
		if line.ProductID == nil {
			if strings.TrimSpace(line.Name) == "" {
				return invalid(field+".name", "is required")
			}
			if line.UnitPrice < 0 {
				return invalid(field+".unitPrice", "must not be negative")
			}
		} else if *line.ProductID <= 0 {
			return invalid(field+".productId", "must be positive")
		}
	}
	if req.ShippingFee < 0 {
		return invalid("shippingFee", "must not be negative")
	}
	if err := structValidator.Struct(req.Shipping); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return invalid("shipping."+verrs[0].Field(), verrs[0].Tag())
		}
		return invalid("shipping", err.Error())
	}
	return nil
}

// materialize выполняет одну попытку создания заказа с данным номером.
func (s *orderService) materialize(ctx context.Context, logger *slog.Logger, userID int64, req CheckoutRequest, number string) (*models.Order, error) {
	logger = logger.With(slog.String("orderNumber", number))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", sl.Err(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.products.SetLockTimeoutTx(ctx, tx, s.cfg.LockTimeout); err != nil {
		rollback(tx, logger)
		logger.Error("failed to set lock timeout", sl.Err(err))
		return nil, err
	}

	lines, err := s.priceLines(ctx, tx, req.Lines)
	if err != nil {
		rollback(tx, logger)
		logger.Warn("failed to price order lines", sl.Err(err))
		return nil, err
	}

	order, err := s.newOrder(userID, req, number, lines)
	if err != nil {
		rollback(tx, logger)
		logger.Error("failed to build order", sl.Err(err))
		return nil, err
	}

	if err := s.orders.CreateOrderTx(ctx, tx, order); err != nil {
		rollback(tx, logger)
		logger.Error("failed to create order", sl.Err(err))
		return nil, err
	}

	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
		if err := s.orders.CreateOrderLineTx(ctx, tx, &order.Lines[i]); err != nil {
			rollback(tx, logger)
			logger.Error("failed to create order line", sl.Err(err))
			return nil, fmt.Errorf("failed to create order line: %w", err)
		}
	}

	if !s.cfg.KeepPurchasedItems {
		if ids := catalogIDs(order.Lines); len(ids) > 0 {
			if err := s.carts.DeleteItemsTx(ctx, tx, userID, ids); err != nil {
				rollback(tx, logger)
				logger.Error("failed to clear purchased cart items", sl.Err(err))
				return nil, fmt.Errorf("failed to clear purchased cart items: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", sl.Err(err))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

// priceLines блокирует товары каталога в порядке возрастания id,
// копирует имя, цену и артикул и при необходимости списывает остаток.
func (s *orderService) priceLines(ctx context.Context, tx *sql.Tx, in []CheckoutLine) ([]models.OrderLine, error) {
	lines := make([]models.OrderLine, len(in))
	locking := make([]int, 0, len(in))
	for i, l := range in {
		lines[i] = models.OrderLine{
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			SKU:       l.SKU,
		}
		if l.ProductID != nil {
			id := *l.ProductID
			lines[i].ProductID = &id
			locking = append(locking, i)
		}
	}
	sort.SliceStable(locking, func(a, b int) bool {
		return *lines[locking[a]].ProductID < *lines[locking[b]].ProductID
	})

	for _, i := range locking {
		line := &lines[i]
		product, err := s.products.LockProductTx(ctx, tx, *line.ProductID)
		if err != nil {
			if errors.Is(err, storage.ErrProductNotFound) {
				return nil, fmt.Errorf("product %d: %w", *line.ProductID, ErrProductNotFound)
			}
			if errors.Is(err, storage.ErrProductLocked) {
				// остаток сейчас резервирует другой заказ
				return nil, fmt.Errorf("product %d is locked: %w", *line.ProductID, ErrInsufficientStock)
			}
			return nil, fmt.Errorf("failed to lock product %d: %w", *line.ProductID, err)
		}
		if !product.IsActive {
			return nil, fmt.Errorf("product %d: %w", product.ID, ErrProductInactive)
		}

		line.Name = product.Name
		line.UnitPrice = product.UnitPrice
		line.SKU = product.SKU

		if !s.cfg.SkipStockReservation {
			if err := s.products.ReserveStockTx(ctx, tx, product.ID, line.Quantity); err != nil {
				if errors.Is(err, storage.ErrInsufficientStock) {
					return nil, fmt.Errorf("product %d: %w", product.ID, ErrInsufficientStock)
				}
				return nil, fmt.Errorf("failed to reserve stock for product %d: %w", product.ID, err)
			}
		}
	}
	return lines, nil
}

func (s *orderService) newOrder(userID int64, req CheckoutRequest, number string, lines []models.OrderLine) (*models.Order, error) {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.UnitPrice * int64(l.Quantity)
	}

	shipping, err := models.NewSnapshot(req.Shipping)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot shipping: %w", err)
	}
	delivery, err := models.NewSnapshot(rawOrNil(req.Delivery))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot delivery: %w", err)
	}
	payment, err := models.NewSnapshot(rawOrNil(req.Payment))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot payment: %w", err)
	}

	order := &models.Order{
		OrderNumber:      number,
		UserID:           userID,
		Status:           models.OrderStatusPendingPayment,
		Currency:         s.cfg.Currency,
		SubtotalAmount:   subtotal,
		ShippingFee:      req.ShippingFee,
		TotalAmount:      subtotal + req.ShippingFee,
		ShippingSnapshot: shipping,
		DeliverySnapshot: delivery,
		PaymentSnapshot:  payment,
		Lines:            lines,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}
	return order, nil
}

func (s *orderService) notifyCreated(logger *slog.Logger, order *models.Order, contact models.ShippingContact) {
	msg, err := notify.OrderConfirmation(contact.Email, order, contact)
	if err != nil {
		logger.Error("failed to render confirmation", sl.Err(err))
		return
	}
	s.notifier.Dispatch(msg)
}

// Get возвращает заказ только его владельцу. Чужой заказ неотличим от отсутствующего.
func (s *orderService) Get(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	const op = "service.OrderService.Get"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("orderID", orderID))

	if userID <= 0 {
		return nil, ErrUnauthenticated
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: order: %w", op, ErrNotFound)
		}
		logger.Error("failed to get order", sl.Err(err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}
	if order.UserID != userID {
		logger.Warn("order belongs to another user")
		return nil, fmt.Errorf("%s: order: %w", op, ErrNotFound)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, userID int64) ([]*models.Order, error) {
	const op = "service.OrderService.List"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID))

	if userID <= 0 {
		return nil, ErrUnauthenticated
	}

	orders, err := s.orders.GetOrdersByUserID(ctx, userID)
	if err != nil {
		logger.Error("failed to list orders", sl.Err(err))
		return nil, fmt.Errorf("%s: failed to list orders: %w", op, err)
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return orders, nil
}

// ChangeStatus переводит заказ в новое состояние условным UPDATE.
func (s *orderService) ChangeStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, error) {
	const op = "service.OrderService.ChangeStatus"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.String("to", string(to)))

	if !to.Valid() {
		return nil, fmt.Errorf("%s: %w", op, invalid("status", "unknown status"))
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: order: %w", op, ErrNotFound)
		}
		logger.Error("failed to get order", sl.Err(err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}

	if !models.CanTransition(order.Status, to) {
		logger.Warn("illegal status transition", slog.String("from", string(order.Status)))
		return nil, fmt.Errorf("%s: %s -> %s: %w", op, order.Status, to, ErrInvalidTransition)
	}

	if err := s.orders.UpdateStatus(ctx, orderID, order.Status, to); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			logger.Warn("status changed concurrently")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidTransition)
		}
		logger.Error("failed to update status", sl.Err(err))
		return nil, fmt.Errorf("%s: failed to update status: %w", op, err)
	}
	logger.Info("order status changed", slog.String("from", string(order.Status)))
	order.Status = to

	switch to {
	case models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled:
		s.notifyStatus(ctx, logger, order)
	}
	return order, nil
}

func (s *orderService) notifyStatus(ctx context.Context, logger *slog.Logger, order *models.Order) {
	var contact models.ShippingContact
	recipient := ""
	if err := order.ShippingSnapshot.Decode(&contact); err == nil {
		recipient = contact.Email
	}
	if recipient == "" {
		user, err := s.users.GetUserByID(ctx, order.UserID)
		if err != nil {
			logger.Warn("no recipient for status notification", sl.Err(err))
			return
		}
		recipient = user.Email
	}

	msg, err := notify.StatusChanged(recipient, order.OrderNumber, order.Status)
	if err != nil {
		logger.Error("failed to render status notification", sl.Err(err))
		return
	}
	s.notifier.Dispatch(msg)
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logger.Error("transaction rollback failed", sl.Err(rbErr))
	}
}

func catalogIDs(lines []models.OrderLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ProductID != nil {
			ids = append(ids, *l.ProductID)
		}
	}
	return ids
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
