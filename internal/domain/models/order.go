package models

import (
	"encoding/json"
	"errors"
	"time"
)

// OrderStatus — состояние заказа
type OrderStatus string

const (
	OrderStatusPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaymentVerified OrderStatus = "PAYMENT_VERIFIED"
	OrderStatusProcessing      OrderStatus = "PROCESSING"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRefunded        OrderStatus = "REFUNDED"
)

// прямой путь заказа; CANCELLED и REFUNDED достижимы из любого нетерминального состояния
var forwardTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPendingPayment:  OrderStatusPaymentVerified,
	OrderStatusPaymentVerified: OrderStatusProcessing,
	OrderStatusProcessing:      OrderStatusShipped,
	OrderStatusShipped:         OrderStatusDelivered,
}

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPaymentVerified, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Terminal — из терминального состояния переходов нет.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransition проверяет допустимость перехода from -> to.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == OrderStatusCancelled || to == OrderStatusRefunded {
		return true
	}
	return forwardTransitions[from] == to
}

// Order — неизменяемая шапка заказа. Снимки сохраняются один раз при создании.
type Order struct {
	ID               int64       `json:"id"`
	OrderNumber      string      `json:"orderNumber"`
	UserID           int64       `json:"userId"`
	Status           OrderStatus `json:"status"`
	Currency         string      `json:"currency"`
	SubtotalAmount   int64       `json:"subtotalAmount"`
	ShippingFee      int64       `json:"shippingFee"`
	TotalAmount      int64       `json:"totalAmount"`
	ShippingSnapshot Snapshot    `json:"shipping"`
	DeliverySnapshot Snapshot    `json:"delivery"`
	PaymentSnapshot  Snapshot    `json:"payment"`
	IdempotencyKey   *string     `json:"-"`
	Lines            []OrderLine `json:"lines"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// OrderLine — строка заказа; имя, цена и артикул скопированы в момент создания заказа.
type OrderLine struct {
	ID        int64  `json:"id"`
	OrderID   int64  `json:"orderId"`
	ProductID *int64 `json:"productId,omitempty"` // товар может быть удалён позже
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	SKU       string `json:"sku,omitempty"`
}

// SnapshotSchemaVersion — текущая версия конверта снимков.
const SnapshotSchemaVersion = 1

var ErrUnsupportedSnapshot = errors.New("unsupported snapshot schema version")

// Snapshot — версионированный конверт для непрозрачных данных (доставка, оплата, адрес).
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

// NewSnapshot упаковывает значение в конверт текущей версии.
func NewSnapshot(v any) (Snapshot, error) {
	if v == nil {
		return Snapshot{SchemaVersion: SnapshotSchemaVersion, Data: json.RawMessage("null")}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{SchemaVersion: SnapshotSchemaVersion, Data: data}, nil
}

// Decode распаковывает данные снимка, если версия поддерживается.
func (s Snapshot) Decode(v any) error {
	if s.SchemaVersion != SnapshotSchemaVersion {
		return ErrUnsupportedSnapshot
	}
	return json.Unmarshal(s.Data, v)
}

// ShippingContact — контактные данные покупателя, сохраняемые в shipping-снимке.
type ShippingContact struct {
	FullName   string `json:"fullName" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required"`
	Address    string `json:"address" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}
