package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/linemk/storefront/internal/config"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/service"
	"github.com/linemk/storefront/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderFixture struct {
	svc      service.OrderService
	mock     sqlmock.Sqlmock
	products *fakeProductRepo
	carts    *fakeCartRepo
	orders   *fakeOrderRepo
	users    *fakeUserRepo
	notifier *fakeNotifier
}

func newOrderFixture(t *testing.T, cfg config.CheckoutConfig, products ...models.Product) *orderFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &orderFixture{
		mock:     mock,
		products: newFakeProductRepo(products...),
		orders:   newFakeOrderRepo(),
		users:    newFakeUserRepo(),
		notifier: &fakeNotifier{},
	}
	f.carts = newFakeCartRepo(f.products)
	numbers := &seqNumbers{seq: []string{"ORD-20240101-120000-AAAAAAAA", "ORD-20240101-120000-BBBBBBBB", "ORD-20240101-120000-CCCCCCCC"}}
	f.svc = service.NewOrderService(newLogger(), db, f.products, f.carts, f.orders, f.users, numbers, f.notifier, cfg)
	return f
}

func defaultCheckout() config.CheckoutConfig {
	return config.CheckoutConfig{Currency: "EUR", MaxLines: 10, LockTimeout: 2 * time.Second}
}

func contact() models.ShippingContact {
	return models.ShippingContact{FullName: "Ann Buyer", Email: "ann@example.com", Phone: "+33100", Address: "1 Main st", City: "Paris"}
}

func int64p(v int64) *int64 { return &v }

func TestOrderService_Create_AdHocLine(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{Name: "Chaise", UnitPrice: 1000, Quantity: 3}},
		Shipping: contact(),
		Payment:  json.RawMessage(`{"method":"card"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, int64(1), res.ID)
	assert.Equal(t, "ORD-20240101-120000-AAAAAAAA", res.OrderNumber)
	assert.False(t, res.Replayed)

	require.Len(t, f.orders.created, 1)
	header := f.orders.created[0]
	assert.Equal(t, int64(3000), header.SubtotalAmount)
	assert.Equal(t, int64(3000), header.TotalAmount)
	assert.Equal(t, models.OrderStatusPendingPayment, header.Status)
	assert.Equal(t, "EUR", header.Currency)
	assert.Nil(t, header.IdempotencyKey)

	require.Len(t, f.orders.lines, 1)
	assert.Equal(t, 3, f.orders.lines[0].Quantity)
	assert.Equal(t, header.ID, f.orders.lines[0].OrderID)
	assert.Nil(t, f.orders.lines[0].ProductID)

	var shipping models.ShippingContact
	require.NoError(t, header.ShippingSnapshot.Decode(&shipping))
	assert.Equal(t, contact(), shipping)
	assert.Equal(t, models.SnapshotSchemaVersion, header.PaymentSnapshot.SchemaVersion)
	assert.JSONEq(t, `{"method":"card"}`, string(header.PaymentSnapshot.Data))
	assert.JSONEq(t, `null`, string(header.DeliverySnapshot.Data))

	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, "ann@example.com", f.notifier.msgs[0].Recipient)
	assert.Contains(t, f.notifier.msgs[0].HTMLBody, "30.00 EUR")
}

func TestOrderService_Create_CatalogLines(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout(), p1, p2)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, userID, p1.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, userID, p2.ID, 1)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err = f.svc.Create(ctx, userID, service.CheckoutRequest{
		Lines: []service.CheckoutLine{
			// клиент прислал устаревшие цену и имя
			{ProductID: int64p(p2.ID), Name: "stale", UnitPrice: 1, Quantity: 1},
			{ProductID: int64p(p1.ID), Quantity: 2},
		},
		Shipping:       contact(),
		ShippingFee:    500,
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, []int64{p1.ID, p2.ID}, f.products.locked, "locks are taken in id order")

	require.Len(t, f.orders.lines, 2)
	assert.Equal(t, "Table", f.orders.lines[0].Name)
	assert.Equal(t, int64(5000), f.orders.lines[0].UnitPrice)
	assert.Equal(t, "TB-001", f.orders.lines[0].SKU)
	assert.Equal(t, "Chaise", f.orders.lines[1].Name)

	header := f.orders.created[0]
	assert.Equal(t, int64(7000), header.SubtotalAmount)
	assert.Equal(t, int64(7500), header.TotalAmount)
	require.NotNil(t, header.IdempotencyKey)
	assert.Equal(t, "key-1", *header.IdempotencyKey)

	assert.Equal(t, 3, f.products.products[p1.ID].Stock, "stock reserved")
	assert.Equal(t, 1, f.products.products[p2.ID].Stock)
	assert.Empty(t, f.carts.rows[userID], "purchased lines removed from cart")
}

func TestOrderService_Create_NoReservation(t *testing.T) {
	cfg := defaultCheckout()
	cfg.SkipStockReservation = true
	cfg.KeepPurchasedItems = true
	f := newOrderFixture(t, cfg, p1)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, userID, p1.ID, 1)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err = f.svc.Create(ctx, userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{ProductID: int64p(p1.ID), Quantity: 1}},
		Shipping: contact(),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, f.products.products[p1.ID].Stock)
	assert.Len(t, f.carts.rows[userID], 1)
}

func TestOrderService_Create_CatalogFailuresRollBack(t *testing.T) {
	tests := []struct {
		name string
		line service.CheckoutLine
		want error
	}{
		{name: "insufficient stock", line: service.CheckoutLine{ProductID: int64p(p2.ID), Quantity: 3}, want: service.ErrInsufficientStock},
		{name: "inactive", line: service.CheckoutLine{ProductID: int64p(inactive.ID), Quantity: 1}, want: service.ErrProductInactive},
		{name: "unknown", line: service.CheckoutLine{ProductID: int64p(99), Quantity: 1}, want: service.ErrProductNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t, defaultCheckout(), p2, inactive)
			f.mock.ExpectBegin()
			f.mock.ExpectRollback()

			_, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
				Lines:    []service.CheckoutLine{tt.line},
				Shipping: contact(),
			})
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, f.mock.ExpectationsWereMet())
			assert.Empty(t, f.orders.created)
			assert.Empty(t, f.notifier.msgs)
		})
	}
}

func TestOrderService_Create_LockTimeout(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout(), p1, p2)
	f.products.busy = map[int64]bool{p2.ID: true}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{ProductID: int64p(p1.ID), Quantity: 1}, {ProductID: int64p(p2.ID), Quantity: 1}},
		Shipping: contact(),
	})
	assert.ErrorIs(t, err, service.ErrInsufficientStock)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 2*time.Second, f.products.lockTimeout, "timeout applied before locking")
	assert.Empty(t, f.orders.created)
}

func TestOrderService_Create_LockTimeoutSetupFails(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout(), p1)
	f.products.timeoutErr = errors.New("conn reset")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{ProductID: int64p(p1.ID), Quantity: 1}},
		Shipping: contact(),
	})
	assert.Error(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Empty(t, f.products.locked)
}

func TestOrderService_Create_LineFailureLeavesNoOrder(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	f.orders.lineErr = errors.New("disk full")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{Name: "Chaise", UnitPrice: 1000, Quantity: 1}},
		Shipping: contact(),
	})
	require.Error(t, err)
	// шапка была вставлена в транзакции, но транзакция откатилась, а не закоммитилась
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Empty(t, f.notifier.msgs)
}

func TestOrderService_Create_RetriesOrderNumber(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	f.orders.createErrs = []error{storage.ErrDuplicateOrderNumber, nil}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{Name: "Chaise", UnitPrice: 1000, Quantity: 1}},
		Shipping: contact(),
	})
	require.NoError(t, err)
	assert.Equal(t, "ORD-20240101-120000-BBBBBBBB", res.OrderNumber)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_Create_RetriesExhausted(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	f.orders.createErrs = []error{storage.ErrDuplicateOrderNumber, storage.ErrDuplicateOrderNumber, storage.ErrDuplicateOrderNumber}
	for i := 0; i < 3; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()
	}

	_, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:    []service.CheckoutLine{{Name: "Chaise", UnitPrice: 1000, Quantity: 1}},
		Shipping: contact(),
	})
	assert.ErrorIs(t, err, service.ErrDuplicateOrder)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_Create_IdempotentReplay(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	key := "key-1"
	f.orders.put(&models.Order{ID: 41, OrderNumber: "ORD-OLD", UserID: userID, IdempotencyKey: &key})

	res, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:          []service.CheckoutLine{{Name: "Chaise", UnitPrice: 1000, Quantity: 1}},
		Shipping:       contact(),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, &service.CheckoutResult{ID: 41, OrderNumber: "ORD-OLD", Replayed: true}, res)
	assert.NoError(t, f.mock.ExpectationsWereMet(), "no transaction for a replay")
	assert.Empty(t, f.notifier.msgs)
}

func TestOrderService_Create_ConcurrentSameKey(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	key := "key-1"
	f.orders.createErrs = []error{storage.ErrDuplicateIdempotencyKey}
	// другой запрос успел закоммитить между проверкой ключа и вставкой
	f.orders.beforeCreate = func() {
		f.orders.put(&models.Order{ID: 41, OrderNumber: "ORD-OTHER", UserID: userID, IdempotencyKey: &key})
	}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	res, err := f.svc.Create(context.Background(), userID, service.CheckoutRequest{
		Lines:          []service.CheckoutLine{{Name: "Chaise", UnitPrice: 1000, Quantity: 1}},
		Shipping:       contact(),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, "ORD-OTHER", res.OrderNumber)
	assert.True(t, res.Replayed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrderService_Create_Validation(t *testing.T) {
	noEmail := contact()
	noEmail.Email = ""
	badEmail := contact()
	badEmail.Email = "not-an-email"

	tests := []struct {
		name  string
		req   service.CheckoutRequest
		field string
	}{
		{name: "no lines", req: service.CheckoutRequest{Shipping: contact()}, field: "lines"},
		{name: "zero quantity", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{Name: "x", Quantity: 0}}, Shipping: contact()}, field: "lines[0].quantity"},
		{name: "negative price", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{Name: "x", UnitPrice: -1, Quantity: 1}}, Shipping: contact()}, field: "lines[0].unitPrice"},
		{name: "no name", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{Quantity: 1}}, Shipping: contact()}, field: "lines[0].name"},
		{name: "bad product id", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{ProductID: int64p(0), Quantity: 1}}, Shipping: contact()}, field: "lines[0].productId"},
		{name: "negative fee", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{Name: "x", Quantity: 1}}, Shipping: contact(), ShippingFee: -1}, field: "shippingFee"},
		{name: "missing email", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{Name: "x", Quantity: 1}}, Shipping: noEmail}, field: "shipping.Email"},
		{name: "bad email", req: service.CheckoutRequest{Lines: []service.CheckoutLine{{Name: "x", Quantity: 1}}, Shipping: badEmail}, field: "shipping.Email"},
		{name: "too many lines", req: service.CheckoutRequest{Lines: make([]service.CheckoutLine, 11), Shipping: contact()}, field: "lines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t, defaultCheckout())
			_, err := f.svc.Create(context.Background(), userID, tt.req)
			require.ErrorIs(t, err, service.ErrValidation)

			var verr *service.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.NoError(t, f.mock.ExpectationsWereMet(), "no transaction for invalid input")
		})
	}
}

func TestOrderService_Create_Unauthenticated(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	_, err := f.svc.Create(context.Background(), 0, service.CheckoutRequest{})
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestOrderService_GetAndList(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	ctx := context.Background()
	f.orders.put(&models.Order{ID: 1, OrderNumber: "ORD-1", UserID: userID})
	f.orders.put(&models.Order{ID: 2, OrderNumber: "ORD-2", UserID: 8})

	order, err := f.svc.Get(ctx, userID, 1)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", order.OrderNumber)

	_, err = f.svc.Get(ctx, userID, 2)
	assert.ErrorIs(t, err, service.ErrNotFound, "foreign order looks missing")

	_, err = f.svc.Get(ctx, userID, 3)
	assert.ErrorIs(t, err, service.ErrNotFound)

	list, err := f.svc.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.svc.List(ctx, 99)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestOrderService_ChangeStatus(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	ctx := context.Background()
	shipping, err := models.NewSnapshot(contact())
	require.NoError(t, err)
	f.orders.put(&models.Order{ID: 1, OrderNumber: "ORD-1", UserID: userID, Status: models.OrderStatusPendingPayment, ShippingSnapshot: shipping})

	path := []models.OrderStatus{
		models.OrderStatusPaymentVerified,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
	}
	for _, to := range path {
		order, err := f.svc.ChangeStatus(ctx, 1, to)
		require.NoError(t, err)
		assert.Equal(t, to, order.Status)
	}
	require.Len(t, f.notifier.msgs, 1, "only SHIPPED notifies on this path")
	assert.Equal(t, "ann@example.com", f.notifier.msgs[0].Recipient)

	_, err = f.svc.ChangeStatus(ctx, 1, models.OrderStatusProcessing)
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "no way back")

	_, err = f.svc.ChangeStatus(ctx, 1, models.OrderStatusRefunded)
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, 1, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "terminal state")

	_, err = f.svc.ChangeStatus(ctx, 1, "LOST")
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = f.svc.ChangeStatus(ctx, 2, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestOrderService_ChangeStatus_ConcurrentChange(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	f.orders.put(&models.Order{ID: 1, UserID: userID, Status: models.OrderStatusPendingPayment})
	f.orders.statusErr = storage.ErrStatusConflict

	_, err := f.svc.ChangeStatus(context.Background(), 1, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestOrderService_ChangeStatus_FallsBackToAccountEmail(t *testing.T) {
	f := newOrderFixture(t, defaultCheckout())
	ctx := context.Background()
	user, err := f.users.CreateUser(ctx, &models.User{Email: "account@example.com"})
	require.NoError(t, err)
	empty, err := models.NewSnapshot(nil)
	require.NoError(t, err)
	f.orders.put(&models.Order{ID: 1, OrderNumber: "ORD-1", UserID: user.ID, Status: models.OrderStatusPendingPayment, ShippingSnapshot: empty})

	_, err = f.svc.ChangeStatus(ctx, 1, models.OrderStatusCancelled)
	require.NoError(t, err)
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, "account@example.com", f.notifier.msgs[0].Recipient)
}
