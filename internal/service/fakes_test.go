package service_test

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/notify"
	"github.com/linemk/storefront/internal/quantity"
	"github.com/linemk/storefront/internal/storage"
)

// fakeProductRepo — каталог в памяти.
type fakeProductRepo struct {
	mu       sync.Mutex
	products map[int64]*models.Product
	locked   []int64
	err      error
	// busy — товары, блокировку которых держит другая транзакция дольше lock_timeout
	busy        map[int64]bool
	lockTimeout time.Duration
	timeoutErr  error
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func newFakeProductRepo(products ...models.Product) *fakeProductRepo {
	f := &fakeProductRepo{products: map[int64]*models.Product{}}
	for i := range products {
		p := products[i]
		f.products[p.ID] = &p
	}
	return f
}

func (f *fakeProductRepo) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductRepo) SetLockTimeoutTx(_ context.Context, _ *sql.Tx, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timeoutErr != nil {
		return f.timeoutErr
	}
	f.lockTimeout = timeout
	return nil
}

func (f *fakeProductRepo) LockProductTx(ctx context.Context, _ *sql.Tx, id int64) (*models.Product, error) {
	f.mu.Lock()
	f.locked = append(f.locked, id)
	busy := f.busy[id]
	f.mu.Unlock()
	if busy {
		return nil, storage.ErrProductLocked
	}
	return f.GetProductByID(ctx, id)
}

func (f *fakeProductRepo) ReserveStockTx(_ context.Context, _ *sql.Tx, id int64, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return storage.ErrProductNotFound
	}
	if p.Stock < qty {
		return storage.ErrInsufficientStock
	}
	p.Stock -= qty
	return nil
}

// fakeCartRepo повторяет атомарные запросы cart_items поверх map под мьютексом.
type fakeCartRepo struct {
	mu       sync.Mutex
	products *fakeProductRepo
	rows     map[int64]map[int64]int
	deleted  []int64
	err      error
	clearErr error
}

var _ storage.CartStorage = (*fakeCartRepo)(nil)

func newFakeCartRepo(products *fakeProductRepo) *fakeCartRepo {
	return &fakeCartRepo{products: products, rows: map[int64]map[int64]int{}}
}

func (f *fakeCartRepo) product(id int64) (*models.Product, bool) {
	f.products.mu.Lock()
	defer f.products.mu.Unlock()
	p, ok := f.products.products[id]
	return p, ok
}

func (f *fakeCartRepo) ListCart(_ context.Context, userID int64) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]int64, 0, len(f.rows[userID]))
	for id := range f.rows[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	items := make([]models.CartItem, 0, len(ids))
	for _, id := range ids {
		p, _ := f.product(id)
		items = append(items, models.CartItem{
			ProductID: id, Name: p.Name, SKU: p.SKU, UnitPrice: p.UnitPrice,
			Quantity: f.rows[userID][id], Stock: p.Stock, IsActive: p.IsActive,
		})
	}
	return items, nil
}

func (f *fakeCartRepo) AddItem(_ context.Context, userID, productID int64, qty int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.product(productID)
	if !ok || !p.IsActive || p.Stock < 1 {
		return 0, storage.ErrProductUnavailable
	}
	if f.rows[userID] == nil {
		f.rows[userID] = map[int64]int{}
	}
	q := quantity.Clamp(quantity.Sum(f.rows[userID][productID], qty), p.Stock)
	f.rows[userID][productID] = q
	return q, nil
}

func (f *fakeCartRepo) SetItem(_ context.Context, userID, productID int64, qty int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[userID][productID]; !ok {
		return 0, storage.ErrCartItemNotFound
	}
	p, _ := f.product(productID)
	q := quantity.Clamp(qty, p.Stock)
	f.rows[userID][productID] = q
	return q, nil
}

func (f *fakeCartRepo) DeleteItem(_ context.Context, userID, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows[userID], productID)
	return nil
}

func (f *fakeCartRepo) ClearCart(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.rows, userID)
	return nil
}

func (f *fakeCartRepo) ClampToStock(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, q := range f.rows[userID] {
		p, _ := f.product(id)
		if p.Stock >= 1 && q > p.Stock {
			f.rows[userID][id] = p.Stock
		}
	}
	return nil
}

func (f *fakeCartRepo) DeleteItemsTx(_ context.Context, _ *sql.Tx, userID int64, productIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, id := range productIDs {
		delete(f.rows[userID], id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

// fakeOrderRepo хранит заказы в памяти; ошибки задаются очередью.
type fakeOrderRepo struct {
	mu         sync.Mutex
	orders     map[int64]*models.Order
	byKey      map[string]int64
	createErrs []error
	lineErr    error
	statusErr  error
	nextID     int64
	// beforeCreate вызывается перед вставкой шапки, без блокировки
	beforeCreate func()
	// всё, что было вставлено, включая откаченные попытки
	created []*models.Order
	lines   []models.OrderLine
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[int64]*models.Order{}, byKey: map[string]int64{}}
}

func (f *fakeOrderRepo) CreateOrderTx(_ context.Context, _ *sql.Tx, order *models.Order) error {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	f.nextID++
	order.ID = f.nextID
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrderRepo) CreateOrderLineTx(_ context.Context, _ *sql.Tx, line *models.OrderLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lineErr != nil {
		return f.lineErr
	}
	line.ID = int64(len(f.lines) + 1)
	f.lines = append(f.lines, *line)
	return nil
}

// put кладёт заказ так, как он выглядел бы после коммита.
func (f *fakeOrderRepo) put(order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	if order.IdempotencyKey != nil {
		f.byKey[*order.IdempotencyKey] = order.ID
	}
}

func (f *fakeOrderRepo) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	f.mu.Lock()
	id, ok := f.byKey[key]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) GetOrdersByUserID(_ context.Context, userID int64) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) UpdateStatus(_ context.Context, id int64, from, to models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return storage.ErrStatusConflict
	}
	o.Status = to
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (f *fakeNotifier) Dispatch(msg notify.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

type seqNumbers struct {
	mu  sync.Mutex
	seq []string
	i   int
}

func (s *seqNumbers) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seq[s.i%len(s.seq)]
	s.i++
	return n
}
