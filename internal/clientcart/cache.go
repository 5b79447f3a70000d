// Package clientcart реализует клиентский кэш корзины: упорядоченный список строк,
// который переживает перезагрузку и работает без входа в систему.
// Кэш никогда не возвращает ошибок: сбой хранилища пишется в лог,
// а испорченная или отсутствующая запись читается как пустая корзина.
package clientcart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/linemk/storefront/internal/lib/logger/sl"
	"github.com/linemk/storefront/internal/quantity"
)

// RecordVersion — версия формата сохранённой записи.
const RecordVersion = 1

// CartLine — строка клиентской корзины. Цена, имя и остаток — снимок на момент последней синхронизации.
type CartLine struct {
	ProductID   int64  `json:"productId"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice"`
	ImageRef    string `json:"imageRef,omitempty"`
	Quantity    int    `json:"quantity"`
	StockAtSync int    `json:"stockAtSync"`
}

type record struct {
	Version int        `json:"version"`
	Lines   []CartLine `json:"lines"`
}

// Cache — корзина одного посетителя, связанная с одной записью в Storage.
type Cache struct {
	mu      sync.Mutex
	log     *slog.Logger
	storage Storage
	key     string
	lines   []CartLine
}

// Open читает запись по ключу. Отсутствующие или повреждённые данные дают пустую корзину.
func Open(ctx context.Context, log *slog.Logger, storage Storage, key string) *Cache {
	const op = "clientcart.Open"

	c := &Cache{
		log:     log.With(slog.String("cart_key", key)),
		storage: storage,
		key:     key,
	}

	data, err := storage.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			c.log.Warn("failed to load cart record, starting empty", slog.String("op", op), sl.Err(err))
		}
		return c
	}

	c.lines = decode(data)
	if c.lines == nil {
		c.log.Debug("cart record is malformed, starting empty", slog.String("op", op))
	}
	return c
}

// Decode разбирает сохранённую запись. Для некорректных данных возвращает nil.
func Decode(data []byte) []CartLine {
	return decode(data)
}

func decode(data []byte) []CartLine {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Version != RecordVersion {
		return nil
	}

	seen := make(map[int64]bool, len(rec.Lines))
	lines := make([]CartLine, 0, len(rec.Lines))
	for _, l := range rec.Lines {
		if l.ProductID <= 0 || l.Quantity < 1 || seen[l.ProductID] {
			continue
		}
		seen[l.ProductID] = true
		lines = append(lines, l)
	}
	return lines
}

// Key возвращает имя записи в хранилище.
func (c *Cache) Key() string {
	return c.key
}

// Lines возвращает копию строк в порядке добавления.
func (c *Cache) Lines() []CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.copyLines()
}

// Line ищет строку по товару.
func (c *Cache) Line(productID int64) (CartLine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.index(productID); i >= 0 {
		return c.lines[i], true
	}
	return CartLine{}, false
}

// Add увеличивает количество существующей строки или добавляет новую.
// Возвращает false, если товара нет в наличии: такая операция не меняет корзину.
func (c *Cache) Add(ctx context.Context, line CartLine, qty int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mutate(ctx, func(lines []CartLine) ([]CartLine, bool) {
		if i := indexOf(lines, line.ProductID); i >= 0 {
			effective, err := quantity.Effective(quantity.Sum(lines[i].Quantity, qty), lines[i].StockAtSync)
			if err != nil {
				return nil, false
			}
			lines[i].Quantity = effective
			return lines, true
		}

		effective, err := quantity.Effective(qty, line.StockAtSync)
		if err != nil {
			return nil, false
		}
		added := line
		added.Quantity = effective
		return append(lines, added), true
	})
}

// UpdateQuantity задаёт количество строки с учётом последнего известного остатка, не меньше 1.
func (c *Cache) UpdateQuantity(ctx context.Context, productID int64, qty int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mutate(ctx, func(lines []CartLine) ([]CartLine, bool) {
		i := indexOf(lines, productID)
		if i < 0 {
			return nil, false
		}
		effective, err := quantity.Effective(qty, lines[i].StockAtSync)
		if err != nil {
			return nil, false
		}
		lines[i].Quantity = effective
		return lines, true
	})
}

// Remove удаляет строку безусловно.
func (c *Cache) Remove(ctx context.Context, productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mutate(ctx, func(lines []CartLine) ([]CartLine, bool) {
		if i := indexOf(lines, productID); i >= 0 {
			lines = append(lines[:i], lines[i+1:]...)
		}
		return lines, true
	})
}

// Clear очищает корзину и удаляет запись из хранилища.
func (c *Cache) Clear(ctx context.Context) {
	const op = "clientcart.Cache.Clear"

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = nil
	if err := c.storage.Delete(ctx, c.key); err != nil {
		c.log.Error("failed to delete cart record", slog.String("op", op), sl.Err(err))
	}
}

// Replace целиком заменяет содержимое корзины (серверное представление каноническое).
func (c *Cache) Replace(ctx context.Context, lines []CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = append([]CartLine(nil), lines...)
	c.persist(ctx)
}

// Snapshot возвращает состояние для последующего Restore.
func (c *Cache) Snapshot() []CartLine {
	return c.Lines()
}

// Restore возвращает корзину к снимку, сделанному до неудачной операции.
func (c *Cache) Restore(ctx context.Context, snapshot []CartLine) {
	c.Replace(ctx, snapshot)
}

// TotalCount — сумма количеств.
func (c *Cache) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, l := range c.lines {
		total += l.Quantity
	}
	return total
}

// TotalPrice — сумма quantity * unitPrice.
func (c *Cache) TotalPrice() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, l := range c.lines {
		total += l.UnitPrice * int64(l.Quantity)
	}
	return total
}

func (c *Cache) index(productID int64) int {
	return indexOf(c.lines, productID)
}

func indexOf(lines []CartLine, productID int64) int {
	for i := range lines {
		if lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cache) copyLines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

var errUnchanged = errors.New("cart unchanged")

// mutate применяет change к актуальной записи в хранилище, а не к строкам,
// прочитанным при Open: так изменения из другой вкладки не теряются.
// Если хранилище недоступно, change применяется к строкам в памяти.
// Вызывается под c.mu.
func (c *Cache) mutate(ctx context.Context, change func([]CartLine) ([]CartLine, bool)) bool {
	const op = "clientcart.Cache.mutate"

	var fresh, next []CartLine
	err := c.storage.Update(ctx, c.key, func(current []byte) ([]byte, error) {
		fresh = decode(current)
		changed, ok := change(append([]CartLine(nil), fresh...))
		if !ok {
			return nil, errUnchanged
		}
		next = changed
		return json.Marshal(record{Version: RecordVersion, Lines: next})
	})
	switch {
	case err == nil:
		c.lines = next
		return true
	case errors.Is(err, errUnchanged):
		c.lines = fresh
		return false
	}

	c.log.Error("failed to update cart record, keeping change in memory", slog.String("op", op), sl.Err(err))
	changed, ok := change(c.copyLines())
	if ok {
		c.lines = changed
	}
	return ok
}

// persist вызывается под c.mu.
func (c *Cache) persist(ctx context.Context) {
	const op = "clientcart.Cache.persist"

	data, err := json.Marshal(record{Version: RecordVersion, Lines: c.copyLines()})
	if err != nil {
		c.log.Error("failed to encode cart record", slog.String("op", op), sl.Err(err))
		return
	}
	if err := c.storage.Save(ctx, c.key, data); err != nil {
		c.log.Error("failed to persist cart record", slog.String("op", op), sl.Err(err))
	}
}
