// Package quantity содержит единое правило ограничения количества товара в корзине.
// Одинаково применяется локальным кэшем корзины, серверной корзиной и SQL-запросами хранилища.
package quantity

import "errors"

// ErrOutOfStock — товара нет в наличии, изменение корзины должно быть отклонено целиком.
var ErrOutOfStock = errors.New("product is out of stock")

// Clamp ограничивает запрошенное количество диапазоном [1, available].
func Clamp(requested, available int) int {
	effective := requested
	if effective > available {
		effective = available
	}
	if effective < 1 {
		effective = 1
	}
	return effective
}

// Effective возвращает количество для записи либо ErrOutOfStock, если available <= 0.
func Effective(requested, available int) (int, error) {
	if available <= 0 {
		return 0, ErrOutOfStock
	}
	return Clamp(requested, available), nil
}

// Sum складывает количества без переполнения int.
func Sum(a, b int) int {
	const maxInt = int(^uint(0) >> 1)
	if b > 0 && a > maxInt-b {
		return maxInt
	}
	return a + b
}
