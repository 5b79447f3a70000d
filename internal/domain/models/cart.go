package models

// CartItem — строка корзины вместе с актуальными данными товара (JOIN с products).
type CartItem struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice int64  `json:"unitPrice"`
	ImageRef  string `json:"imageRef"`
	Quantity  int    `json:"quantity"`
	Stock     int    `json:"stock"`
	IsActive  bool   `json:"isActive"`
}

// CartView — каноническое представление корзины, которое сервер отдаёт после каждой операции.
type CartView struct {
	Items      []CartItem `json:"items"`
	TotalCount int        `json:"totalCount"`
	TotalPrice int64      `json:"totalPrice"`
	// Stale — изменение записано, но перечитать корзину не удалось
	Stale bool `json:"stale,omitempty"`
}

// NewCartView считает агрегаты по строкам.
func NewCartView(items []CartItem) CartView {
	view := CartView{Items: items}
	if view.Items == nil {
		view.Items = []CartItem{}
	}
	for _, it := range view.Items {
		view.TotalCount += it.Quantity
		view.TotalPrice += it.UnitPrice * int64(it.Quantity)
	}
	return view
}
