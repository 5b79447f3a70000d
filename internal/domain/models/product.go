package models

// Product представляет товар каталога. Ядро корзины читает его, но не редактирует.
type Product struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice int64  `json:"unitPrice"` // цена в минимальных единицах валюты
	ImageRef  string `json:"imageRef"`
	Stock     int    `json:"stock"`
	IsActive  bool   `json:"isActive"`
}
