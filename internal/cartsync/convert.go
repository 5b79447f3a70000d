package cartsync

import (
	"github.com/linemk/storefront/internal/clientcart"
	"github.com/linemk/storefront/internal/domain/models"
)

// Lines переводит серверное представление в строки клиентского кэша.
func Lines(view models.CartView) []clientcart.CartLine {
	lines := make([]clientcart.CartLine, 0, len(view.Items))
	for _, it := range view.Items {
		lines = append(lines, clientcart.CartLine{
			ProductID:   it.ProductID,
			Name:        it.Name,
			UnitPrice:   it.UnitPrice,
			ImageRef:    it.ImageRef,
			Quantity:    it.Quantity,
			StockAtSync: it.Stock,
		})
	}
	return lines
}

// View строит представление корзины из кэша гостя.
func View(lines []clientcart.CartLine) models.CartView {
	items := make([]models.CartItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.CartItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			ImageRef:  l.ImageRef,
			Quantity:  l.Quantity,
			Stock:     l.StockAtSync,
			IsActive:  true,
		})
	}
	return models.NewCartView(items)
}
