package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linemk/storefront/internal/app/handlers"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/storefront/internal/lib/logger/handlers/urllog"
	"github.com/linemk/storefront/internal/service"
)

// Deps — всё, что нужно обработчикам HTTP.
type Deps struct {
	Auth       service.AuthServiceInterface
	Reconciler handlers.CartReconciler
	Sessions   handlers.CartSessions
	Products   handlers.ProductReader
	Orders     service.OrderService
}

// NewRouter собирает маршруты API
func NewRouter(log *slog.Logger, jwtSecret string, d Deps) http.Handler {
	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// эндпоинт для аутентификации
	router.Post("/api/auth", handlers.AuthHandler(log, d.Auth))

	// гостевая корзина по заголовку X-Cart-Session
	router.Route("/api/guest/cart", func(r chi.Router) {
		r.Get("/", handlers.GetGuestCartHandler(log, d.Reconciler, d.Sessions))
		r.Post("/", handlers.AddGuestCartItemHandler(log, d.Reconciler, d.Sessions, d.Products))
		r.Put("/", handlers.UpdateGuestCartItemHandler(log, d.Reconciler, d.Sessions))
		r.Delete("/", handlers.ClearGuestCartHandler(log, d.Reconciler, d.Sessions))
		r.Delete("/{productID}", handlers.RemoveGuestCartItemHandler(log, d.Reconciler, d.Sessions))
	})

	router.Group(func(r chi.Router) {
		r.Use(jwtmiddleware.NewJWTMiddleware(jwtSecret))

		r.Get("/api/cart", handlers.GetCartHandler(log, d.Reconciler, d.Sessions))
		r.Post("/api/cart", handlers.AddCartItemHandler(log, d.Reconciler, d.Sessions))
		r.Put("/api/cart", handlers.UpdateCartItemHandler(log, d.Reconciler, d.Sessions))
		r.Delete("/api/cart", handlers.ClearCartHandler(log, d.Reconciler, d.Sessions))
		r.Delete("/api/cart/{productID}", handlers.RemoveCartItemHandler(log, d.Reconciler, d.Sessions))
		// перенос гостевой корзины после входа
		r.Post("/api/cart/merge", handlers.MergeCartHandler(log, d.Reconciler, d.Sessions))

		r.Post("/api/checkout", handlers.CheckoutHandler(log, d.Orders, d.Sessions))
		r.Get("/api/orders", handlers.ListOrdersHandler(log, d.Orders))
		r.Get("/api/orders/{id}", handlers.GetOrderHandler(log, d.Orders))

		r.Group(func(r chi.Router) {
			r.Use(jwtmiddleware.RequireRole(models.RoleAdmin))
			r.Patch("/api/admin/orders/{id}/status", handlers.ChangeOrderStatusHandler(log, d.Orders))
		})
	})

	return router
}
