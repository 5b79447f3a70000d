package app

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/linemk/storefront/internal/cartsync"
	"github.com/linemk/storefront/internal/clientcart"
	"github.com/linemk/storefront/internal/config"
	"github.com/linemk/storefront/internal/ordernum"
	"github.com/linemk/storefront/internal/service"
	"github.com/linemk/storefront/internal/storage"
	"github.com/redis/go-redis/v9"
)

// NewDeps собирает репозитории и сервисы поверх подключений к Postgres и Redis.
func NewDeps(log *slog.Logger, cfg *config.Config, db *sql.DB, rdb *redis.Client, notifier service.Notifier) Deps {
	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(db)
	productRepo := storage.NewProductRepository(db)
	cartRepo := storage.NewCartRepository(db)
	orderRepo := storage.NewOrderRepository(db)

	authService := service.NewAuthService(log, userRepo, cfg.JWT.Secret, time.Duration(cfg.JWT.TokenTTL)*time.Minute)
	cartService := service.NewCartService(log, productRepo, cartRepo)
	orderService := service.NewOrderService(log, db, productRepo, cartRepo, orderRepo, userRepo, ordernum.New(), notifier, cfg.Checkout)

	return Deps{
		Auth:       authService,
		Reconciler: cartsync.NewReconciler(log, cartService),
		Sessions:   clientcart.NewSessions(log, clientcart.NewRedisStorage(rdb, cfg.Redis.CartTTL)),
		Products:   productRepo,
		Orders:     orderService,
	}
}
