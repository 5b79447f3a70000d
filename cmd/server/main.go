package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linemk/storefront/internal/app"
	"github.com/linemk/storefront/internal/config"
	"github.com/linemk/storefront/internal/lib/logger"
	"github.com/linemk/storefront/internal/lib/logger/sl"
	"github.com/linemk/storefront/internal/notify"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()

	// загружаем объект приложения: конфиг, подключения к БД и Redis
	application, err := app.NewApp(initCtx, log, cfg)
	if err != nil {
		log.Error("failed to initialize app", sl.Err(err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.Close()

	dispatcher, closeDispatcher, err := app.NewDispatcher(log, cfg.Notify)
	if err != nil {
		log.Error("failed to initialize notifications", sl.Err(err))
		panic(errors.Wrap(err, "failed to initialize notifications"))
	}
	notifier := notify.NewAsync(log, dispatcher, cfg.Notify.Timeout, cfg.Notify.MaxInFlight)

	deps := app.NewDeps(log, cfg, application.DB, application.Redis, notifier)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      app.NewRouter(log, cfg.JWT.Secret, deps),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", sl.Err(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", sl.Err(err))
	}

	// письма, поставленные до остановки, успевают уйти или отменяются по таймауту
	if err := notifier.Wait(ctx); err != nil {
		log.Warn("notifications still in flight", sl.Err(err))
	}
	stats := notifier.Stats()
	log.Info("notifications",
		slog.Int64("sent", stats.Sent),
		slog.Int64("failed", stats.Failed),
		slog.Int64("dropped", stats.Dropped),
	)
	if err := closeDispatcher(); err != nil {
		log.Error("failed to close notification dispatcher", sl.Err(err))
	}

	log.Info("server gracefully stopped")
}
