package app

import (
	"fmt"
	"log/slog"

	"github.com/linemk/storefront/internal/config"
	"github.com/linemk/storefront/internal/notify"
)

// NewDispatcher выбирает способ доставки писем по notify.driver.
// Возвращаемая функция закрывает ресурсы диспетчера.
func NewDispatcher(log *slog.Logger, cfg config.NotifyConfig) (notify.Dispatcher, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "log":
		return notify.NewLogDispatcher(log), noop, nil
	case "sendgrid":
		d, err := notify.NewSendGridDispatcher(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName)
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, fmt.Errorf("notify: kafka driver requires kafka_brokers")
		}
		d := notify.NewKafkaDispatcher(cfg.KafkaTopic, cfg.KafkaBrokers...)
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}
