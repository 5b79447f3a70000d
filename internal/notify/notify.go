package notify

import (
	"context"
	"errors"
	"log/slog"
)

var ErrEmptyRecipient = errors.New("recipient is empty")

// Message — письмо покупателю.
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	HTMLBody  string `json:"html_body"`
	// OrderNumber используется как ключ партиции в kafka
	OrderNumber string `json:"order_number,omitempty"`
}

// Dispatcher доставляет одно сообщение. Повторов нет.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher только пишет сообщение в лог, для локального окружения.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrEmptyRecipient
	}
	d.log.Info("notification",
		slog.String("recipient", msg.Recipient),
		slog.String("subject", msg.Subject),
		slog.String("order_number", msg.OrderNumber),
	)
	return nil
}
