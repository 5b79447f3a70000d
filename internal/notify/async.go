package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/linemk/storefront/internal/lib/logger/sl"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// Stats — счётчики отправки с момента старта.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

// Async отправляет сообщения в фоне: одна попытка, таймаут на сообщение,
// не больше maxInFlight одновременных отправок. Лишние сообщения отбрасываются.
// Результат отправки никогда не влияет на вызывающего.
type Async struct {
	log        *slog.Logger
	dispatcher Dispatcher
	timeout    time.Duration
	sem        *semaphore.Weighted
	wg         sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewAsync(log *slog.Logger, dispatcher Dispatcher, timeout time.Duration, maxInFlight int64) *Async {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Async{
		log:        log.With(slog.String("component", "notify")),
		dispatcher: dispatcher,
		timeout:    timeout,
		sem:        semaphore.NewWeighted(maxInFlight),
	}
}

// Dispatch не блокируется.
func (a *Async) Dispatch(msg Message) {
	const op = "notify.Async.Dispatch"
	logger := a.log.With(slog.String("op", op), slog.String("order_number", msg.OrderNumber))

	if !a.sem.TryAcquire(1) {
		a.dropped.Inc()
		logger.Warn("too many notifications in flight, message dropped")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.sem.Release(1)

		// контекст запроса к этому моменту уже может быть отменён
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.dispatcher.Send(ctx, msg); err != nil {
			a.failed.Inc()
			logger.Error("failed to send notification", sl.Err(err))
			return
		}
		a.sent.Inc()
		logger.Debug("notification sent")
	}()
}

func (a *Async) Stats() Stats {
	return Stats{
		Sent:    a.sent.Load(),
		Failed:  a.failed.Load(),
		Dropped: a.dropped.Load(),
	}
}

// Wait дожидается уже запущенных отправок или отмены ctx.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
