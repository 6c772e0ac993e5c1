package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
	emojiusecase "emojivote/internal/usecase/emoji"
)

var ErrQueueFull = errors.New("event queue is full")

type EventHandler interface {
	HandleEvent(ctx context.Context, ev emojiusecase.Event) error
}

// Dispatcher decouples event intake from processing. Intake never blocks:
// when the queue is full the event is dropped and the caller is told so.
type Dispatcher struct {
	handler EventHandler
	queue   chan emojiusecase.Event
	workers int
	metrics ports.Metrics
}

func NewDispatcher(handler EventHandler, workers int, queueSize int, metrics ports.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Dispatcher{
		handler: handler,
		queue:   make(chan emojiusecase.Event, queueSize),
		workers: workers,
		metrics: metrics,
	}
}

func (d *Dispatcher) Enqueue(ev emojiusecase.Event) error {
	select {
	case d.queue <- ev:
		return nil
	default:
		d.metrics.EventDropped(string(ev.Kind))
		return fmt.Errorf("%w: %s", ErrQueueFull, ev.Kind)
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run processes events until ctx is done. Events still queued at that point
// are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if d.handler == nil {
		return errors.New("event handler is required")
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.dispatch"))
	logging.Info(ctx, "dispatcher started", slog.Int("workers", d.workers), slog.Int("queue_size", cap(d.queue)))

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		group.Go(func() error {
			d.work(logging.WithAttrs(groupCtx, slog.Int("worker", i)))
			return nil
		})
	}
	err := group.Wait()

	if pending := len(d.queue); pending > 0 {
		logging.Warn(ctx, "dispatcher stopped with pending events", slog.Int("pending", pending))
	} else {
		logging.Info(ctx, "dispatcher stopped")
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev emojiusecase.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logging.Error(ctx, "event handler panicked",
				slog.String("event_kind", string(ev.Kind)),
				slog.Any("err", errs.Loggable(errs.WithStack(fmt.Errorf("panic: %v", recovered)))),
			)
		}
	}()
	if err := d.handler.HandleEvent(ctx, ev); err != nil {
		logging.Error(ctx, "event handling failed",
			slog.String("event_kind", string(ev.Kind)),
			slog.String("event_id", ev.ID),
			slog.Any("err", errs.Loggable(err)),
		)
	}
}
