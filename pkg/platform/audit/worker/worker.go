package worker

import (
	"context"
	"log/slog"

	audit "portalquejas/pkg/platform/audit"
)

// Sink delivers one audit event.
type Sink interface {
	Publish(ctx context.Context, e audit.Event) (audit.Delivery, error)
}

// Worker drains audit events from a channel into a Sink. A failed delivery
// is reported to the error hook and the worker moves on to the next event.
type Worker struct {
	sink    Sink
	inbox   <-chan audit.Event
	logger  *slog.Logger
	onError func(audit.Event, error)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithErrorHook is called after every failed delivery.
func WithErrorHook(fn func(audit.Event, error)) Option {
	return func(w *Worker) {
		w.onError = fn
	}
}

func NewWorker(sink Sink, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{sink: sink, inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run delivers events until the inbox is closed and drained, or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if _, err := w.sink.Publish(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit event delivery failed",
					"action", event.Action,
					"entity", event.Entity,
					"record_id", event.RecordID,
					"error", err,
				)
				if w.onError != nil {
					w.onError(event, err)
				}
			}
		}
	}
}
