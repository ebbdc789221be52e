package audit

import (
	"context"
	"errors"

	auditevent "portalquejas/pkg/platform/audit"
)

//go:generate mockgen -source=publisher.go -destination=mocks/mocks.go -package=mocks AuditPublisher

// AuditPublisher sends one audit event to the broker.
type AuditPublisher interface {
	Publish(ctx context.Context, e auditevent.Event) (auditevent.Delivery, error)
}

var (
	// ErrBufferFull is reported when the async buffer cannot take an event.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrCircuitOpen is reported when the broker breaker rejects a publish.
	ErrCircuitOpen = errors.New("audit publisher circuit open")
	// ErrServiceClosed is reported for events logged after Close.
	ErrServiceClosed = errors.New("audit service closed")
)

// sinkFunc adapts a function to worker.Sink.
type sinkFunc func(ctx context.Context, e auditevent.Event) (auditevent.Delivery, error)

func (f sinkFunc) Publish(ctx context.Context, e auditevent.Event) (auditevent.Delivery, error) {
	return f(ctx, e)
}
