// Package audit is the entry point the CRUD layer uses to record actions on
// portal records. Calls never fail the caller: delivery problems are logged
// and counted here, in one place.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"portalquejas/internal/platform/metrics"
	auditevent "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/audit/worker"
	"portalquejas/pkg/platform/circuit"
)

type Service struct {
	publisher  AuditPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	breaker    *circuit.Breaker
	sampler    *Sampler
	bufferSize int

	// onClose releases a publisher owned by the service.
	onClose func() error

	mu     sync.RWMutex
	inbox  chan auditevent.Event
	done   chan struct{}
	closed bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// DefaultAsyncBuffer is the number of events queued for the background
// worker when no buffer size is configured.
const DefaultAsyncBuffer = 1024

// WithAsyncBuffer sets the queue size of the background worker. When the
// buffer is full new events are dropped. n <= 0 publishes inline, like
// WithSyncDelivery.
func WithAsyncBuffer(n int) Option {
	return func(s *Service) {
		s.bufferSize = max(n, 0)
	}
}

// WithSyncDelivery publishes inline: Log calls return after the broker
// answers. Meant for tools that report each delivery, not for request paths.
func WithSyncDelivery() Option {
	return func(s *Service) {
		s.bufferSize = 0
	}
}

// WithBreaker stops publish attempts while the broker keeps failing.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func WithSampler(sampler *Sampler) Option {
	return func(s *Service) {
		s.sampler = sampler
	}
}

// New creates the service. Events are published by a background worker
// through a DefaultAsyncBuffer queue, so Log calls never wait on the broker.
func New(publisher AuditPublisher, opts ...Option) (*Service, error) {
	if publisher == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	s := &Service{
		publisher:  publisher,
		logger:     slog.Default(),
		bufferSize: DefaultAsyncBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.bufferSize > 0 {
		s.inbox = make(chan auditevent.Event, s.bufferSize)
		s.done = make(chan struct{})
		w := worker.NewWorker(sinkFunc(s.deliver), s.inbox, worker.WithLogger(s.logger))
		go func() {
			defer close(s.done)
			_ = w.Run(context.Background())
		}()
	}
	return s, nil
}

// LogCreate records that a record was created with the given state.
func (s *Service) LogCreate(ctx context.Context, entity auditevent.Entity, recordID int64, created auditevent.Document, md Metadata) {
	s.dispatch(ctx, s.event(auditevent.ActionCreate, entity, recordID, nil, created, md))
}

// LogUpdate records a change from previous to current.
func (s *Service) LogUpdate(ctx context.Context, entity auditevent.Entity, recordID int64, previous, current auditevent.Document, md Metadata) {
	s.dispatch(ctx, s.event(auditevent.ActionUpdate, entity, recordID, previous, current, md))
}

// LogDelete records the state a record had before deletion.
func (s *Service) LogDelete(ctx context.Context, entity auditevent.Entity, recordID int64, deleted auditevent.Document, md Metadata) {
	s.dispatch(ctx, s.event(auditevent.ActionDelete, entity, recordID, deleted, nil, md))
}

// LogRead records that a record was viewed. Read events are subject to
// sampling when a sampler is configured.
func (s *Service) LogRead(ctx context.Context, entity auditevent.Entity, recordID int64, viewed auditevent.Document, md Metadata) {
	if s.sampler != nil && !s.sampler.Keep(auditevent.ActionRead) {
		return
	}
	s.dispatch(ctx, s.event(auditevent.ActionRead, entity, recordID, nil, viewed, md))
}

// Close stops accepting events, waits until the buffer is drained and
// closes a publisher opened by Open.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.inbox != nil {
		close(s.inbox)
	}
	s.mu.Unlock()

	if s.done != nil {
		<-s.done
	}
	if s.onClose != nil {
		if err := s.onClose(); err != nil {
			s.logger.Error("audit publisher close failed", "error", err)
		}
	}
}

func (s *Service) event(action auditevent.ActionKind, entity auditevent.Entity, recordID int64, previous, current auditevent.Document, md Metadata) auditevent.Event {
	return auditevent.Event{
		Action:        action,
		Entity:        entity,
		RecordID:      recordID,
		PreviousState: previous,
		NewState:      current,
		Actor:         md.actor(),
		OriginAddress: md.ClientIP,
		ClientAgent:   md.UserAgent,
	}
}

func (s *Service) dispatch(ctx context.Context, e auditevent.Event) {
	if err := auditevent.Validate(e); err != nil {
		s.metrics.IncValidationRejects()
		s.logger.WarnContext(ctx, "audit event rejected",
			"action", e.Action,
			"entity", e.Entity,
			"record_id", e.RecordID,
			"error", err,
		)
		return
	}

	if s.inbox == nil {
		if _, err := s.deliver(ctx, e); err != nil {
			s.logger.ErrorContext(ctx, "audit event delivery failed",
				"action", e.Action,
				"entity", e.Entity,
				"record_id", e.RecordID,
				"error", err,
			)
		}
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(ctx, e, ErrServiceClosed)
		return
	}
	select {
	case s.inbox <- e:
	default:
		s.drop(ctx, e, ErrBufferFull)
	}
}

// deliver publishes e through the breaker. Validation failures do not count
// against the broker.
func (s *Service) deliver(ctx context.Context, e auditevent.Event) (auditevent.Delivery, error) {
	if s.breaker != nil && !s.breaker.Allow() {
		s.metrics.IncAuditDropped()
		return auditevent.Delivery{}, ErrCircuitOpen
	}

	d, err := s.publisher.Publish(ctx, e)
	if s.breaker == nil {
		return d, err
	}
	switch {
	case err == nil:
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "audit publisher circuit closed", "breaker", s.breaker.Name())
		}
	case !errors.Is(err, auditevent.ErrValidation):
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "audit publisher circuit opened", "breaker", s.breaker.Name())
		}
	}
	return d, err
}

func (s *Service) drop(ctx context.Context, e auditevent.Event, reason error) {
	s.metrics.IncAuditDropped()
	s.logger.WarnContext(ctx, "audit event dropped",
		"action", e.Action,
		"entity", e.Entity,
		"record_id", e.RecordID,
		"reason", reason,
	)
}
