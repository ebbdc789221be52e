// Package publisher sends audit events to the audit topic.
//
// Events are validated before any network work. The broker connection is
// opened on first use and reused afterwards; a failed connection attempt is
// not cached, so the next call tries again. There is no local buffering and
// no retry beyond what the client's retry policy already does: a delivery
// failure is returned to the caller.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"portalquejas/internal/platform/kafka"
	"portalquejas/internal/platform/metrics"
	audit "portalquejas/pkg/platform/audit"
)

// DefaultSource is the source header of events published by the portal API.
const DefaultSource = "portal-quejas-api"

var tracer = otel.Tracer("portalquejas/audit/publisher")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// recordProducer is the subset of *kgo.Client the publisher uses.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

type connectFunc func(ctx context.Context) (recordProducer, error)

// Publisher publishes audit events. It is safe for concurrent use.
type Publisher struct {
	topic        string
	source       string
	flushTimeout time.Duration
	connect      connectFunc
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	newEventID   func() string

	mu       sync.Mutex
	producer recordProducer
	closed   bool
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSource sets the source header value. Empty keeps DefaultSource.
func WithSource(source string) Option {
	return func(p *Publisher) {
		if source != "" {
			p.source = source
		}
	}
}

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func withConnect(connect connectFunc) Option {
	return func(p *Publisher) {
		p.connect = connect
	}
}

// New creates a Publisher for cfg. No connection is made until the first
// publish.
func New(cfg kafka.Config, opts ...Option) *Publisher {
	cfg = cfg.WithDefaults()
	p := &Publisher{
		topic:        cfg.AuditTopicName(),
		source:       DefaultSource,
		flushTimeout: cfg.SendTimeout,
		logger:       slog.Default(),
		now:          time.Now,
		newEventID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.connect == nil {
		logger := p.logger
		p.connect = func(ctx context.Context) (recordProducer, error) {
			client, err := kafka.NewProducerClient(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}
	return p
}

// Publish validates e, stamps it and waits for the broker to acknowledge it.
// Validation failures wrap audit.ErrValidation and never touch the network.
// Connection failures wrap audit.ErrConnection and delivery failures wrap
// audit.ErrDelivery.
func (p *Publisher) Publish(ctx context.Context, e audit.Event) (audit.Delivery, error) {
	ctx, span := tracer.Start(ctx, "audit.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("audit.action", string(e.Action)),
		attribute.String("audit.entity", string(e.Entity)),
		attribute.Int64("audit.record_id", e.RecordID),
	)

	if err := audit.Validate(e); err != nil {
		p.metrics.IncValidationRejects()
		span.SetStatus(codes.Error, "validation")
		return audit.Delivery{}, err
	}

	start := p.now()
	rec, err := p.record(e)
	if err != nil {
		span.SetStatus(codes.Error, "encode")
		return audit.Delivery{}, err
	}

	producer, err := p.producerFor(ctx)
	if err != nil {
		p.fail(ctx, span, err, "connect")
		return audit.Delivery{}, err
	}

	r, err := producer.ProduceSync(ctx, rec).First()
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", audit.ErrDelivery, e.Key(), err)
		p.fail(ctx, span, err, "deliver")
		return audit.Delivery{}, err
	}

	p.metrics.IncPublished(string(e.Action), string(e.Entity))
	p.metrics.ObservePublish(p.now().Sub(start))
	delivery := audit.Delivery{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}
	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", int(delivery.Partition)),
		attribute.Int64("messaging.kafka.offset", delivery.Offset),
	)
	p.logger.DebugContext(ctx, "audit event published",
		"action", e.Action,
		"entity", e.Entity,
		"record_id", e.RecordID,
		"partition", delivery.Partition,
		"offset", delivery.Offset,
	)
	return delivery, nil
}

// PublishBatch publishes events in one produce call, preserving their
// order for records sharing a key. Validation is all-or-nothing: one
// invalid event rejects the batch before any network work. If any record
// fails delivery the batch reports audit.ErrDelivery; records that the
// broker did accept are not rolled back.
func (p *Publisher) PublishBatch(ctx context.Context, events []audit.Event) (audit.BatchOutcome, error) {
	ctx, span := tracer.Start(ctx, "audit.publish_batch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(attribute.Int("audit.batch_size", len(events)))

	if len(events) == 0 {
		return audit.BatchOutcome{Deliveries: []audit.Delivery{}}, nil
	}
	if err := audit.ValidateAll(events); err != nil {
		p.metrics.IncValidationRejects()
		span.SetStatus(codes.Error, "validation")
		return audit.BatchOutcome{}, err
	}

	start := p.now()
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		rec, err := p.record(e)
		if err != nil {
			span.SetStatus(codes.Error, "encode")
			return audit.BatchOutcome{}, err
		}
		records = append(records, rec)
	}

	producer, err := p.producerFor(ctx)
	if err != nil {
		p.fail(ctx, span, err, "connect")
		return audit.BatchOutcome{}, err
	}

	results := producer.ProduceSync(ctx, records...)
	outcome := audit.BatchOutcome{Deliveries: make([]audit.Delivery, 0, len(results))}
	for i, r := range results {
		if r.Err != nil {
			err := fmt.Errorf("%w: batch event %d (%s): %w", audit.ErrDelivery, i, events[i].Key(), r.Err)
			p.fail(ctx, span, err, "deliver")
			return audit.BatchOutcome{}, err
		}
		outcome.Deliveries = append(outcome.Deliveries, audit.Delivery{
			Topic:     r.Record.Topic,
			Partition: r.Record.Partition,
			Offset:    r.Record.Offset,
		})
	}

	for _, e := range events {
		p.metrics.IncPublished(string(e.Action), string(e.Entity))
	}
	p.metrics.ObservePublish(p.now().Sub(start))
	p.logger.DebugContext(ctx, "audit batch published", "count", outcome.Count())
	return outcome, nil
}

// Close flushes buffered records and closes the connection. Publish calls
// after Close fail with ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.producer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()
	err := p.producer.Flush(ctx)
	p.producer.Close()
	p.producer = nil
	if err != nil {
		return fmt.Errorf("flush audit producer: %w", err)
	}
	return nil
}

func (p *Publisher) producerFor(ctx context.Context) (recordProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: %w", audit.ErrConnection, ErrClosed)
	}
	if p.producer != nil {
		return p.producer, nil
	}
	producer, err := p.connect(ctx)
	if err != nil {
		if !errors.Is(err, audit.ErrConnection) {
			err = fmt.Errorf("%w: %w", audit.ErrConnection, err)
		}
		return nil, err
	}
	p.producer = producer
	p.logger.InfoContext(ctx, "audit producer connected", "topic", p.topic)
	return producer, nil
}

// record stamps e and encodes it with its key and headers.
func (p *Publisher) record(e audit.Event) (*kgo.Record, error) {
	e.OccurredAt = p.now().UTC()
	value, err := audit.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.Key()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: audit.HeaderSource, Value: []byte(p.source)},
			{Key: audit.HeaderVersion, Value: []byte(audit.SchemaVersion)},
			{Key: audit.HeaderEventID, Value: []byte(p.newEventID())},
		},
	}, nil
}

func (p *Publisher) fail(ctx context.Context, span trace.Span, err error, stage string) {
	p.metrics.IncPublishFailures()
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	p.logger.ErrorContext(ctx, "audit publish failed",
		"stage", stage,
		"topic", p.topic,
		"error", err,
	)
}
