package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"portalquejas/internal/platform/kafka/consumer"
	"portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/sentinel"
)

var tracer = otel.Tracer("portalquejas/audit/consumer")

// HistoryHandler turns audit messages into history rows.
// Each row carries the topic, partition and offset of its message, so a
// redelivered message hits the store's uniqueness constraint instead of
// producing a second row.
type HistoryHandler struct {
	store  audit.HistoryWriter
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a HistoryHandler.
type Option func(*HistoryHandler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *HistoryHandler) {
		h.logger = logger
	}
}

// WithClock overrides the clock used to stamp RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(h *HistoryHandler) {
		h.now = now
	}
}

// NewHistoryHandler creates a handler writing to store.
func NewHistoryHandler(store audit.HistoryWriter, opts ...Option) *HistoryHandler {
	h := &HistoryHandler{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle decodes msg and inserts one history row. Decode failures wrap
// audit.ErrDeserialization, store failures wrap audit.ErrStorage, and a row
// already present for the same message position wraps consumer.ErrDuplicate.
func (h *HistoryHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	ctx, span := tracer.Start(ctx, "audit.history.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", int(msg.Partition)),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	event, err := audit.Unmarshal(msg.Value)
	if err != nil {
		span.SetStatus(codes.Error, "decode")
		return err
	}

	record := audit.HistoryRecord{
		Event:           event,
		SourceTopic:     msg.Topic,
		SourcePartition: msg.Partition,
		SourceOffset:    msg.Offset,
		RecordedAt:      h.now().UTC(),
	}
	record.Event.Actor = event.ActorOrDefault()

	id, err := h.store.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return fmt.Errorf("history row for %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, consumer.ErrDuplicate)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		if errors.Is(err, audit.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: insert history row: %w", audit.ErrStorage, err)
	}

	h.logger.DebugContext(ctx, "stored history row",
		"id", id,
		"action", event.Action,
		"entity", event.Entity,
		"record_id", event.RecordID,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
