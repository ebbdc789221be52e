package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"portalquejas/internal/platform/kafka"
)

// Message is one record read from the broker, decoupled from the client
// library so handlers can be tested without a broker.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time

	record *kgo.Record
}

// Header returns the value of the named header, or "".
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// ErrSourceClosed is returned by Poll once the source has been closed.
var ErrSourceClosed = errors.New("source closed")

// Source is a group-member handle the consumer loop reads from.
//
// Poll blocks until records are available or ctx is done. A returned error
// is fatal to the loop. Commit marks msgs as handled and lets a pending
// group rebalance proceed; it is called after every poll, possibly with no
// messages.
type Source interface {
	Poll(ctx context.Context) ([]*Message, error)
	Commit(ctx context.Context, msgs []*Message) error
	Close()
}

// Dialer opens a Source. It must return an error wrapping
// audit.ErrConnection when the brokers cannot be reached.
type Dialer func(ctx context.Context) (Source, error)

// KafkaDialer returns a Dialer that joins groupID on the audit topic.
func KafkaDialer(cfg kafka.Config, groupID string, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Source, error) {
		client, err := kafka.NewConsumerClient(ctx, cfg, groupID, logger)
		if err != nil {
			return nil, err
		}
		return &kgoSource{client: client, logger: logger}, nil
	}
}

type kgoSource struct {
	client *kgo.Client
	logger *slog.Logger
}

func (s *kgoSource) Poll(ctx context.Context) ([]*Message, error) {
	fetches := s.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, fe := range fetches.Errors() {
		switch classifyFetchError(fe.Err) {
		case fetchStop:
			return nil, fe.Err
		case fetchNotice:
			var loss *kgo.ErrDataLoss
			if errors.As(fe.Err, &loss) {
				s.logger.WarnContext(ctx, "audit partition reset after data loss",
					"topic", fe.Topic,
					"partition", fe.Partition,
					"consumed_to", loss.ConsumedTo,
					"reset_to", loss.ResetTo,
				)
				continue
			}
			s.logger.WarnContext(ctx, "retriable fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		default:
			return nil, fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
		}
	}

	var msgs []*Message
	fetches.EachRecord(func(r *kgo.Record) {
		msgs = append(msgs, fromRecord(r))
	})
	return msgs, nil
}

// fetchErrorClass says how Poll treats one partition's fetch error.
type fetchErrorClass int

const (
	// fetchFatal ends the receive loop: the session or broker is gone.
	fetchFatal fetchErrorClass = iota
	// fetchNotice is logged; records from the same poll are still handled.
	fetchNotice
	// fetchStop means the poll context is done.
	fetchStop
)

// classifyFetchError sorts fetch errors. Data loss is a notice: the client
// has already reset the partition to a valid offset.
func classifyFetchError(err error) fetchErrorClass {
	var loss *kgo.ErrDataLoss
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fetchStop
	case errors.As(err, &loss):
		return fetchNotice
	case kerr.IsRetriable(err):
		return fetchNotice
	default:
		return fetchFatal
	}
}

func (s *kgoSource) Commit(ctx context.Context, msgs []*Message) error {
	defer s.client.AllowRebalance()
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		if m.record != nil {
			records = append(records, m.record)
		}
	}
	if err := s.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (s *kgoSource) Close() {
	s.client.Close()
}

func fromRecord(r *kgo.Record) *Message {
	m := &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
		record:    r,
	}
	if len(r.Headers) > 0 {
		m.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}
