// Package consumer runs the long-lived receive loop of a consumer-group
// member: poll, hand each message to a Handler, count the outcome, commit.
//
// A failure to handle one message is logged and counted; it never stops the
// loop. Only a failure of the broker session itself ends Start with an error,
// and the owning process is expected to restart the consumer.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"portalquejas/internal/platform/metrics"
	"portalquejas/pkg/platform/audit"
)

// Handler processes a single message. Returning an error wrapping
// ErrDuplicate marks the message as already stored; any other error marks
// it as failed.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// ErrDuplicate reports a message whose position was already stored.
var ErrDuplicate = errors.New("message already processed")

// State is the lifecycle position of a Consumer.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultProgressEvery is how many processed messages separate two
// progress log lines.
const DefaultProgressEvery = 10

// Stats is a point-in-time snapshot of a Consumer.
type Stats struct {
	Connected   bool            `json:"connected"`
	Running     bool            `json:"running"`
	Processed   int64           `json:"processed"`
	Failed      int64           `json:"failed"`
	Duplicates  int64           `json:"duplicates"`
	SuccessRate float64         `json:"successRate"`
	Offsets     map[int32]int64 `json:"offsets,omitempty"`
}

// Consumer drives a Source through DISCONNECTED, CONNECTED, RUNNING and
// STOPPING. It is safe for concurrent use; Stats may be called while Start
// is running.
type Consumer struct {
	dial    Dialer
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	progressEvery int64
	verbose       bool

	mu     sync.Mutex
	state  atomic.Int32
	source Source
	cancel context.CancelFunc
	done   chan struct{}

	processed  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64

	offsetsMu sync.Mutex
	offsets   map[int32]int64
}

// Option configures a Consumer.
type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithProgressEvery sets how often a progress line is logged. Values below
// one keep the default.
func WithProgressEvery(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.progressEvery = int64(n)
		}
	}
}

// WithVerbose includes raw payloads in failure logs. Use outside
// production only.
func WithVerbose(verbose bool) Option {
	return func(c *Consumer) {
		c.verbose = verbose
	}
}

// New builds a disconnected Consumer.
func New(dial Dialer, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		dial:          dial,
		handler:       handler,
		logger:        slog.Default(),
		progressEvery: DefaultProgressEvery,
		offsets:       make(map[int32]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Connect opens the broker session. It is a no-op unless the consumer is
// disconnected. On failure the state is unchanged and Connect may be retried.
func (c *Consumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Consumer) connectLocked(ctx context.Context) error {
	if c.State() != StateDisconnected {
		return nil
	}
	src, err := c.dial(ctx)
	if err != nil {
		if !errors.Is(err, audit.ErrConnection) {
			err = fmt.Errorf("%w: %w", audit.ErrConnection, err)
		}
		c.logger.ErrorContext(ctx, "audit consumer failed to connect", "error", err)
		return err
	}
	c.source = src
	c.state.Store(int32(StateConnected))
	c.logger.InfoContext(ctx, "audit consumer connected")
	return nil
}

// Start connects if needed and runs the receive loop until Stop is called
// or ctx is done, in which case it returns nil. If the consumer is already
// running Start returns immediately. A broker session failure ends the loop
// with an error wrapping audit.ErrConnection.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.State() {
	case StateRunning, StateStopping:
		c.mu.Unlock()
		return nil
	}
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	src := c.source
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.state.Store(int32(StateRunning))
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "audit consumer running")
	err := c.run(loopCtx, src)
	cancel()

	c.mu.Lock()
	src.Close()
	c.source = nil
	c.cancel = nil
	c.state.Store(int32(StateDisconnected))
	close(done)
	c.mu.Unlock()

	stats := c.Stats()
	if err != nil {
		c.logger.ErrorContext(ctx, "audit consumer stopped on connection failure",
			"error", err,
			"processed", stats.Processed,
			"failed", stats.Failed,
		)
		return err
	}
	c.logger.InfoContext(ctx, "audit consumer stopped",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"duplicates", stats.Duplicates,
	)
	return nil
}

// Stop ends the receive loop after the in-flight message, commits what was
// handled and closes the session. It blocks until the loop has exited or
// ctx is done. Calling Stop on a consumer that is not running is a no-op
// apart from closing an idle session.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.State() {
	case StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateConnected:
		c.source.Close()
		c.source = nil
		c.state.Store(int32(StateDisconnected))
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "audit consumer disconnected")
		return nil
	case StateRunning:
		c.state.Store(int32(StateStopping))
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	state := c.State()
	processed := c.processed.Load()
	failed := c.failed.Load()

	var rate float64
	if total := processed + failed; total > 0 {
		rate = float64(processed) / float64(total) * 100
	}

	c.offsetsMu.Lock()
	offsets := make(map[int32]int64, len(c.offsets))
	for p, o := range c.offsets {
		offsets[p] = o
	}
	c.offsetsMu.Unlock()

	return Stats{
		Connected:   state != StateDisconnected,
		Running:     state == StateRunning,
		Processed:   processed,
		Failed:      failed,
		Duplicates:  c.duplicates.Load(),
		SuccessRate: rate,
		Offsets:     offsets,
	}
}

func (c *Consumer) run(ctx context.Context, src Source) error {
	// Handling and committing outlive the loop context so that Stop lets
	// the in-flight message finish.
	workCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := src.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("%w: poll: %w", audit.ErrConnection, err)
		}

		handled := make([]*Message, 0, len(msgs))
		for _, msg := range msgs {
			c.process(workCtx, msg)
			handled = append(handled, msg)
			if ctx.Err() != nil {
				break
			}
		}
		if err := src.Commit(workCtx, handled); err != nil {
			c.logger.WarnContext(ctx, "offset commit failed",
				"messages", len(handled),
				"error", err,
			)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *Message) {
	start := time.Now()
	err := c.handler.Handle(ctx, msg)
	c.metrics.ObserveProcessing(time.Since(start))
	c.trackOffset(msg)

	switch {
	case err == nil:
		c.recordProcessed(ctx)
	case errors.Is(err, ErrDuplicate):
		c.duplicates.Add(1)
		c.metrics.IncDuplicates()
		c.logger.DebugContext(ctx, "skipped duplicate audit message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		c.recordProcessed(ctx)
	default:
		c.failed.Add(1)
		c.metrics.IncFailed(failureReason(err))
		attrs := []any{
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		}
		if c.verbose {
			attrs = append(attrs, "payload", string(msg.Value))
		}
		c.logger.ErrorContext(ctx, "failed to process audit message", attrs...)
	}
}

func (c *Consumer) recordProcessed(ctx context.Context) {
	n := c.processed.Add(1)
	c.metrics.IncProcessed()
	if n%c.progressEvery == 0 {
		c.logger.InfoContext(ctx, "audit consumer progress",
			"processed", n,
			"failed", c.failed.Load(),
			"duplicates", c.duplicates.Load(),
		)
	}
}

func (c *Consumer) trackOffset(msg *Message) {
	c.offsetsMu.Lock()
	if cur, ok := c.offsets[msg.Partition]; !ok || msg.Offset > cur {
		c.offsets[msg.Partition] = msg.Offset
	}
	c.offsetsMu.Unlock()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, audit.ErrDeserialization):
		return "deserialization"
	case errors.Is(err, audit.ErrStorage):
		return "storage"
	default:
		return "other"
	}
}
