package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalquejas/pkg/platform/audit"
)

// fakeSource hands out queued batches, then blocks until the poll context
// is cancelled.
type fakeSource struct {
	mu        sync.Mutex
	batches   [][]*Message
	pollErr   error
	committed []*Message
	commits   int
	closed    bool
}

func (s *fakeSource) Poll(ctx context.Context) ([]*Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	err := s.pollErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) Commit(_ context.Context, msgs []*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSource) committedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.committed))
	for _, m := range s.committed {
		out = append(out, m.Offset)
	}
	return out
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func dialerFor(src Source) Dialer {
	return func(context.Context) (Source, error) { return src, nil }
}

// decodeHandler fails messages that do not decode as audit events.
func decodeHandler() Handler {
	return HandlerFunc(func(_ context.Context, msg *Message) error {
		_, err := audit.Unmarshal(msg.Value)
		return err
	})
}

func validMessage(t *testing.T, offset int64) *Message {
	t.Helper()
	value, err := audit.Marshal(audit.Event{
		Action:     audit.ActionCreate,
		Entity:     audit.EntityComplaint,
		RecordID:   offset + 1,
		NewState:   audit.Document(`{"estado":"abierta"}`),
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	return &Message{Topic: "audit-events", Partition: 0, Offset: offset, Value: value}
}

func malformedMessage(offset int64) *Message {
	return &Message{Topic: "audit-events", Partition: 0, Offset: offset, Value: []byte("{not json")}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runConsumer starts c in the background and returns a channel receiving
// Start's result.
func runConsumer(c *Consumer) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()
	return errCh
}

func waitHandled(t *testing.T, c *Consumer, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Processed+s.Failed == n
	}, 2*time.Second, 5*time.Millisecond)
}

func stopConsumer(t *testing.T, c *Consumer, errCh <-chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, <-errCh)
}

func TestConsumer_MalformedMessageIsIsolated(t *testing.T) {
	src := &fakeSource{batches: [][]*Message{{
		validMessage(t, 0),
		malformedMessage(1),
		validMessage(t, 2),
		validMessage(t, 3),
	}}}
	c := New(dialerFor(src), decodeHandler(), WithLogger(quietLogger()))

	errCh := runConsumer(c)
	waitHandled(t, c, 4)
	stopConsumer(t, c, errCh)

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, []int64{0, 1, 2, 3}, src.committedOffsets(), "failed messages are committed too")
	assert.Equal(t, int64(3), stats.Offsets[0])
}

func TestConsumer_SuccessRate(t *testing.T) {
	batch := make([]*Message, 0, 12)
	for i := range 10 {
		batch = append(batch, validMessage(t, int64(i)))
	}
	batch = append(batch, malformedMessage(10), malformedMessage(11))

	src := &fakeSource{batches: [][]*Message{batch[:6], batch[6:]}}
	c := New(dialerFor(src), decodeHandler(), WithLogger(quietLogger()))

	errCh := runConsumer(c)
	waitHandled(t, c, 12)
	stopConsumer(t, c, errCh)

	stats := c.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.InDelta(t, 83.33, stats.SuccessRate, 0.01)
}

func TestConsumer_StatsBeforeAnyMessage(t *testing.T) {
	c := New(dialerFor(&fakeSource{}), decodeHandler(), WithLogger(quietLogger()))

	stats := c.Stats()
	assert.False(t, stats.Connected)
	assert.False(t, stats.Running)
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.SuccessRate)
}

func TestConsumer_DuplicatesCountAsProcessed(t *testing.T) {
	src := &fakeSource{batches: [][]*Message{{validMessage(t, 0), validMessage(t, 1)}}}
	handler := HandlerFunc(func(_ context.Context, msg *Message) error {
		if msg.Offset == 1 {
			return fmt.Errorf("insert: %w", ErrDuplicate)
		}
		return nil
	})
	c := New(dialerFor(src), handler, WithLogger(quietLogger()))

	errCh := runConsumer(c)
	waitHandled(t, c, 2)
	stopConsumer(t, c, errCh)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Zero(t, stats.Failed)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
}

func TestConsumer_StorageFailureDoesNotStopLoop(t *testing.T) {
	src := &fakeSource{batches: [][]*Message{{validMessage(t, 0)}, {validMessage(t, 1)}}}
	handler := HandlerFunc(func(_ context.Context, msg *Message) error {
		if msg.Offset == 0 {
			return fmt.Errorf("%w: connection reset", audit.ErrStorage)
		}
		return nil
	})
	c := New(dialerFor(src), handler, WithLogger(quietLogger()))

	errCh := runConsumer(c)
	waitHandled(t, c, 2)
	stopConsumer(t, c, errCh)

	assert.Equal(t, int64(1), c.Stats().Processed)
	assert.Equal(t, int64(1), c.Stats().Failed)
}

func TestConsumer_Connect(t *testing.T) {
	t.Run("failure leaves consumer disconnected and is retryable", func(t *testing.T) {
		attempts := 0
		src := &fakeSource{}
		dial := func(context.Context) (Source, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("dial tcp 127.0.0.1:9092: connection refused")
			}
			return src, nil
		}
		c := New(dial, decodeHandler(), WithLogger(quietLogger()))

		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, audit.ErrConnection)
		assert.Equal(t, StateDisconnected, c.State())

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, StateConnected, c.State())
		assert.True(t, c.Stats().Connected)
	})

	t.Run("is idempotent", func(t *testing.T) {
		dials := 0
		src := &fakeSource{}
		dial := func(context.Context) (Source, error) {
			dials++
			return src, nil
		}
		c := New(dial, decodeHandler(), WithLogger(quietLogger()))

		require.NoError(t, c.Connect(context.Background()))
		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, 1, dials)

		require.NoError(t, c.Stop(context.Background()))
		assert.Equal(t, StateDisconnected, c.State())
		assert.True(t, src.isClosed())
	})

	t.Run("start fails when broker unreachable", func(t *testing.T) {
		dial := func(context.Context) (Source, error) {
			return nil, errors.New("no seed brokers reachable")
		}
		c := New(dial, decodeHandler(), WithLogger(quietLogger()))

		err := c.Start(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, audit.ErrConnection)
		assert.Equal(t, StateDisconnected, c.State())
	})
}

func TestConsumer_StartIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	c := New(dialerFor(src), decodeHandler(), WithLogger(quietLogger()))

	errCh := runConsumer(c)
	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, time.Millisecond)

	assert.NoError(t, c.Start(context.Background()), "second start returns immediately")
	assert.True(t, c.Stats().Running)

	stopConsumer(t, c, errCh)
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, src.isClosed())
}

func TestConsumer_StopFinishesInFlightMessage(t *testing.T) {
	src := &fakeSource{batches: [][]*Message{{validMessage(t, 0), validMessage(t, 1), validMessage(t, 2)}}}
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		if msg.Offset == 0 {
			close(entered)
			<-release
			return ctx.Err()
		}
		return nil
	})
	c := New(dialerFor(src), handler, WithLogger(quietLogger()))

	errCh := runConsumer(c)
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == StateStopping }, time.Second, time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("stop returned before the in-flight message finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	require.NoError(t, <-errCh)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Processed, "handler context is not cancelled by stop")
	assert.Equal(t, []int64{0}, src.committedOffsets(), "remaining batch is left for redelivery")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConsumer_StopWhenDisconnectedIsNoop(t *testing.T) {
	c := New(dialerFor(&fakeSource{}), decodeHandler(), WithLogger(quietLogger()))
	assert.NoError(t, c.Stop(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}

func TestConsumer_ContextCancellationStopsLoop(t *testing.T) {
	src := &fakeSource{}
	c := New(dialerFor(src), decodeHandler(), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()
	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConsumer_FatalPollErrorPropagates(t *testing.T) {
	src := &fakeSource{
		batches: [][]*Message{{validMessage(t, 0)}},
		pollErr: errors.New("broker session lost"),
	}
	c := New(dialerFor(src), decodeHandler(), WithLogger(quietLogger()))

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrConnection)
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, src.isClosed())
	assert.Equal(t, int64(1), c.Stats().Processed)
}

func TestConsumer_ProgressLog(t *testing.T) {
	batch := make([]*Message, 0, 25)
	for i := range 25 {
		batch = append(batch, validMessage(t, int64(i)))
	}
	src := &fakeSource{batches: [][]*Message{batch}}

	var buf bytes.Buffer
	var bufMu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &bufMu}, nil))
	c := New(dialerFor(src), decodeHandler(), WithLogger(logger), WithProgressEvery(10))

	errCh := runConsumer(c)
	waitHandled(t, c, 25)
	stopConsumer(t, c, errCh)

	bufMu.Lock()
	defer bufMu.Unlock()
	assert.Equal(t, 2, strings.Count(buf.String(), "audit consumer progress"))
}

func TestConsumer_VerboseLogsPayload(t *testing.T) {
	for _, verbose := range []bool{true, false} {
		t.Run(fmt.Sprintf("verbose=%v", verbose), func(t *testing.T) {
			src := &fakeSource{batches: [][]*Message{{malformedMessage(0)}}}
			var buf bytes.Buffer
			var bufMu sync.Mutex
			logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &bufMu}, nil))
			c := New(dialerFor(src), decodeHandler(), WithLogger(logger), WithVerbose(verbose))

			errCh := runConsumer(c)
			waitHandled(t, c, 1)
			stopConsumer(t, c, errCh)

			bufMu.Lock()
			defer bufMu.Unlock()
			assert.Equal(t, verbose, strings.Contains(buf.String(), "payload="))
		})
	}
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
