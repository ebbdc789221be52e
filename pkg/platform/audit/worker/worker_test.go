package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "portalquejas/pkg/platform/audit"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	fail   map[int64]error
}

func (s *recordingSink) Publish(_ context.Context, e audit.Event) (audit.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[e.RecordID]; err != nil {
		return audit.Delivery{}, err
	}
	s.events = append(s.events, e)
	return audit.Delivery{Topic: "audit-events", Offset: int64(len(s.events) - 1)}, nil
}

func event(id int64) audit.Event {
	return audit.Event{Action: audit.ActionCreate, Entity: audit.EntityComplaint, RecordID: id, NewState: audit.Document(`{}`)}
}

func TestWorker_DrainsUntilInboxClosed(t *testing.T) {
	sink := &recordingSink{}
	inbox := make(chan audit.Event, 5)
	for i := range int64(5) {
		inbox <- event(i + 1)
	}
	close(inbox)

	err := NewWorker(sink, inbox).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.events, 5)
	assert.Equal(t, int64(5), sink.events[4].RecordID)
}

func TestWorker_FailureDoesNotStopTheLoop(t *testing.T) {
	sink := &recordingSink{fail: map[int64]error{2: errors.New("broker down")}}
	inbox := make(chan audit.Event, 3)
	inbox <- event(1)
	inbox <- event(2)
	inbox <- event(3)
	close(inbox)

	var failed []int64
	w := NewWorker(sink, inbox,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithErrorHook(func(e audit.Event, _ error) { failed = append(failed, e.RecordID) }),
	)
	require.NoError(t, w.Run(context.Background()))

	assert.Len(t, sink.events, 2)
	assert.Equal(t, []int64{2}, failed)
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorker(&recordingSink{}, make(chan audit.Event)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
