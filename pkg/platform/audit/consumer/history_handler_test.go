package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkaconsumer "portalquejas/internal/platform/kafka/consumer"
	"portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/audit/store/memory"
)

type failingWriter struct{ err error }

func (f failingWriter) Insert(context.Context, audit.HistoryRecord) (int64, error) {
	return 0, f.err
}

func message(t *testing.T, partition int32, offset int64, e audit.Event) *kafkaconsumer.Message {
	t.Helper()
	value, err := audit.Marshal(e)
	require.NoError(t, err)
	return &kafkaconsumer.Message{
		Topic:     "audit-events",
		Partition: partition,
		Offset:    offset,
		Key:       []byte(e.Key()),
		Value:     value,
	}
}

func createComplaint() audit.Event {
	return audit.Event{
		Action:     audit.ActionCreate,
		Entity:     audit.EntityComplaint,
		RecordID:   42,
		NewState:   audit.Document(`{"titulo":"Luminaria apagada"}`),
		Actor:      "vecino@example.com",
		OccurredAt: time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestHistoryHandler_WritesRowWithEnvelopePosition(t *testing.T) {
	store := memory.NewInMemoryStore()
	recordedAt := time.Date(2025, 5, 2, 10, 0, 1, 0, time.UTC)
	h := NewHistoryHandler(store, WithClock(func() time.Time { return recordedAt }))

	require.NoError(t, h.Handle(context.Background(), message(t, 2, 17, createComplaint())))

	rows, total, err := store.List(context.Background(), audit.Filter{}, audit.Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	row := rows[0]
	assert.Equal(t, "audit-events", row.SourceTopic)
	assert.Equal(t, int32(2), row.SourcePartition)
	assert.Equal(t, int64(17), row.SourceOffset)
	assert.Equal(t, recordedAt, row.RecordedAt)
	assert.Equal(t, audit.ActionCreate, row.Event.Action)
	assert.Equal(t, int64(42), row.Event.RecordID)
	assert.Equal(t, "vecino@example.com", row.Event.Actor)
	assert.JSONEq(t, `{"titulo":"Luminaria apagada"}`, string(row.Event.NewState))
	assert.Nil(t, row.Event.PreviousState)
}

func TestHistoryHandler_RedeliveryIsDuplicate(t *testing.T) {
	store := memory.NewInMemoryStore()
	h := NewHistoryHandler(store)
	msg := message(t, 0, 5, createComplaint())

	require.NoError(t, h.Handle(context.Background(), msg))
	err := h.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, kafkaconsumer.ErrDuplicate)

	_, total, err := store.List(context.Background(), audit.Filter{}, audit.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestHistoryHandler_MalformedPayload(t *testing.T) {
	store := memory.NewInMemoryStore()
	h := NewHistoryHandler(store)

	for name, value := range map[string]string{
		"not json":       `{"tipo_accion":`,
		"unknown action": `{"tipo_accion":"PATCH","entidad_afectada":"quejas","registro_id":1}`,
		"missing record": `{"tipo_accion":"CREATE","entidad_afectada":"quejas"}`,
		"empty payload":  ``,
	} {
		t.Run(name, func(t *testing.T) {
			err := h.Handle(context.Background(), &kafkaconsumer.Message{Topic: "audit-events", Value: []byte(value)})
			require.Error(t, err)
			assert.ErrorIs(t, err, audit.ErrDeserialization)
		})
	}

	_, total, err := store.List(context.Background(), audit.Filter{}, audit.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestHistoryHandler_StorageFailure(t *testing.T) {
	h := NewHistoryHandler(failingWriter{err: errors.New("connection reset by peer")})

	err := h.Handle(context.Background(), message(t, 0, 1, createComplaint()))
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrStorage)
	assert.NotErrorIs(t, err, kafkaconsumer.ErrDuplicate)
}

func TestHistoryHandler_InConsumerLoop(t *testing.T) {
	store := memory.NewInMemoryStore()
	h := NewHistoryHandler(store)

	var handled []error
	for offset, msg := range []*kafkaconsumer.Message{
		message(t, 0, 0, createComplaint()),
		{Topic: "audit-events", Partition: 0, Offset: 1, Value: []byte("garbage")},
		message(t, 0, 2, createComplaint()),
	} {
		msg.Offset = int64(offset)
		handled = append(handled, h.Handle(context.Background(), msg))
	}

	assert.NoError(t, handled[0])
	assert.ErrorIs(t, handled[1], audit.ErrDeserialization)
	assert.NoError(t, handled[2], "a bad message does not affect the next one")
}
