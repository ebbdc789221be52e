package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "quejas-42", PartitionKey(EntityComplaint, 42))
	e := Event{Entity: EntityComment, RecordID: 7}
	assert.Equal(t, "comentarios-7", e.Key())
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	occurred := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
	original := Event{
		Action:        ActionUpdate,
		Entity:        EntityComplaint,
		RecordID:      42,
		PreviousState: Document(`{"estado":"abierta"}`),
		NewState:      Document(`{"estado":"cerrada"}`),
		Actor:         "ana.perez",
		OriginAddress: "10.0.0.7",
		ClientAgent:   "Mozilla/5.0",
		OccurredAt:    occurred,
	}

	data, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, original.Action, decoded.Action)
	assert.Equal(t, original.Entity, decoded.Entity)
	assert.Equal(t, original.RecordID, decoded.RecordID)
	assert.JSONEq(t, string(original.PreviousState), string(decoded.PreviousState))
	assert.JSONEq(t, string(original.NewState), string(decoded.NewState))
	assert.Equal(t, original.Actor, decoded.Actor)
	assert.Equal(t, original.OriginAddress, decoded.OriginAddress)
	assert.Equal(t, original.ClientAgent, decoded.ClientAgent)
	assert.True(t, original.OccurredAt.Equal(decoded.OccurredAt))
}

func TestMarshal_WireLayout(t *testing.T) {
	e := Event{
		Action:     ActionCreate,
		Entity:     EntityComplaint,
		RecordID:   42,
		NewState:   Document(`{"descripcion":"x"}`),
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "CREATE", raw["tipo_accion"])
	assert.Equal(t, "quejas", raw["entidad_afectada"])
	assert.Equal(t, float64(42), raw["registro_id"])
	assert.Nil(t, raw["datos_anteriores"])
	assert.Equal(t, map[string]any{"descripcion": "x"}, raw["datos_nuevos"])
	assert.Equal(t, DefaultActor, raw["usuario"])
	assert.Equal(t, "2026-01-02T03:04:05Z", raw["timestamp"])
	_, hasIP := raw["ip_address"]
	assert.False(t, hasIP)
}

func TestUnmarshal_NullSnapshotsBecomeEmpty(t *testing.T) {
	decoded, err := Unmarshal([]byte(`{"tipo_accion":"READ","entidad_afectada":"quejas","registro_id":1,"datos_anteriores":null,"datos_nuevos":{"a":1},"usuario":"u","timestamp":"2026-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Nil(t, decoded.PreviousState)
	assert.JSONEq(t, `{"a":1}`, string(decoded.NewState))
}

func TestUnmarshal_Failures(t *testing.T) {
	cases := map[string]string{
		"not json":         `{{{`,
		"unknown action":   `{"tipo_accion":"MERGE","entidad_afectada":"quejas","registro_id":1}`,
		"missing entity":   `{"tipo_accion":"READ","registro_id":1}`,
		"zero record id":   `{"tipo_accion":"READ","entidad_afectada":"quejas","registro_id":0}`,
		"bad timestamp":    `{"tipo_accion":"READ","entidad_afectada":"quejas","registro_id":1,"timestamp":"yesterday"}`,
		"record id string": `{"tipo_accion":"READ","entidad_afectada":"quejas","registro_id":"1"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(payload))
			assert.ErrorIs(t, err, ErrDeserialization)
		})
	}
}
