package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Message headers carried by every published audit event.
const (
	HeaderSource  = "source"
	HeaderVersion = "version"
	HeaderEventID = "event-id"

	// SchemaVersion is the version of the JSON value layout below.
	SchemaVersion = "1.0"
)

// PartitionKey returns the message key for an event. All events of one
// record share a key, so they land on the same partition and keep their
// publish order.
func PartitionKey(entity Entity, recordID int64) string {
	return string(entity) + "-" + strconv.FormatInt(recordID, 10)
}

// Key returns the partition key of the event.
func (e Event) Key() string { return PartitionKey(e.Entity, e.RecordID) }

// wireEvent is the JSON value layout on the topic. Field names match the
// history table columns consumed downstream.
type wireEvent struct {
	Action        string          `json:"tipo_accion"`
	Entity        string          `json:"entidad_afectada"`
	RecordID      int64           `json:"registro_id"`
	PreviousState json.RawMessage `json:"datos_anteriores"`
	NewState      json.RawMessage `json:"datos_nuevos"`
	Actor         string          `json:"usuario"`
	OriginAddress string          `json:"ip_address,omitempty"`
	ClientAgent   string          `json:"user_agent,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// Marshal encodes the event as the topic's JSON value. OccurredAt is written
// as an RFC 3339 UTC timestamp; absent snapshots are written as null.
func Marshal(e Event) ([]byte, error) {
	w := wireEvent{
		Action:        string(e.Action),
		Entity:        string(e.Entity),
		RecordID:      e.RecordID,
		PreviousState: nullIfEmpty(e.PreviousState),
		NewState:      nullIfEmpty(e.NewState),
		Actor:         e.ActorOrDefault(),
		OriginAddress: e.OriginAddress,
		ClientAgent:   e.ClientAgent,
		Timestamp:     e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a topic value back into an Event. Structural problems
// (bad JSON, unknown action, missing entity or record id, bad timestamp) are
// reported as ErrDeserialization. Entity registration and snapshot rules are
// the producer's concern and are not re-checked here.
func Unmarshal(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}

	action := ActionKind(w.Action)
	if !action.IsValid() {
		return Event{}, fmt.Errorf("%w: unknown action %q", ErrDeserialization, w.Action)
	}
	if w.Entity == "" {
		return Event{}, fmt.Errorf("%w: missing entity", ErrDeserialization)
	}
	if w.RecordID <= 0 {
		return Event{}, fmt.Errorf("%w: invalid record id %d", ErrDeserialization, w.RecordID)
	}

	e := Event{
		Action:        action,
		Entity:        Entity(w.Entity),
		RecordID:      w.RecordID,
		PreviousState: emptyIfNull(w.PreviousState),
		NewState:      emptyIfNull(w.NewState),
		Actor:         w.Actor,
		OriginAddress: w.OriginAddress,
		ClientAgent:   w.ClientAgent,
	}
	if w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return Event{}, fmt.Errorf("%w: timestamp: %w", ErrDeserialization, err)
		}
		e.OccurredAt = ts
	}
	return e, nil
}

func nullIfEmpty(d Document) json.RawMessage {
	if IsEmptyDocument(d) {
		return json.RawMessage("null")
	}
	return json.RawMessage(d)
}

func emptyIfNull(d json.RawMessage) Document {
	if IsEmptyDocument(d) {
		return nil
	}
	return Document(d)
}
