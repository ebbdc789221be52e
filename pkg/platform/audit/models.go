package audit

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// ActionKind classifies what happened to the affected record.
type ActionKind string

const (
	ActionCreate ActionKind = "CREATE"
	ActionRead   ActionKind = "READ"
	ActionUpdate ActionKind = "UPDATE"
	ActionDelete ActionKind = "DELETE"
)

// actionKinds is the closed set of accepted actions.
var actionKinds = map[ActionKind]struct{}{
	ActionCreate: {},
	ActionRead:   {},
	ActionUpdate: {},
	ActionDelete: {},
}

// IsValid reports whether the action belongs to the enumerated set.
func (a ActionKind) IsValid() bool {
	_, ok := actionKinds[a]
	return ok
}

// String returns the wire value of the action.
func (a ActionKind) String() string { return string(a) }

// ParseActionKind parses a case-insensitive action name.
func ParseActionKind(raw string) (ActionKind, bool) {
	a := ActionKind(strings.ToUpper(strings.TrimSpace(raw)))
	return a, a.IsValid()
}

// Entity is the domain noun an audit event refers to. The values match the
// portal's table names so history rows line up with the CRUD layer.
type Entity string

const (
	// EntityComplaint is a citizen complaint (queja).
	EntityComplaint Entity = "quejas"
	// EntityPublicEntity is a public entity complaints are filed against.
	EntityPublicEntity Entity = "entidades"
	// EntityComment is a comment attached to a complaint.
	EntityComment Entity = "comentarios"
)

var (
	entitiesMu sync.RWMutex
	entities   = map[Entity]struct{}{
		EntityComplaint:    {},
		EntityPublicEntity: {},
		EntityComment:      {},
	}
)

// RegisterEntities extends the set of accepted entities. Names are trimmed
// and lowercased; empty names are ignored.
func RegisterEntities(names ...string) {
	entitiesMu.Lock()
	defer entitiesMu.Unlock()
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		entities[Entity(name)] = struct{}{}
	}
}

// IsValid reports whether the entity has been registered.
func (e Entity) IsValid() bool {
	entitiesMu.RLock()
	defer entitiesMu.RUnlock()
	_, ok := entities[e]
	return ok
}

// String returns the wire value of the entity.
func (e Entity) String() string { return string(e) }

// Document is an opaque serialized snapshot of a record. The audit core never
// looks inside it; it is stored and returned verbatim.
type Document = json.RawMessage

// IsEmptyDocument reports whether a snapshot is absent. A JSON null counts as
// absent so producers can pass through nullable columns unchanged.
func IsEmptyDocument(d Document) bool {
	trimmed := strings.TrimSpace(string(d))
	return trimmed == "" || trimmed == "null"
}

// DefaultActor is recorded when the caller does not identify itself.
const DefaultActor = "system"

// Event is one CREATE/READ/UPDATE/DELETE action on a portal record. It is
// built by the CRUD layer, validated and published by the producer, and
// discarded once the broker accepts it.
type Event struct {
	Action        ActionKind
	Entity        Entity
	RecordID      int64
	PreviousState Document // set for UPDATE and DELETE
	NewState      Document // set for CREATE, UPDATE and READ
	Actor         string
	OriginAddress string
	ClientAgent   string
	// OccurredAt is stamped by the producer when the event is serialized.
	OccurredAt time.Time
}

// ActorOrDefault returns the actor, falling back to DefaultActor.
func (e Event) ActorOrDefault() string {
	if strings.TrimSpace(e.Actor) == "" {
		return DefaultActor
	}
	return e.Actor
}

// HistoryRecord is the durable row written once per consumed message.
// SourceTopic, SourcePartition and SourceOffset come from the message
// envelope and together identify the message that produced the row.
type HistoryRecord struct {
	ID              int64
	Event           Event
	SourceTopic     string
	SourcePartition int32
	SourceOffset    int64
	RecordedAt      time.Time
}

// Delivery is the broker position of a published event.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
}

// BatchOutcome reports the positions of a batch accepted by the broker, in
// the order the events were given.
type BatchOutcome struct {
	Deliveries []Delivery
}

// Count returns the number of delivered events.
func (b BatchOutcome) Count() int { return len(b.Deliveries) }
