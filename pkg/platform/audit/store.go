package audit

import (
	"context"
	"strings"
	"time"
)

// HistoryWriter is the consumer's write path into the history table.
// Insert returns sentinel.ErrConflict when a row for the same message
// (topic, partition, offset) already exists.
type HistoryWriter interface {
	Insert(ctx context.Context, record HistoryRecord) (int64, error)
}

// HistoryReader is the read-only view used by the query service.
type HistoryReader interface {
	List(ctx context.Context, filter Filter, page Page) ([]HistoryRecord, int64, error)
	Summary(ctx context.Context, recent int) (Summary, error)
}

// Store is implemented by every history backend.
type Store interface {
	HistoryWriter
	HistoryReader
}

// Filter narrows history queries. Zero values mean "no constraint".
type Filter struct {
	Action   ActionKind
	Entity   Entity
	RecordID int64
	// Actor matches as a case-insensitive substring.
	Actor string
	From  time.Time
	To    time.Time
}

// Matches reports whether a record satisfies the filter. Stores that cannot
// push the filter down to their backend use it directly.
func (f Filter) Matches(r HistoryRecord) bool {
	if f.Action != "" && r.Event.Action != f.Action {
		return false
	}
	if f.Entity != "" && r.Event.Entity != f.Entity {
		return false
	}
	if f.RecordID != 0 && r.Event.RecordID != f.RecordID {
		return false
	}
	if f.Actor != "" && !strings.Contains(strings.ToLower(r.Event.Actor), strings.ToLower(f.Actor)) {
		return false
	}
	if !f.From.IsZero() && r.RecordedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.RecordedAt.After(f.To) {
		return false
	}
	return true
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page is a limit/offset window over a result set.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to the accepted bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Summary aggregates the history table.
type Summary struct {
	TotalRecords int64
	ByAction     map[ActionKind]int64
	ByEntity     map[Entity]int64
	MostRecent   []HistoryRecord
}
