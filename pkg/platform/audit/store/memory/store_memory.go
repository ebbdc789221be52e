package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	audit "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/sentinel"
)

type position struct {
	topic     string
	partition int32
	offset    int64
}

// InMemoryStore keeps history rows in process memory with the same
// uniqueness rule as the SQL table.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []audit.HistoryRecord
	seen    map[position]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[position]struct{})}
}

func (s *InMemoryStore) Insert(_ context.Context, record audit.HistoryRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := position{record.SourceTopic, record.SourcePartition, record.SourceOffset}
	if _, ok := s.seen[key]; ok {
		return 0, fmt.Errorf("history row %s[%d]@%d: %w", key.topic, key.partition, key.offset, sentinel.ErrConflict)
	}
	s.seen[key] = struct{}{}

	s.nextID++
	record.ID = s.nextID
	record.Event.Actor = record.Event.ActorOrDefault()
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	if record.Event.OccurredAt.IsZero() {
		record.Event.OccurredAt = record.RecordedAt
	}
	if audit.IsEmptyDocument(record.Event.PreviousState) {
		record.Event.PreviousState = nil
	}
	if audit.IsEmptyDocument(record.Event.NewState) {
		record.Event.NewState = nil
	}
	s.records = append(s.records, record)
	return record.ID, nil
}

// newestFirst returns matching rows ordered by RecordedAt then ID, newest
// first. Callers hold the read lock.
func (s *InMemoryStore) newestFirst(filter audit.Filter) []audit.HistoryRecord {
	var out []audit.HistoryRecord
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *InMemoryStore) List(_ context.Context, filter audit.Filter, page audit.Page) ([]audit.HistoryRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()
	matched := s.newestFirst(filter)
	total := int64(len(matched))

	if page.Offset >= len(matched) {
		return []audit.HistoryRecord{}, total, nil
	}
	end := min(page.Offset+page.Limit, len(matched))
	return append([]audit.HistoryRecord{}, matched[page.Offset:end]...), total, nil
}

func (s *InMemoryStore) Summary(_ context.Context, recent int) (audit.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := audit.Summary{
		TotalRecords: int64(len(s.records)),
		ByAction:     make(map[audit.ActionKind]int64),
		ByEntity:     make(map[audit.Entity]int64),
		MostRecent:   []audit.HistoryRecord{},
	}
	for _, r := range s.records {
		summary.ByAction[r.Event.Action]++
		summary.ByEntity[r.Event.Entity]++
	}
	if recent > 0 {
		all := s.newestFirst(audit.Filter{})
		summary.MostRecent = append(summary.MostRecent, all[:min(recent, len(all))]...)
	}
	return summary, nil
}
