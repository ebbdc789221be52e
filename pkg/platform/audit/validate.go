package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks an event against the audit invariants and returns an error
// wrapping ErrValidation that lists every problem found.
//
// Snapshot rules follow the portal's convention: CREATE and READ need the new
// state, UPDATE needs both, DELETE needs the previous state. A DELETE that only
// carries a new state is still accepted; the source system emits that shape
// and history consumers rely on it. Extra snapshots are never rejected.
func Validate(e Event) error {
	var problems []string

	if !e.Action.IsValid() {
		problems = append(problems, fmt.Sprintf("action %q is not one of CREATE, READ, UPDATE, DELETE", e.Action))
	}
	if !e.Entity.IsValid() {
		problems = append(problems, fmt.Sprintf("entity %q is not registered", e.Entity))
	}
	if e.RecordID <= 0 {
		problems = append(problems, fmt.Sprintf("record id must be a positive integer, got %d", e.RecordID))
	}

	hasPrevious := !IsEmptyDocument(e.PreviousState)
	hasNew := !IsEmptyDocument(e.NewState)
	switch e.Action {
	case ActionCreate, ActionRead:
		if !hasNew {
			problems = append(problems, fmt.Sprintf("%s requires a new state", e.Action))
		}
	case ActionUpdate:
		if !hasPrevious || !hasNew {
			problems = append(problems, "UPDATE requires both previous and new state")
		}
	case ActionDelete:
		if !hasPrevious && !hasNew {
			problems = append(problems, "DELETE requires a previous state")
		}
	}

	if hasPrevious && !json.Valid(e.PreviousState) {
		problems = append(problems, "previous state is not valid JSON")
	}
	if hasNew && !json.Valid(e.NewState) {
		problems = append(problems, "new state is not valid JSON")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateAll validates every event and fails on the first invalid one,
// reporting its index.
func ValidateAll(events []Event) error {
	for i, e := range events {
		if err := Validate(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}
