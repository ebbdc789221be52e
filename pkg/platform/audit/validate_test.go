package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCreate() Event {
	return Event{
		Action:   ActionCreate,
		Entity:   EntityComplaint,
		RecordID: 42,
		NewState: Document(`{"descripcion":"bache en la calle 5"}`),
	}
}

func TestValidate_AcceptsConventionalShapes(t *testing.T) {
	prev := Document(`{"estado":"abierta"}`)
	next := Document(`{"estado":"cerrada"}`)

	cases := map[string]Event{
		"create with new state":      {Action: ActionCreate, Entity: EntityComplaint, RecordID: 1, NewState: next},
		"read with new state":        {Action: ActionRead, Entity: EntityComment, RecordID: 1, NewState: next},
		"update with both":           {Action: ActionUpdate, Entity: EntityPublicEntity, RecordID: 1, PreviousState: prev, NewState: next},
		"delete with previous":       {Action: ActionDelete, Entity: EntityComplaint, RecordID: 1, PreviousState: prev},
		"delete with new only":       {Action: ActionDelete, Entity: EntityComplaint, RecordID: 1, NewState: next},
		"create with extra previous": {Action: ActionCreate, Entity: EntityComplaint, RecordID: 1, PreviousState: prev, NewState: next},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, Validate(e))
		})
	}
}

func TestValidate_RejectsBadRecordID(t *testing.T) {
	for _, id := range []int64{0, -1, -42} {
		e := validCreate()
		e.RecordID = id
		err := Validate(e)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "record id")
	}
}

func TestValidate_RejectsUnknownAction(t *testing.T) {
	e := validCreate()
	e.Action = ActionKind("PATCH")
	err := Validate(e)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), `"PATCH"`)
}

func TestValidate_RejectsUnknownEntity(t *testing.T) {
	e := validCreate()
	e.Entity = Entity("usuarios")
	assert.ErrorIs(t, Validate(e), ErrValidation)
}

func TestValidate_MissingSnapshots(t *testing.T) {
	t.Run("create without new state", func(t *testing.T) {
		e := validCreate()
		e.NewState = nil
		assert.ErrorIs(t, Validate(e), ErrValidation)
	})
	t.Run("read with null new state", func(t *testing.T) {
		e := Event{Action: ActionRead, Entity: EntityComplaint, RecordID: 3, NewState: Document("null")}
		assert.ErrorIs(t, Validate(e), ErrValidation)
	})
	t.Run("update without previous state", func(t *testing.T) {
		e := Event{Action: ActionUpdate, Entity: EntityComplaint, RecordID: 3, NewState: Document(`{}`)}
		assert.ErrorIs(t, Validate(e), ErrValidation)
	})
	t.Run("delete without any state", func(t *testing.T) {
		e := Event{Action: ActionDelete, Entity: EntityComplaint, RecordID: 3}
		assert.ErrorIs(t, Validate(e), ErrValidation)
	})
}

func TestValidate_RejectsMalformedDocuments(t *testing.T) {
	e := validCreate()
	e.NewState = Document(`{"descripcion":`)
	err := Validate(e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := Validate(Event{Action: "NOPE", Entity: "nope", RecordID: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
	assert.Contains(t, err.Error(), "entity")
	assert.Contains(t, err.Error(), "record id")
}

func TestValidateAll_ReportsIndex(t *testing.T) {
	bad := validCreate()
	bad.RecordID = 0
	err := ValidateAll([]Event{validCreate(), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "event 1")
}

func TestRegisterEntities(t *testing.T) {
	assert.False(t, Entity("respuestas").IsValid())
	RegisterEntities("  Respuestas ", "")
	assert.True(t, Entity("respuestas").IsValid())
	assert.False(t, Entity("").IsValid())
}

func TestParseActionKind(t *testing.T) {
	a, ok := ParseActionKind(" update ")
	assert.True(t, ok)
	assert.Equal(t, ActionUpdate, a)

	_, ok = ParseActionKind("upsert")
	assert.False(t, ok)
}
