package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "info", true)

	log.Info("audit consumer started", "topic", "audit-events")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit consumer started", line["msg"])
	assert.Equal(t, "audit-events", line["topic"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "warn", false)

	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
