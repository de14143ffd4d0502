package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewText(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "debug", "text")

	logger.Debug("debug message", "worker", "w-1")

	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "worker=w-1")
	assert.Contains(t, output, "level=DEBUG")
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "info", "json")

	logger.Info("problem created", "category", "Plumber")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "problem created", line["msg"])
	assert.Equal(t, "Plumber", line["category"])
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "chatty", "text")

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
