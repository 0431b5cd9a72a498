package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestSetOutput_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info")

	router := Component("router")
	router.Info().Str("namespace", "UNESTOR1").Msg("routed")
	Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "router", entry["component"])
	assert.Equal(t, "UNESTOR1", entry["namespace"])
	assert.Equal(t, "routed", entry["message"])
}

func TestInit_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botmetrics.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", File: path}))
	defer Close()

	Info().Msg("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
