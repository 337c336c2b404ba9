package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: slog.LevelInfo, Format: FormatJSON})
	require.NoError(t, err)

	logger.Debug("hidden")
	Component(logger, "runner").Info("stage done", "stage", "login", "access_token", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "stage done", rec["msg"])
	assert.Equal(t, "runner", rec["component"])
	assert.Equal(t, "login", rec["stage"])
	assert.Equal(t, Masked, rec["access_token"])
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}

func TestColorHandler_Plain(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: slog.LevelDebug, Format: FormatColor, NoColor: true})
	require.NoError(t, err)

	logger.With("component", "executor").WithGroup("req").Warn("slow", "url", "http://x/a b", "status", 200, "password", "pw")

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.NotContains(t, line, "\x1b[")
	assert.Contains(t, line, "WARN  slow")
	assert.Contains(t, line, "component=executor")
	assert.Contains(t, line, `req.url="http://x/a b"`)
	assert.Contains(t, line, "req.status=200")
	assert.Contains(t, line, "req.password=***")
}

func TestColorHandler_Colored(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true)
	logger := slog.New(h)

	logger.Debug("dropped")
	assert.Empty(t, buf.String())

	logger.Error("boom")
	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "boom")
}

func TestDiscardAndComponent(t *testing.T) {
	assert.False(t, Discard().Enabled(t.Context(), slog.LevelError))
	assert.NotNil(t, Component(nil, "x"))
}
