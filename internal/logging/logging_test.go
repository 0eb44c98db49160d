// ABOUTME: Tests for logger construction and the diagnostic file sink.
// ABOUTME: Covers level parsing, handler selection, color output, and append-only writes.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tabrelay/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("command sent", "frame_id", 1000000)
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "command sent", rec["msg"])
	assert.EqualValues(t, 1000000, rec["frame_id"])
}

func TestNew_TextForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.Debug("tick", "pending", 2)

	out := buf.String()
	assert.Contains(t, out, "msg=tick")
	assert.Contains(t, out, "pending=2")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo)).With("component", "relay")

	logger.Warn("stale command discarded", "age", "31s")
	logger.Debug("not shown")

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "stale command discarded")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "relay")
	assert.NotContains(t, out, "not shown")
}

func TestColorHandler_Group(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo)).WithGroup("mailbox")

	logger.Info("claimed", "path", "/tmp/x")

	assert.Contains(t, buf.String(), "mailbox.path=")
}

func TestOpenSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "host.log")

	f, err := OpenSink(path)
	require.NoError(t, err)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenSink(path)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
