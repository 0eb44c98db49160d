// ABOUTME: Tests for the caller CLI subcommands: invoke, status, history, and init.
// ABOUTME: Uses temp mailbox files and a temp journal, never the real /tmp paths.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tabrelay/internal/caller"
	"github.com/2389/tabrelay/internal/config"
	"github.com/2389/tabrelay/internal/mailbox"
	"github.com/2389/tabrelay/internal/store"
)

func init() {
	color.NoColor = true
}

type stubInvoker struct {
	action  string
	payload string
	timeout time.Duration
	data    string
	err     error
}

func (s *stubInvoker) Invoke(_ context.Context, action string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	s.action, s.payload, s.timeout = action, string(payload), timeout
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.data), nil
}

func TestInvoke(t *testing.T) {
	inv := &stubInvoker{data: `{"closed":1}`}
	var out bytes.Buffer

	require.NoError(t, invoke(context.Background(), inv, "closeTabs", `{"tabIds":[3]}`, 5*time.Second, &out))
	assert.Equal(t, "closeTabs", inv.action)
	assert.Equal(t, `{"tabIds":[3]}`, inv.payload)
	assert.Equal(t, 5*time.Second, inv.timeout)
	assert.Equal(t, "{\n  \"closed\": 1\n}\n", out.String())
}

func TestInvoke_DefaultPayload(t *testing.T) {
	inv := &stubInvoker{data: `[]`}
	require.NoError(t, invoke(context.Background(), inv, "getTabs", "", 0, &bytes.Buffer{}))
	assert.Equal(t, "{}", inv.payload)
}

func TestInvoke_Errors(t *testing.T) {
	inv := &stubInvoker{}
	err := invoke(context.Background(), inv, "getTabs", "{nope", 0, &bytes.Buffer{})
	require.Error(t, err)
	assert.Empty(t, inv.action, "invalid JSON never reaches the caller")

	inv = &stubInvoker{err: &caller.TimeoutError{Action: "getTabs", Timeout: time.Second}}
	err = invoke(context.Background(), inv, "getTabs", "", 0, &bytes.Buffer{})
	assert.ErrorIs(t, err, caller.ErrTimeout)
}

func TestRunInvoke_RequiresAction(t *testing.T) {
	assert.Error(t, runInvoke(context.Background(), nil, &bytes.Buffer{}))
	assert.Error(t, runInvoke(context.Background(), []string{"-raw"}, &bytes.Buffer{}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Mailbox.CommandPath = filepath.Join(dir, "cmd.json")
	cfg.Mailbox.ResultPath = filepath.Join(dir, "result.json")
	return cfg
}

func TestPrintStatus_Empty(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), cfg, time.Now(), &out))

	s := out.String()
	assert.Contains(t, s, "Command:  empty")
	assert.Contains(t, s, "Result:   empty")
	assert.Contains(t, s, "Journal:  disabled")
}

func TestPrintStatus_Occupied(t *testing.T) {
	cfg := testConfig(t)
	now := time.Unix(1000, 0)

	commands := mailbox.NewCommandFile(mailbox.CommandFileConfig{Path: cfg.Mailbox.CommandPath, Policy: mailbox.PolicyOverwrite})
	require.NoError(t, commands.Post(mailbox.Command{Action: "getTabs", IssuedAt: 960}))
	results := mailbox.NewResultFile(mailbox.ResultFileConfig{Path: cfg.Mailbox.ResultPath})
	require.NoError(t, results.Publish(mailbox.Result{CompletedAt: 999, Data: json.RawMessage(`[]`)}))

	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), cfg, now, &out))

	s := out.String()
	assert.Contains(t, s, "getTabs issued 40s ago (stale")
	assert.Contains(t, s, "2 bytes completed 1s ago")

	_, err := os.Stat(cfg.Mailbox.CommandPath)
	assert.NoError(t, err, "status never consumes the command")
}

func TestPrintStatus_Journal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	j, err := store.Open(cfg.Journal.Path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), store.Entry{Kind: store.KindCommandSent, At: time.Now(), Action: "getTabs"}))
	require.NoError(t, j.Close())

	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), cfg, time.Now(), &out))
	assert.Contains(t, out.String(), "command_sent       1")
	assert.Contains(t, out.String(), "frame_dropped      0")
}

func TestPrintHistory(t *testing.T) {
	j, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	var out bytes.Buffer
	require.NoError(t, printHistory(ctx, j, 10, &out))
	assert.Equal(t, "No relay events recorded.\n", out.String())

	base := time.Now()
	require.NoError(t, j.Record(ctx, store.Entry{Kind: store.KindCommandSent, At: base, Action: "getTabs", FrameID: 1000000, RequestID: "r-1"}))
	require.NoError(t, j.Record(ctx, store.Entry{Kind: store.KindFrameDropped, At: base.Add(time.Second), Detail: "partial_body 12 bytes"}))

	out.Reset()
	require.NoError(t, printHistory(ctx, j, 10, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "frame_dropped", "newest first")
	assert.Contains(t, lines[3], "1000000")
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabrelay", "config.yaml")
	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(path+"\n"), &out))
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCommandPath, cfg.Mailbox.CommandPath)

	assert.Error(t, runInit(strings.NewReader(path+"\n"), &bytes.Buffer{}), "existing config is not overwritten")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
