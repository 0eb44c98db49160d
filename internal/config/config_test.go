// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers defaults, YAML and TOML loading, env var expansion, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Mailbox.CommandPath != "/tmp/tab-manager-cmd.json" {
		t.Errorf("Mailbox.CommandPath = %q", cfg.Mailbox.CommandPath)
	}
	if cfg.Mailbox.ResultPath != "/tmp/tab-manager-result.json" {
		t.Errorf("Mailbox.ResultPath = %q", cfg.Mailbox.ResultPath)
	}
	if cfg.Relay.Staleness != 30*time.Second {
		t.Errorf("Relay.Staleness = %v, want 30s", cfg.Relay.Staleness)
	}
	if cfg.Relay.TickInterval != 50*time.Millisecond {
		t.Errorf("Relay.TickInterval = %v, want 50ms", cfg.Relay.TickInterval)
	}
	if cfg.Caller.Timeout != 10*time.Second {
		t.Errorf("Caller.Timeout = %v, want 10s", cfg.Caller.Timeout)
	}
	if cfg.Caller.PollInterval != 200*time.Millisecond {
		t.Errorf("Caller.PollInterval = %v, want 200ms", cfg.Caller.PollInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mailbox:
  command_path: "/var/run/tabs/cmd.json"
  result_path: "/var/run/tabs/result.json"
  busy_policy: "overwrite"

relay:
  tick_interval: "20ms"
  staleness: "5s"
  frame_mode: "drop_partial"

caller:
  timeout: "3s"
  poll_interval: "100ms"

journal:
  path: "/var/lib/tabs/journal.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mailbox.CommandPath != "/var/run/tabs/cmd.json" {
		t.Errorf("Mailbox.CommandPath = %q", cfg.Mailbox.CommandPath)
	}
	if cfg.Mailbox.BusyPolicy != BusyOverwrite {
		t.Errorf("Mailbox.BusyPolicy = %q, want %q", cfg.Mailbox.BusyPolicy, BusyOverwrite)
	}
	if cfg.Relay.TickInterval != 20*time.Millisecond {
		t.Errorf("Relay.TickInterval = %v, want 20ms", cfg.Relay.TickInterval)
	}
	if cfg.Relay.Staleness != 5*time.Second {
		t.Errorf("Relay.Staleness = %v, want 5s", cfg.Relay.Staleness)
	}
	if cfg.Relay.FrameMode != FrameDropPartial {
		t.Errorf("Relay.FrameMode = %q, want %q", cfg.Relay.FrameMode, FrameDropPartial)
	}
	if cfg.Caller.Timeout != 3*time.Second {
		t.Errorf("Caller.Timeout = %v, want 3s", cfg.Caller.Timeout)
	}
	if cfg.Journal.Path != "/var/lib/tabs/journal.db" {
		t.Errorf("Journal.Path = %q", cfg.Journal.Path)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}

	// Fields absent from the file keep their defaults
	if cfg.Relay.MaxOutboundFrame != DefaultMaxOutboundFrame {
		t.Errorf("Relay.MaxOutboundFrame = %d, want default %d", cfg.Relay.MaxOutboundFrame, DefaultMaxOutboundFrame)
	}
	if cfg.Logging.File != DefaultLogFile {
		t.Errorf("Logging.File = %q, want default", cfg.Logging.File)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[mailbox]
command_path = "/tmp/a-cmd.json"
result_path = "/tmp/a-result.json"
busy_policy = "reject"

[relay]
staleness = "45s"

[caller]
timeout = "2s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mailbox.CommandPath != "/tmp/a-cmd.json" {
		t.Errorf("Mailbox.CommandPath = %q", cfg.Mailbox.CommandPath)
	}
	if cfg.Relay.Staleness != 45*time.Second {
		t.Errorf("Relay.Staleness = %v, want 45s", cfg.Relay.Staleness)
	}
	if cfg.Caller.Timeout != 2*time.Second {
		t.Errorf("Caller.Timeout = %v, want 2s", cfg.Caller.Timeout)
	}
	if cfg.Relay.TickInterval != DefaultTickInterval {
		t.Errorf("Relay.TickInterval = %v, want default", cfg.Relay.TickInterval)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TABRELAY_DIR", "/run/user/1000")
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	path := writeConfig(t, "config.yaml", `
mailbox:
  command_path: "${TEST_TABRELAY_DIR}/cmd.json"
  result_path: "${TEST_TABRELAY_DIR}/result.json"
journal:
  path: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mailbox.CommandPath != "/run/user/1000/cmd.json" {
		t.Errorf("Mailbox.CommandPath = %q", cfg.Mailbox.CommandPath)
	}
	if cfg.Mailbox.ResultPath != "/run/user/1000/result.json" {
		t.Errorf("Mailbox.ResultPath = %q", cfg.Mailbox.ResultPath)
	}
	if cfg.Journal.Path != "" {
		t.Errorf("Journal.Path = %q, want empty for unset var", cfg.Journal.Path)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad duration",
			content: "relay:\n  staleness: \"soon\"\n",
			wantErr: "relay.staleness",
		},
		{
			name:    "unknown busy policy",
			content: "mailbox:\n  busy_policy: \"queue\"\n",
			wantErr: "busy_policy",
		},
		{
			name:    "unknown frame mode",
			content: "relay:\n  frame_mode: \"stream\"\n",
			wantErr: "frame_mode",
		},
		{
			name:    "same path for both mailboxes",
			content: "mailbox:\n  command_path: \"/tmp/x.json\"\n  result_path: \"/tmp/x.json\"\n",
			wantErr: "must differ",
		},
		{
			name:    "negative timeout",
			content: "caller:\n  timeout: \"-1s\"\n",
			wantErr: "caller.timeout",
		},
		{
			name:    "malformed yaml",
			content: "mailbox: [unterminated\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Mailbox.CommandPath != DefaultCommandPath {
		t.Errorf("Mailbox.CommandPath = %q, want default", cfg.Mailbox.CommandPath)
	}
}

func TestPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("TABRELAY_CONFIG", "/etc/tabrelay.toml")
		if got := Path(); got != "/etc/tabrelay.toml" {
			t.Errorf("Path() = %q", got)
		}
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("TABRELAY_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/home/u/.cfg")
		if got := Path(); got != "/home/u/.cfg/tabrelay/config.yaml" {
			t.Errorf("Path() = %q", got)
		}
	})
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabrelay", "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written default error = %v", err)
	}
	if cfg.Caller.Timeout != DefaultCallerTimeout {
		t.Errorf("Caller.Timeout = %v, want default", cfg.Caller.Timeout)
	}

	if cfg.Mailbox.BusyPolicy != BusyReject {
		t.Errorf("Mailbox.BusyPolicy = %q, want %q", cfg.Mailbox.BusyPolicy, BusyReject)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() over existing file should fail")
	}
}

func TestWriteDefault_DescribesBusyPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}

	text := string(data)
	for _, want := range []string{"reject:", "overwrite:", "relay.staleness"} {
		if !strings.Contains(text, want) {
			t.Errorf("default config does not mention %q", want)
		}
	}
}
