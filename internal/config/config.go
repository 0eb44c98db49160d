// ABOUTME: Configuration loading and parsing for the tab relay host and caller
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Protocol defaults shared by the relay and the caller. Both processes must agree on
// the mailbox paths and the staleness threshold for the exchange to work.
const (
	DefaultCommandPath      = "/tmp/tab-manager-cmd.json"
	DefaultResultPath       = "/tmp/tab-manager-result.json"
	DefaultLogFile          = "/tmp/tab-manager-host.log"
	DefaultStaleness        = 30 * time.Second
	DefaultCallerTimeout    = 10 * time.Second
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultTickInterval     = 50 * time.Millisecond
	DefaultMaxInboundFrame  = 64 << 20
	DefaultMaxOutboundFrame = 1 << 20
)

// Busy policies for the command mailbox.
const (
	BusyReject    = "reject"
	BusyOverwrite = "overwrite"
)

// Frame read modes for the relay.
const (
	FrameReassemble  = "reassemble"
	FrameDropPartial = "drop_partial"
)

// Config represents the complete tabrelay configuration
type Config struct {
	Mailbox MailboxConfig `yaml:"mailbox" toml:"mailbox"`
	Relay   RelayConfig   `yaml:"relay" toml:"relay"`
	Caller  CallerConfig  `yaml:"caller" toml:"caller"`
	Journal JournalConfig `yaml:"journal" toml:"journal"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// MailboxConfig holds the filesystem locations of the two single-slot mailboxes
type MailboxConfig struct {
	CommandPath string `yaml:"command_path" toml:"command_path"`
	ResultPath  string `yaml:"result_path" toml:"result_path"`
	BusyPolicy  string `yaml:"busy_policy" toml:"busy_policy"`
}

// RelayConfig holds relay loop timing and framing configuration
type RelayConfig struct {
	TickInterval time.Duration `yaml:"-" toml:"-"`
	Staleness    time.Duration `yaml:"-" toml:"-"`

	FrameMode        string `yaml:"frame_mode" toml:"frame_mode"`
	MaxInboundFrame  int    `yaml:"max_inbound_frame" toml:"max_inbound_frame"`
	MaxOutboundFrame int    `yaml:"max_outbound_frame" toml:"max_outbound_frame"`

	// Raw string values for unmarshaling
	TickIntervalRaw string `yaml:"tick_interval" toml:"tick_interval"`
	StalenessRaw    string `yaml:"staleness" toml:"staleness"`
}

// CallerConfig holds timing for the blocking request side
type CallerConfig struct {
	Timeout      time.Duration `yaml:"-" toml:"-"`
	PollInterval time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw      string `yaml:"timeout" toml:"timeout"`
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
}

// JournalConfig holds the exchange journal location. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// Default returns the configuration both processes fall back to when no file exists.
func Default() *Config {
	return &Config{
		Mailbox: MailboxConfig{
			CommandPath: DefaultCommandPath,
			ResultPath:  DefaultResultPath,
			BusyPolicy:  BusyReject,
		},
		Relay: RelayConfig{
			TickInterval:     DefaultTickInterval,
			Staleness:        DefaultStaleness,
			FrameMode:        FrameReassemble,
			MaxInboundFrame:  DefaultMaxInboundFrame,
			MaxOutboundFrame: DefaultMaxOutboundFrame,
		},
		Caller: CallerConfig{
			Timeout:      DefaultCallerTimeout,
			PollInterval: DefaultPollInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   DefaultLogFile,
		},
	}
}

// Path returns the config file location.
// Priority: TABRELAY_CONFIG env var > XDG_CONFIG_HOME/tabrelay/config.yaml > ~/.config/tabrelay/config.yaml
func Path() string {
	if envPath := os.Getenv("TABRELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "tabrelay.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "tabrelay", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values absent from the file keep their defaults. Files ending in .toml are decoded
// as TOML, everything else as YAML. Environment variables in the format ${VAR_NAME}
// are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
// The browser starts the host with a bare environment, so absence is normal.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Mailbox.CommandPath == "" {
		return fmt.Errorf("mailbox.command_path is required")
	}
	if c.Mailbox.ResultPath == "" {
		return fmt.Errorf("mailbox.result_path is required")
	}
	if filepath.Clean(c.Mailbox.CommandPath) == filepath.Clean(c.Mailbox.ResultPath) {
		return fmt.Errorf("mailbox.command_path and mailbox.result_path must differ")
	}

	switch c.Mailbox.BusyPolicy {
	case BusyReject, BusyOverwrite:
	default:
		return fmt.Errorf("mailbox.busy_policy must be %q or %q, got %q", BusyReject, BusyOverwrite, c.Mailbox.BusyPolicy)
	}

	switch c.Relay.FrameMode {
	case FrameReassemble, FrameDropPartial:
	default:
		return fmt.Errorf("relay.frame_mode must be %q or %q, got %q", FrameReassemble, FrameDropPartial, c.Relay.FrameMode)
	}

	if c.Relay.TickInterval <= 0 {
		return fmt.Errorf("relay.tick_interval must be positive")
	}
	if c.Relay.Staleness <= 0 {
		return fmt.Errorf("relay.staleness must be positive")
	}
	if c.Relay.MaxInboundFrame <= 0 || c.Relay.MaxOutboundFrame <= 0 {
		return fmt.Errorf("relay frame limits must be positive")
	}
	if c.Caller.Timeout <= 0 {
		return fmt.Errorf("caller.timeout must be positive")
	}
	if c.Caller.PollInterval <= 0 {
		return fmt.Errorf("caller.poll_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"relay.tick_interval", cfg.Relay.TickIntervalRaw, &cfg.Relay.TickInterval},
		{"relay.staleness", cfg.Relay.StalenessRaw, &cfg.Relay.Staleness},
		{"caller.timeout", cfg.Caller.TimeoutRaw, &cfg.Caller.Timeout},
		{"caller.poll_interval", cfg.Caller.PollIntervalRaw, &cfg.Caller.PollInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// WriteDefault writes a commented YAML config with default values to path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(defaultYAML), 0o644)
}

const defaultYAML = `# tabrelay configuration
mailbox:
  command_path: "/tmp/tab-manager-cmd.json"
  result_path: "/tmp/tab-manager-result.json"
  # reject: a new invoke fails as busy while an untaken command is still fresh,
  # for up to relay.staleness after a timed-out call. overwrite: the new command
  # replaces it immediately and the old one is lost.
  busy_policy: "reject"

relay:
  tick_interval: "50ms"
  staleness: "30s"
  frame_mode: "reassemble"   # reassemble, drop_partial
  max_inbound_frame: 67108864
  max_outbound_frame: 1048576

caller:
  timeout: "10s"
  poll_interval: "200ms"

journal:
  path: ""                   # e.g. ~/.local/share/tabrelay/journal.db

logging:
  level: "info"              # debug, info, warn, error
  format: "text"             # text, json
  file: "/tmp/tab-manager-host.log"
`
