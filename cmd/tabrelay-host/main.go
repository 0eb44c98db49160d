// ABOUTME: Native messaging host launched by the browser; runs the relay loop over stdin/stdout
// ABOUTME: Also prints the host manifest the browser needs to find this binary

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/2389/tabrelay/internal/config"
	"github.com/2389/tabrelay/internal/framing"
	"github.com/2389/tabrelay/internal/logging"
	"github.com/2389/tabrelay/internal/mailbox"
	"github.com/2389/tabrelay/internal/relay"
	"github.com/2389/tabrelay/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// HostName is the native messaging host name the extension connects to.
const HostName = "com.tabmanager.host"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The browser starts the host with the extension origin as its first
	// argument, so anything other than a known subcommand runs the relay.
	var err error
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "manifest":
		err = runManifest(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		err = runRelay(ctx)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tabrelay-host [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)                          Run the relay (the browser does this)")
	fmt.Println("  manifest --extension-id ID      Print the native messaging host manifest")
	fmt.Println("  version                         Print the version")
}

func runRelay(ctx context.Context) error {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout belongs to the framing channel. Logs go to the file sink, or stderr
	// when the file cannot be opened.
	var sink io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := logging.OpenSink(cfg.Logging.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tabrelay-host: %v, logging to stderr\n", err)
		} else {
			defer f.Close()
			sink = f
		}
	}
	logger := logging.New(cfg.Logging, sink)
	slog.SetDefault(logger)

	journal, err := store.Open(cfg.Journal.Path)
	if err != nil {
		logger.Warn("journal unavailable, continuing without it", "path", cfg.Journal.Path, "error", err)
		journal = store.Nop{}
	}
	defer journal.Close()

	loop, err := newLoop(cfg, os.Stdin, os.Stdout, journal, logger)
	if err != nil {
		return err
	}

	logger.Info("starting tabrelay-host",
		"version", version,
		"pid", os.Getpid(),
		"command_path", cfg.Mailbox.CommandPath,
		"result_path", cfg.Mailbox.ResultPath,
		"frame_mode", cfg.Relay.FrameMode,
	)

	if err := loop.Run(ctx); err != nil {
		logger.Error("relay stopped", "error", err)
		return err
	}
	logger.Info("relay stopped")
	return nil
}

// newLoop wires the mailboxes, the framing channel, and the journal into a relay loop.
func newLoop(cfg *config.Config, in io.Reader, out io.Writer, journal store.Journal, logger *slog.Logger) (*relay.Loop, error) {
	policy, err := mailbox.ParsePolicy(cfg.Mailbox.BusyPolicy)
	if err != nil {
		return nil, err
	}
	mode, err := framing.ParseMode(cfg.Relay.FrameMode)
	if err != nil {
		return nil, err
	}
	limits := framing.Limits{
		MaxInbound:  cfg.Relay.MaxInboundFrame,
		MaxOutbound: cfg.Relay.MaxOutboundFrame,
	}

	commands := mailbox.NewCommandFile(mailbox.CommandFileConfig{
		Path:      cfg.Mailbox.CommandPath,
		Policy:    policy,
		Staleness: cfg.Relay.Staleness,
		Logger:    logger,
	})
	results := mailbox.NewResultFile(mailbox.ResultFileConfig{
		Path:         cfg.Mailbox.ResultPath,
		PollInterval: cfg.Caller.PollInterval,
		Logger:       logger,
	})

	reader := framing.NewReader(framing.NewPump(in), framing.ReaderConfig{
		Mode:   mode,
		Limits: limits,
		Logger: logger,
		OnDrop: relay.JournalDrops(journal, logger),
	})

	return relay.New(relay.Config{
		Commands:  commands,
		Results:   results,
		Writer:    framing.NewWriter(bufio.NewWriter(out), limits),
		Reader:    reader,
		Tick:      cfg.Relay.TickInterval,
		Staleness: cfg.Relay.Staleness,
		Journal:   journal,
		Logger:    logger,
	}), nil
}

// Manifest is the native messaging host manifest.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

func newManifest(hostPath string, extensionIDs []string) Manifest {
	origins := make([]string, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		origins = append(origins, "chrome-extension://"+id+"/")
	}
	return Manifest{
		Name:           HostName,
		Description:    "Tab relay native messaging host",
		Path:           hostPath,
		Type:           "stdio",
		AllowedOrigins: origins,
	}
}

type stringList []string

func (s *stringList) String() string     { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runManifest(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	var ids stringList
	fs.Var(&ids, "extension-id", "Extension ID allowed to connect (repeatable)")
	hostPath := fs.String("path", "", "Absolute path to tabrelay-host (default: this binary)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("at least one --extension-id is required")
	}

	path := *hostPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating executable: %w", err)
		}
		path = exe
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("host path must be absolute: %s", path)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newManifest(path, ids))
}
