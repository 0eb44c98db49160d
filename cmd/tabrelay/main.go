// ABOUTME: Caller-side CLI for the tab relay: MCP tool server, one-shot invoke, and inspection
// ABOUTME: Talks to the running tabrelay-host only through the two mailbox files

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
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/tabrelay/internal/action"
	"github.com/2389/tabrelay/internal/caller"
	"github.com/2389/tabrelay/internal/config"
	"github.com/2389/tabrelay/internal/logging"
	"github.com/2389/tabrelay/internal/mailbox"
	"github.com/2389/tabrelay/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "mcp":
		err = runMCP(ctx, args)
	case "invoke":
		err = runInvoke(ctx, args, os.Stdout)
	case "status":
		err = runStatus(ctx, os.Stdout)
	case "history":
		err = runHistory(ctx, args, os.Stdout)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "actions":
		for _, name := range action.MustCatalog().Names() {
			fmt.Println(name)
		}
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tabrelay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  mcp [-http ADDR]                          Serve the browser tools over MCP (stdio by default)")
	fmt.Println("  invoke ACTION [-raw] [-timeout D] [JSON]  Send one action to the extension and print the result")
	fmt.Println("  status                                    Show both mailbox slots and journal counts")
	fmt.Println("  history [-n N]                            Show recent relay events from the journal")
	fmt.Println("  actions                                   List the actions the extension understands")
	fmt.Println("  init                                      Write a default config file")
	fmt.Println("  version                                   Print the version")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newCaller builds a caller over the configured mailbox files. A nil validator
// sends payloads unchecked.
func newCaller(cfg *config.Config, validator caller.Validator, logger *slog.Logger) (*caller.Caller, error) {
	policy, err := mailbox.ParsePolicy(cfg.Mailbox.BusyPolicy)
	if err != nil {
		return nil, err
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
	return caller.New(caller.Config{
		Commands:  commands,
		Results:   results,
		Timeout:   cfg.Caller.Timeout,
		Validator: validator,
		Logger:    logger,
	}), nil
}

func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	httpAddr := fs.String("http", "", "Serve Streamable HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries the MCP stream in stdio mode.
	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	c, err := newCaller(cfg, action.MustCatalog(), logger)
	if err != nil {
		return err
	}
	server := tools.NewServer(c, version, logger)

	if *httpAddr == "" {
		logger.Info("serving MCP over stdio", "version", version)
		return server.Run(ctx, &mcp.StdioTransport{})
	}
	return serveHTTP(ctx, server, *httpAddr, logger)
}

func serveHTTP(ctx context.Context, server *mcp.Server, addr string, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

// invoker is the part of the caller runInvoke needs.
type invoker interface {
	Invoke(ctx context.Context, action string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error)
}

func runInvoke(ctx context.Context, args []string, w io.Writer) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: tabrelay invoke ACTION [-raw] [-timeout D] [JSON]")
	}
	name := args[0]

	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	raw := fs.Bool("raw", false, "Skip payload validation")
	timeout := fs.Duration("timeout", 0, "How long to wait for the extension (default from config)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	var validator caller.Validator
	if !*raw {
		validator = action.MustCatalog()
	}
	c, err := newCaller(cfg, validator, logger)
	if err != nil {
		return err
	}

	return invoke(ctx, c, name, fs.Arg(0), *timeout, w)
}

func invoke(ctx context.Context, inv invoker, name, payload string, timeout time.Duration, w io.Writer) error {
	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON: %s", payload)
	}

	data, err := inv.Invoke(ctx, name, json.RawMessage(payload), timeout)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInit(in io.Reader, w io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(w, "tabrelay configuration setup")
	fmt.Fprintln(w, "============================")
	fmt.Fprintln(w)

	path := prompt(reader, w, "Config file path", config.Path())
	if err := config.WriteDefault(path); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nConfig written to %s\n", path)
	fmt.Fprintln(w, "\nRegister the host with your browser:")
	fmt.Fprintln(w, "  tabrelay-host manifest --extension-id <ID> > com.tabmanager.host.json")
	return nil
}

func prompt(reader *bufio.Reader, w io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(w, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(w)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
