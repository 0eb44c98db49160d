// ABOUTME: Fake browser extension for E2E testing: spawns the native host and answers its frames.
// ABOUTME: Usage: fake-extension [-host tabrelay-host] [-tabs tabs.json] [-- host args...]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"

	"github.com/2389/tabrelay/internal/browser"
)

// defaultTabs is the window the fake extension starts with when no -tabs file is given.
var defaultTabs = []browser.Tab{
	{ID: 101, WindowID: 1, Title: "The Go Programming Language", URL: "https://go.dev/"},
	{ID: 102, WindowID: 1, Title: "Go Packages", URL: "https://pkg.go.dev/"},
	{ID: 103, WindowID: 1, Title: "The Go Programming Language", URL: "https://go.dev/"},
	{ID: 104, WindowID: 1, Title: "New Tab", URL: "chrome://newtab/"},
	{ID: 105, WindowID: 2, Title: "Model Context Protocol", URL: "https://modelcontextprotocol.io/"},
}

func main() {
	host := flag.String("host", "tabrelay-host", "Native host command to spawn")
	tabsFile := flag.String("tabs", "", "JSON file with the starting tab list")
	verbose := flag.Bool("v", false, "Log every request")
	flag.Parse()

	if err := run(*host, flag.Args(), *tabsFile, *verbose); err != nil {
		log.Fatal(err)
	}
}

func run(host string, hostArgs []string, tabsFile string, verbose bool) error {
	tabs, err := loadTabs(tabsFile)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// A real browser passes the extension origin as the first argument.
	if len(hostArgs) == 0 {
		hostArgs = []string{"chrome-extension://fake-extension/"}
	}
	cmd := exec.CommandContext(ctx, host, hostArgs...)
	cmd.Stderr = os.Stderr

	toHost, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open host stdin: %w", err)
	}
	fromHost, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open host stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}
	fmt.Fprintf(os.Stderr, "started %s (pid %d) with %d tabs\n", host, cmd.Process.Pid, len(tabs))

	b := browser.New(tabs)
	serveErr := b.Serve(fromHost, toHost, logger)

	// Closing stdin is how the browser tells the host to stop.
	toHost.Close()
	waitErr := cmd.Wait()

	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && ctx.Err() == nil && !errors.As(waitErr, &exitErr) {
		return fmt.Errorf("host: %w", waitErr)
	}
	if exitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("host exited with status %d", exitErr.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "host stopped, %d tabs left\n", len(b.Tabs()))
	return nil
}

func loadTabs(path string) ([]browser.Tab, error) {
	if path == "" {
		return defaultTabs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tabs: %w", err)
	}
	var tabs []browser.Tab
	if err := json.Unmarshal(data, &tabs); err != nil {
		return nil, fmt.Errorf("failed to parse tabs: %w", err)
	}
	return tabs, nil
}
