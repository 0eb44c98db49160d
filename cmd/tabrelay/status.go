// ABOUTME: status and history subcommands: read-only views of the mailboxes and the journal
// ABOUTME: Neither command consumes a mailbox record

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/tabrelay/internal/config"
	"github.com/2389/tabrelay/internal/mailbox"
	"github.com/2389/tabrelay/internal/store"
)

func runStatus(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printStatus(ctx, cfg, time.Now(), w)
}

func printStatus(ctx context.Context, cfg *config.Config, now time.Time, w io.Writer) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	cyan.Fprintln(w, "tabrelay status")
	fmt.Fprintln(w)

	commands := mailbox.NewCommandFile(mailbox.CommandFileConfig{Path: cfg.Mailbox.CommandPath})
	cmd, err := commands.Peek()
	switch {
	case err != nil:
		yellow.Fprintf(w, "  Command:  ")
		red.Fprintf(w, "unreadable (%v)\n", err)
	case cmd == nil:
		green.Fprintf(w, "  Command:  ")
		fmt.Fprintln(w, "empty")
	default:
		age := cmd.Age(now).Round(time.Millisecond)
		yellow.Fprintf(w, "  Command:  ")
		fmt.Fprintf(w, "%s issued %s ago", cmd.Action, age)
		if age > cfg.Relay.Staleness {
			red.Fprintln(w, " (stale, the relay will discard it)")
		} else {
			fmt.Fprintln(w, ", waiting for the relay")
		}
	}
	fmt.Fprintf(w, "            %s\n", cfg.Mailbox.CommandPath)

	results := mailbox.NewResultFile(mailbox.ResultFileConfig{Path: cfg.Mailbox.ResultPath})
	res, err := results.Peek()
	switch {
	case err != nil:
		yellow.Fprintf(w, "  Result:   ")
		red.Fprintf(w, "unreadable (%v)\n", err)
	case res == nil:
		green.Fprintf(w, "  Result:   ")
		fmt.Fprintln(w, "empty")
	default:
		yellow.Fprintf(w, "  Result:   ")
		fmt.Fprintf(w, "%d bytes completed %s ago, not collected\n",
			len(res.Data), now.Sub(mailbox.TimeOf(res.CompletedAt)).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "            %s\n", cfg.Mailbox.ResultPath)

	green.Fprintf(w, "  Policy:   ")
	fmt.Fprintln(w, cfg.Mailbox.BusyPolicy)

	if cfg.Journal.Path == "" {
		green.Fprintf(w, "  Journal:  ")
		fmt.Fprintln(w, "disabled")
		return nil
	}

	journal, err := store.Open(cfg.Journal.Path)
	if err != nil {
		yellow.Fprintf(w, "  Journal:  ")
		red.Fprintf(w, "unavailable (%v)\n", err)
		return nil
	}
	defer journal.Close()

	counts, err := journal.Counts(ctx)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	green.Fprintf(w, "  Journal:  ")
	fmt.Fprintln(w, cfg.Journal.Path)
	for _, k := range []store.Kind{
		store.KindCommandSent,
		store.KindResultPublished,
		store.KindCommandStale,
		store.KindCommandMalformed,
		store.KindReplyDuplicate,
		store.KindFrameDropped,
	} {
		fmt.Fprintf(w, "    %-18s %d\n", k, counts[k])
	}
	return nil
}

func runHistory(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "Number of events to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		fmt.Fprintln(os.Stderr, "Journal is disabled. Set journal.path in the config to record relay events.")
		return nil
	}

	journal, err := store.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	return printHistory(ctx, journal, *n, w)
}

func printHistory(ctx context.Context, journal store.Journal, n int, w io.Writer) error {
	entries, err := journal.Recent(ctx, n)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No relay events recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TIME\tKIND\tACTION\tFRAME\tREQUEST\tDETAIL")
	fmt.Fprintln(tw, "  ----\t----\t------\t-----\t-------\t------")
	for _, e := range entries {
		frame := "-"
		if e.FrameID != 0 {
			frame = fmt.Sprint(e.FrameID)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("Jan 02 15:04:05.000"),
			e.Kind,
			dash(e.Action),
			frame,
			dash(truncate(e.RequestID, 13)),
			truncate(e.Detail, 40),
		)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
