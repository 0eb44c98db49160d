// ABOUTME: The host's relay loop: mailbox commands out to the extension, replies back.
// ABOUTME: Single goroutine, fixed tick, never blocks on either side.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/2389/tabrelay/internal/dedupe"
	"github.com/2389/tabrelay/internal/framing"
	"github.com/2389/tabrelay/internal/mailbox"
	"github.com/2389/tabrelay/internal/store"
)

// ErrPeerClosed is returned by Step when the extension closed its end of the channel.
var ErrPeerClosed = errors.New("peer closed the channel")

// Sender is the outbound half of the framing channel.
type Sender interface {
	Send(v any) error
}

// Receiver is the inbound half of the framing channel.
type Receiver interface {
	TryReceive() (framing.Message, bool, error)
}

// Config configures a Loop.
type Config struct {
	Commands mailbox.CommandSlot
	Results  mailbox.ResultSlot
	Writer   Sender
	Reader   Receiver

	Tick      time.Duration // 50ms when zero
	Staleness time.Duration // 30s when zero

	Journal store.Journal
	Logger  *slog.Logger
	Now     func() time.Time
}

// Loop moves commands and results between the mailboxes and the framing channel.
type Loop struct {
	commands  mailbox.CommandSlot
	results   mailbox.ResultSlot
	writer    Sender
	reader    Receiver
	tick      time.Duration
	staleness time.Duration
	journal   store.Journal
	logger    *slog.Logger
	now       func() time.Time

	pending *pendingTable
	replies *dedupe.Cache
}

// New creates a Loop.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	staleness := cfg.Staleness
	if staleness <= 0 {
		staleness = 30 * time.Second
	}
	journal := cfg.Journal
	if journal == nil {
		journal = store.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Loop{
		commands:  cfg.Commands,
		results:   cfg.Results,
		writer:    cfg.Writer,
		reader:    cfg.Reader,
		tick:      tick,
		staleness: staleness,
		journal:   journal,
		logger:    logger.With("component", "relay"),
		now:       now,
		pending:   newPendingTable(staleness),
		replies:   dedupe.New(staleness, 1024, dedupe.WithClock(now)),
	}
}

// Run ticks until ctx is cancelled or Step reports a fatal error. A peer that
// closes the channel ends Run with a nil error.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("relay started", "tick", l.tick, "staleness", l.staleness)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	// Receivers that can signal new input let a reply through without waiting
	// for the next tick.
	var ready <-chan struct{}
	if n, ok := l.reader.(interface{ Ready() <-chan struct{} }); ok {
		ready = n.Ready()
	}

	for {
		if err := l.Step(ctx, l.now()); err != nil {
			if errors.Is(err, ErrPeerClosed) {
				l.logger.Info("extension disconnected, stopping")
				return nil
			}
			l.logger.Error("relay stopped", "error", err)
			return err
		}

		select {
		case <-ctx.Done():
			l.logger.Info("relay shutting down")
			return nil
		case <-ticker.C:
		case <-ready:
		}
	}
}

// Step runs one tick: forward at most one command, then make one receive attempt.
// Mailbox and decode problems are logged and swallowed. The returned error is
// always fatal for the loop.
func (l *Loop) Step(ctx context.Context, now time.Time) error {
	if err := l.forwardCommand(ctx, now); err != nil {
		return err
	}
	if err := l.collectReply(ctx, now); err != nil {
		return err
	}
	if n := l.pending.expire(now); n > 0 {
		l.logger.Debug("expired unanswered commands", "count", n)
	}
	return nil
}

func (l *Loop) forwardCommand(ctx context.Context, now time.Time) error {
	cmd, err := l.commands.TakeIfFresh(now, l.staleness)

	var stale *mailbox.StaleError
	switch {
	case errors.As(err, &stale):
		l.logger.Warn("discarded stale command", "action", stale.Command.Action, "age", stale.Age)
		l.record(ctx, store.Entry{
			Kind:      store.KindCommandStale,
			At:        now,
			Action:    stale.Command.Action,
			FrameID:   stale.Command.FrameID(),
			RequestID: stale.Command.RequestID,
			Detail:    stale.Age.String(),
		})
		return nil
	case errors.Is(err, mailbox.ErrMalformed):
		l.logger.Warn("discarded malformed command", "error", err)
		l.record(ctx, store.Entry{Kind: store.KindCommandMalformed, At: now, Detail: err.Error()})
		return nil
	case err != nil:
		l.logger.Error("reading command mailbox", "error", err)
		return nil
	case cmd == nil:
		return nil
	}

	frameID := cmd.FrameID()
	req := framing.Request{ID: frameID, Action: cmd.Action, Payload: cmd.Payload}
	if err := l.writer.Send(req); err != nil {
		if errors.Is(err, framing.ErrFrameTooLarge) {
			// The command is lost but the channel is intact.
			l.logger.Error("command too large to forward", "action", cmd.Action, "error", err)
			l.record(ctx, store.Entry{
				Kind:      store.KindCommandMalformed,
				At:        now,
				Action:    cmd.Action,
				FrameID:   frameID,
				RequestID: cmd.RequestID,
				Detail:    err.Error(),
			})
			return nil
		}
		return fmt.Errorf("sending %s: %w", cmd.Action, err)
	}

	l.pending.add(frameID, pendingCommand{requestID: cmd.RequestID, action: cmd.Action, sentAt: now})
	l.logger.Info("forwarded command", "action", cmd.Action, "frame_id", frameID, "request_id", cmd.RequestID)
	l.record(ctx, store.Entry{
		Kind:      store.KindCommandSent,
		At:        now,
		Action:    cmd.Action,
		FrameID:   frameID,
		RequestID: cmd.RequestID,
	})
	return nil
}

func (l *Loop) collectReply(ctx context.Context, now time.Time) error {
	msg, ok, err := l.reader.TryReceive()
	switch {
	case errors.Is(err, io.EOF):
		return ErrPeerClosed
	case err != nil:
		return fmt.Errorf("reading channel: %w", err)
	case !ok:
		return nil
	}

	data, hasResult := msg.Result()
	if !hasResult {
		l.logger.Debug("ignoring message without result", "keys", len(msg))
		return nil
	}

	entry := store.Entry{Kind: store.KindResultPublished, At: now}
	res := mailbox.Result{Data: data}

	if frameID, hasID := msg.ID(); hasID {
		entry.FrameID = frameID
		if l.replies.CheckAndMark(strconv.FormatInt(frameID, 10)) {
			l.logger.Warn("dropped duplicate reply", "frame_id", frameID)
			entry.Kind = store.KindReplyDuplicate
			l.record(ctx, entry)
			return nil
		}
		if cmd, found := l.pending.take(frameID); found {
			res.RequestID = cmd.requestID
			entry.Action = cmd.action
			entry.RequestID = cmd.requestID
		}
	}

	// Stamped at publish time. The tick may have started before the command
	// this answers was issued, and a waiting caller only accepts newer results.
	publishedAt := l.now()
	res.CompletedAt = mailbox.Timestamp(publishedAt)
	entry.At = publishedAt
	if err := l.results.Publish(res); err != nil {
		l.logger.Error("publishing result", "frame_id", entry.FrameID, "error", err)
		return nil
	}
	l.logger.Info("published result", "action", entry.Action, "frame_id", entry.FrameID, "bytes", len(data))
	l.record(ctx, entry)
	return nil
}

func (l *Loop) record(ctx context.Context, e store.Entry) {
	if err := l.journal.Record(ctx, e); err != nil {
		l.logger.Warn("journal write failed", "kind", e.Kind, "error", err)
	}
}

// Pending returns the number of forwarded commands still awaiting a reply.
func (l *Loop) Pending() int { return l.pending.len() }

// JournalDrops returns a framing.ReaderConfig.OnDrop callback that records
// discarded inbound frames.
func JournalDrops(j store.Journal, logger *slog.Logger) func(reason string, n int) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(reason string, n int) {
		err := j.Record(context.Background(), store.Entry{
			Kind:   store.KindFrameDropped,
			Detail: fmt.Sprintf("%s (%d bytes)", reason, n),
		})
		if err != nil {
			logger.Warn("journal write failed", "kind", store.KindFrameDropped, "error", err)
		}
	}
}
