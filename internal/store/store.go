// ABOUTME: Journal interface and entry types for the relay's exchange history
// ABOUTME: Defines Entry, Kind, and the no-op journal used when persistence is off

package store

import (
	"context"
	"time"
)

// Kind categorizes a journal entry.
type Kind string

const (
	KindCommandSent      Kind = "command_sent"
	KindCommandStale     Kind = "command_stale"
	KindCommandMalformed Kind = "command_malformed"
	KindResultPublished  Kind = "result_published"
	KindReplyDuplicate   Kind = "reply_duplicate"
	KindFrameDropped     Kind = "frame_dropped"
)

// Entry is one relay event.
type Entry struct {
	ID        int64
	Kind      Kind
	At        time.Time
	Action    string // empty for events not tied to a command
	FrameID   int64
	RequestID string
	Detail    string
}

// Journal records relay events.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Counts returns how many entries of each kind exist.
	Counts(ctx context.Context) (map[Kind]int, error)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Counts(context.Context) (map[Kind]int, error) { return map[Kind]int{}, nil }
func (Nop) Close() error { return nil }

// Open returns a SQLite journal at path, or Nop when path is empty.
func Open(path string) (Journal, error) {
	if path == "" {
		return Nop{}, nil
	}
	s, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
