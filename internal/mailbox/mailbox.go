// ABOUTME: Command and Result records plus the single-slot mailbox interfaces.
// ABOUTME: Shared by the caller (posts commands, takes results) and the relay (the reverse).

package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"
)

var (
	// ErrBusy is returned by Post under PolicyReject while a fresh command is waiting.
	ErrBusy = errors.New("mailbox busy: a command is still waiting to be relayed")

	// ErrTimeout is returned by TakeIfNewerThan when the deadline passes.
	ErrTimeout = errors.New("timed out waiting for result")

	// ErrMalformed wraps decode failures of a claimed record.
	ErrMalformed = errors.New("malformed mailbox record")
)

// Policy decides what Post does when the command slot is occupied.
type Policy int

const (
	// PolicyReject refuses to replace a fresh, untaken command.
	PolicyReject Policy = iota
	// PolicyOverwrite replaces whatever is in the slot. The replaced command is lost.
	PolicyOverwrite
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject":
		return PolicyReject, nil
	case "overwrite":
		return PolicyOverwrite, nil
	default:
		return 0, errors.New("unknown busy policy " + s)
	}
}

// Command is a request from the caller to the extension.
type Command struct {
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	IssuedAt  float64         `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// FrameID is the id the relay puts on the outbound frame: milliseconds of IssuedAt.
func (c Command) FrameID() int64 {
	return int64(math.Floor(c.IssuedAt * 1000))
}

// Age is how old the command is at now.
func (c Command) Age(now time.Time) time.Duration {
	return now.Sub(TimeOf(c.IssuedAt))
}

// Result is a reply from the extension, republished by the relay.
type Result struct {
	CompletedAt float64         `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
	RequestID   string          `json:"request_id,omitempty"`
}

// Query selects which result a waiting caller will accept.
type Query struct {
	// After is the caller's issue timestamp; only strictly newer results qualify.
	After float64
	// RequestID, when both it and the result's id are set, must match.
	RequestID string
	// Deadline bounds the wait.
	Deadline time.Time
}

// Accepts reports whether r answers q.
func (q Query) Accepts(r *Result) bool {
	if r == nil || r.CompletedAt <= q.After {
		return false
	}
	if q.RequestID != "" && r.RequestID != "" && q.RequestID != r.RequestID {
		return false
	}
	return true
}

// CommandSlot is the caller→relay mailbox.
type CommandSlot interface {
	Post(cmd Command) error
	TakeIfFresh(now time.Time, maxAge time.Duration) (*Command, error)
}

// ResultSlot is the relay→caller mailbox.
type ResultSlot interface {
	Publish(res Result) error
	TakeIfNewerThan(ctx context.Context, q Query) (*Result, error)
}

// Timestamp converts t to fractional Unix seconds, the on-disk time format.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// TimeOf converts fractional Unix seconds back to a time.Time.
func TimeOf(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func normalizePayload(p json.RawMessage) json.RawMessage {
	if len(p) == 0 || string(p) == "null" {
		return json.RawMessage(`{}`)
	}
	return p
}
