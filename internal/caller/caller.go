// ABOUTME: Caller side of the mailbox protocol: post a command, wait for its result.
// ABOUTME: Blocking with a deadline; correlation by issue time and a generated request id.

package caller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tabrelay/internal/mailbox"
)

// DefaultTimeout bounds Invoke when neither the call nor the config sets one.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is matched by *TimeoutError.
	ErrTimeout = mailbox.ErrTimeout
	// ErrBusy is returned when the command slot still holds an untaken command.
	ErrBusy = mailbox.ErrBusy
)

// TimeoutError reports that no qualifying result arrived in time. The command
// may still be executed by the extension later; its result is then stranded.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for extension: %s after %s", e.Action, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Validator checks a payload before it is posted.
type Validator interface {
	Validate(action string, payload json.RawMessage) error
}

// Config configures a Caller.
type Config struct {
	Commands  mailbox.CommandSlot
	Results   mailbox.ResultSlot
	Timeout   time.Duration
	Validator Validator // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

// Caller issues commands to the relay and waits for the answers.
type Caller struct {
	commands  mailbox.CommandSlot
	results   mailbox.ResultSlot
	timeout   time.Duration
	validator Validator
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Caller.
func New(cfg Config) *Caller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Caller{
		commands:  cfg.Commands,
		results:   cfg.Results,
		timeout:   timeout,
		validator: cfg.Validator,
		logger:    logger.With("component", "caller"),
		now:       now,
	}
}

// Invoke posts action with payload and blocks until the matching result arrives,
// the timeout elapses, or ctx is done. A zero timeout uses the configured default.
// On success the result's data is returned unchanged.
func (c *Caller) Invoke(ctx context.Context, action string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if c.validator != nil {
		if err := c.validator.Validate(action, payload); err != nil {
			return nil, err
		}
	}

	issued := c.now()
	cmd := mailbox.Command{
		Action:    action,
		Payload:   payload,
		IssuedAt:  mailbox.Timestamp(issued),
		RequestID: uuid.NewString(),
	}
	if err := c.commands.Post(cmd); err != nil {
		return nil, fmt.Errorf("posting %s: %w", action, err)
	}
	c.logger.Debug("command posted", "action", action, "request_id", cmd.RequestID)

	res, err := c.results.TakeIfNewerThan(ctx, mailbox.Query{
		After:     cmd.IssuedAt,
		RequestID: cmd.RequestID,
		Deadline:  issued.Add(timeout),
	})
	if errors.Is(err, mailbox.ErrTimeout) {
		c.logger.Warn("no result before deadline", "action", action, "timeout", timeout)
		return nil, &TimeoutError{Action: action, Timeout: timeout}
	}
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", action, err)
	}

	c.logger.Debug("result received", "action", action, "bytes", len(res.Data))
	return res.Data, nil
}
