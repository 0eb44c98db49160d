// ABOUTME: File-backed single-slot mailboxes shared by two independent processes.
// ABOUTME: Writes are temp+rename; consumers claim a record by renaming it away first.

package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// ErrStale is matched by the error TakeIfFresh returns after discarding an old command.
var ErrStale = errors.New("stale command discarded")

// StaleError carries the discarded command.
type StaleError struct {
	Command Command
	Age     time.Duration
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("stale command %q discarded (age %s)", e.Command.Action, e.Age.Round(time.Millisecond))
}

func (e *StaleError) Is(target error) bool { return target == ErrStale }

var claimSeq atomic.Uint64

// claim moves path to a name only this process knows. The rename is atomic, so of
// several racing consumers exactly one wins; the others see fs.ErrNotExist.
func claim(path string) (string, error) {
	claimed := fmt.Sprintf("%s.%d.%d.claim", path, os.Getpid(), claimSeq.Add(1))
	if err := os.Rename(path, claimed); err != nil {
		return "", err
	}
	return claimed, nil
}

// writeTemp writes data to a new file next to path and returns its name.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating mailbox directory: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return f.Name(), nil
}

// replace atomically overwrites path with data.
func replace(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing mailbox record: %w", err)
	}
	return nil
}

func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filepath.Base(path), err)
	}
	return &v, nil
}

// CommandFileConfig configures a CommandFile.
type CommandFileConfig struct {
	Path   string
	Policy Policy
	// Staleness lets Post evict an abandoned command under PolicyReject.
	Staleness time.Duration
	Logger    *slog.Logger
}

// CommandFile is the caller→relay mailbox on disk.
type CommandFile struct {
	path      string
	policy    Policy
	staleness time.Duration
	logger    *slog.Logger
}

// NewCommandFile creates a CommandFile.
func NewCommandFile(cfg CommandFileConfig) *CommandFile {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandFile{
		path:      cfg.Path,
		policy:    cfg.Policy,
		staleness: cfg.Staleness,
		logger:    logger.With("mailbox", "command"),
	}
}

// Path returns the slot location.
func (m *CommandFile) Path() string { return m.path }

// Post writes cmd into the slot according to the busy policy.
func (m *CommandFile) Post(cmd Command) error {
	cmd.Payload = normalizePayload(cmd.Payload)
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	if m.policy == PolicyOverwrite {
		return replace(m.path, data)
	}

	tmp, err := writeTemp(m.path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	for attempt := 0; attempt < 2; attempt++ {
		err = os.Link(tmp, m.path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("posting command: %w", err)
		}
		if !m.evictAbandoned(time.Now()) {
			return ErrBusy
		}
	}
	return ErrBusy
}

// evictAbandoned removes the occupant if it is stale or unreadable and reports
// whether the slot may now be free.
func (m *CommandFile) evictAbandoned(now time.Time) bool {
	existing, err := readJSON[Command](m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true
	case err != nil:
		m.logger.Warn("evicting unreadable command", "path", m.path, "error", err)
	case m.staleness > 0 && existing.Age(now) >= m.staleness:
		m.logger.Info("evicting stale command", "action", existing.Action, "age", existing.Age(now))
	default:
		return false
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return true
}

// TakeIfFresh claims the slot's command. A missing file yields (nil, nil). A command
// at least maxAge old is deleted and reported as a *StaleError; an undecodable one
// is deleted and reported as ErrMalformed. Either way the slot is empty afterwards.
func (m *CommandFile) TakeIfFresh(now time.Time, maxAge time.Duration) (*Command, error) {
	claimed, err := claim(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming command: %w", err)
	}
	defer os.Remove(claimed)

	cmd, err := readJSON[Command](claimed)
	if err != nil {
		return nil, err
	}
	if cmd.Action == "" {
		return nil, fmt.Errorf("%w: command has no action", ErrMalformed)
	}
	if age := cmd.Age(now); age >= maxAge {
		return nil, &StaleError{Command: *cmd, Age: age}
	}

	cmd.Payload = normalizePayload(cmd.Payload)
	return cmd, nil
}

// Peek reads the waiting command without consuming it.
func (m *CommandFile) Peek() (*Command, error) {
	cmd, err := readJSON[Command](m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return cmd, err
}

// ResultFileConfig configures a ResultFile.
type ResultFileConfig struct {
	Path         string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// ResultFile is the relay→caller mailbox on disk.
type ResultFile struct {
	path         string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewResultFile creates a ResultFile. A zero poll interval means 200ms.
func NewResultFile(cfg ResultFileConfig) *ResultFile {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &ResultFile{
		path:         cfg.Path,
		pollInterval: poll,
		logger:       logger.With("mailbox", "result"),
	}
}

// Path returns the slot location.
func (m *ResultFile) Path() string { return m.path }

// Publish overwrites the slot with res.
func (m *ResultFile) Publish(res Result) error {
	if len(res.Data) == 0 {
		res.Data = json.RawMessage(`null`)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return replace(m.path, data)
}

// Peek reads the waiting result without consuming it.
func (m *ResultFile) Peek() (*Result, error) {
	res, err := readJSON[Result](m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return res, err
}

// TakeIfNewerThan polls until a result that q accepts appears, then consumes it.
// Results q does not accept are left in place. It returns ErrTimeout once the
// deadline has passed, and never before.
func (m *ResultFile) TakeIfNewerThan(ctx context.Context, q Query) (*Result, error) {
	for {
		res, err := m.tryTake(q)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}

		remaining := time.Until(q.Deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}

		timer := time.NewTimer(min(m.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *ResultFile) tryTake(q Query) (*Result, error) {
	res, err := m.Peek()
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			m.logger.Debug("ignoring unreadable result", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("reading result: %w", err)
	}
	if !q.Accepts(res) {
		return nil, nil
	}

	claimed, err := claim(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming result: %w", err)
	}
	defer os.Remove(claimed)

	// The relay may have replaced the file between Peek and claim.
	got, err := readJSON[Result](claimed)
	if err == nil && q.Accepts(got) {
		return got, nil
	}
	if err := os.Link(claimed, m.path); err != nil && !errors.Is(err, fs.ErrExist) {
		m.logger.Warn("could not restore unaccepted result", "error", err)
	}
	return nil, nil
}
