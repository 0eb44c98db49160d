// ABOUTME: In-process mailboxes: a bounded request/response channel of capacity one.
// ABOUTME: Same semantics as the file slots, for single-process wiring and tests.

package mailbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory holds one command slot and one result slot in memory. It implements both
// CommandSlot and ResultSlot.
type Memory struct {
	policy    Policy
	staleness time.Duration

	mu      sync.Mutex
	command *Command
	result  *Result
	changed chan struct{}
}

// NewMemory creates an empty Memory mailbox pair.
func NewMemory(policy Policy, staleness time.Duration) *Memory {
	return &Memory{
		policy:    policy,
		staleness: staleness,
		changed:   make(chan struct{}),
	}
}

// Post implements CommandSlot.
func (m *Memory) Post(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.command != nil && m.policy == PolicyReject {
		abandoned := m.staleness > 0 && m.command.Age(time.Now()) >= m.staleness
		if !abandoned {
			return ErrBusy
		}
	}

	cmd.Payload = normalizePayload(cmd.Payload)
	m.command = &cmd
	return nil
}

// TakeIfFresh implements CommandSlot.
func (m *Memory) TakeIfFresh(now time.Time, maxAge time.Duration) (*Command, error) {
	m.mu.Lock()
	cmd := m.command
	m.command = nil
	m.mu.Unlock()

	if cmd == nil {
		return nil, nil
	}
	if age := cmd.Age(now); age >= maxAge {
		return nil, &StaleError{Command: *cmd, Age: age}
	}
	return cmd, nil
}

// PendingCommand returns the waiting command without consuming it.
func (m *Memory) PendingCommand() *Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.command == nil {
		return nil
	}
	c := *m.command
	return &c
}

// Publish implements ResultSlot. It always overwrites.
func (m *Memory) Publish(res Result) error {
	if len(res.Data) == 0 {
		res.Data = json.RawMessage(`null`)
	}

	m.mu.Lock()
	m.result = &res
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
	return nil
}

// TakeIfNewerThan implements ResultSlot.
func (m *Memory) TakeIfNewerThan(ctx context.Context, q Query) (*Result, error) {
	for {
		m.mu.Lock()
		if q.Accepts(m.result) {
			res := m.result
			m.result = nil
			m.mu.Unlock()
			return res, nil
		}
		changed := m.changed
		m.mu.Unlock()

		remaining := time.Until(q.Deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}
