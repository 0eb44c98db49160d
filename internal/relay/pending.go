// ABOUTME: Table of commands forwarded to the extension and not yet answered.
// ABOUTME: Maps the outbound frame id back to the caller's request id.

package relay

import "time"

type pendingCommand struct {
	requestID string
	action    string
	sentAt    time.Time
}

// pendingTable is only touched from the loop goroutine, so it has no lock.
type pendingTable struct {
	entries map[int64]pendingCommand
	ttl     time.Duration
}

func newPendingTable(ttl time.Duration) *pendingTable {
	return &pendingTable{
		entries: make(map[int64]pendingCommand),
		ttl:     ttl,
	}
}

func (p *pendingTable) add(frameID int64, cmd pendingCommand) {
	p.entries[frameID] = cmd
}

// take removes and returns the entry for frameID.
func (p *pendingTable) take(frameID int64) (pendingCommand, bool) {
	cmd, ok := p.entries[frameID]
	if ok {
		delete(p.entries, frameID)
	}
	return cmd, ok
}

// expire drops entries older than the ttl and returns how many it removed.
func (p *pendingTable) expire(now time.Time) int {
	removed := 0
	for id, cmd := range p.entries {
		if now.Sub(cmd.sentAt) >= p.ttl {
			delete(p.entries, id)
			removed++
		}
	}
	return removed
}

func (p *pendingTable) len() int { return len(p.entries) }
