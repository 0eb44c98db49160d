// ABOUTME: Non-blocking byte sources for the inbound half of the channel.
// ABOUTME: Pump turns a blocking reader such as stdin into a poll-style Source.

package framing

import (
	"bytes"
	"io"
	"sync"
)

// Source is a byte stream that never blocks. TryRead returns ErrWouldBlock when
// nothing is buffered, and the underlying stream error (usually io.EOF) once the
// stream has ended and all buffered bytes were consumed.
type Source interface {
	TryRead(p []byte) (int, error)
}

// Pump reads a blocking io.Reader on a background goroutine and buffers
// whatever arrives until TryRead collects it.
type Pump struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	err   error
	ready chan struct{}
}

// NewPump starts pumping r. The goroutine exits when r returns an error.
func NewPump(r io.Reader) *Pump {
	p := &Pump{ready: make(chan struct{}, 1)}
	go p.run(r)
	return p
}

func (p *Pump) run(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		p.mu.Lock()
		if n > 0 {
			p.buf.Write(chunk[:n])
		}
		if err != nil {
			p.err = err
		}
		p.mu.Unlock()

		select {
		case p.ready <- struct{}{}:
		default:
		}

		if err != nil {
			return
		}
	}
}

// TryRead implements Source.
func (p *Pump) TryRead(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf.Len() > 0 {
		return p.buf.Read(b)
	}
	if p.err != nil {
		return 0, p.err
	}
	return 0, ErrWouldBlock
}

// Ready is signalled after new data or an error arrives. It lets callers sleep
// instead of polling; missing a signal only delays delivery to the next poll.
func (p *Pump) Ready() <-chan struct{} {
	return p.ready
}
