// ABOUTME: Frame writer for the outbound half of the native messaging channel.
// ABOUTME: Writes prefix and body in one call and flushes before returning.

package framing

import (
	"fmt"
	"io"
	"sync"
)

type flusher interface {
	Flush() error
}

// Writer writes length-prefixed JSON frames to a stream.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	limits Limits
}

// NewWriter creates a Writer with the given limits; zero fields take defaults.
func NewWriter(w io.Writer, limits Limits) *Writer {
	return &Writer{
		w:      w,
		limits: limits.withDefaults(),
	}
}

// Send encodes v as one frame. Nothing is written if v exceeds the outbound limit.
func (fw *Writer) Send(v any) error {
	frame, err := Encode(v, fw.limits.MaxOutbound)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if f, ok := fw.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing frame: %w", err)
		}
	}
	return nil
}

// WriteFrame writes a single frame to w without size limits beyond the hard
// 32-bit prefix. It is meant for the peer side and tests.
func WriteFrame(w io.Writer, v any) error {
	frame, err := Encode(v, 0)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame blocks until one complete frame is read from r.
func ReadFrame(r io.Reader) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := decodeLength(header[:])
	if length > DefaultMaxInbound {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return Decode(body)
}
