// ABOUTME: Non-blocking frame reader with reassembling and drop-partial modes.
// ABOUTME: Reassembly keeps a partial frame across attempts; drop mode discards it.

package framing

import (
	"errors"
	"fmt"
	"log/slog"
)

// Mode selects how the Reader treats a frame that is not fully available.
type Mode int

const (
	// ModeReassemble retains partial frames across attempts.
	ModeReassemble Mode = iota
	// ModeDropPartial discards whatever was consumed of an incomplete frame.
	// This matches the original host, which lost frames split across reads.
	ModeDropPartial
)

func (m Mode) String() string {
	switch m {
	case ModeReassemble:
		return "reassemble"
	case ModeDropPartial:
		return "drop_partial"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "reassemble":
		return ModeReassemble, nil
	case "drop_partial":
		return ModeDropPartial, nil
	default:
		return 0, fmt.Errorf("unknown frame mode %q", s)
	}
}

// Drop reasons reported through ReaderConfig.OnDrop.
const (
	DropPartialHeader = "partial_header"
	DropPartialBody   = "partial_body"
	DropUndecodable   = "undecodable"
)

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Mode   Mode
	Limits Limits
	Logger *slog.Logger
	// OnDrop, if set, is told about every discarded frame or fragment.
	OnDrop func(reason string, bytes int)
}

type readState int

const (
	awaitingLength readState = iota
	awaitingBody
)

// Reader decodes frames from a Source without ever blocking.
type Reader struct {
	src    Source
	mode   Mode
	limits Limits
	logger *slog.Logger
	onDrop func(string, int)

	state  readState
	header [HeaderSize]byte
	body   []byte
	have   int
}

// NewReader creates a Reader over src.
func NewReader(src Source, cfg ReaderConfig) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		src:    src,
		mode:   cfg.Mode,
		limits: cfg.Limits.withDefaults(),
		logger: logger,
		onDrop: cfg.OnDrop,
	}
}

// Ready returns the source's wake-up signal, or nil when the source has none.
// A nil channel never fires, so callers can select on it unconditionally.
func (r *Reader) Ready() <-chan struct{} {
	if n, ok := r.src.(interface{ Ready() <-chan struct{} }); ok {
		return n.Ready()
	}
	return nil
}

// TryReceive makes one read attempt. It returns (msg, true, nil) when a complete
// frame decoded, (nil, false, nil) when there is no message right now (including
// undecodable frames, which are swallowed), and a non-nil error only when the
// stream ended or can no longer be trusted.
func (r *Reader) TryReceive() (Message, bool, error) {
	if r.mode == ModeDropPartial {
		return r.receiveDropping()
	}
	return r.receiveReassembling()
}

// fill reads available bytes into p until it is full or the source runs dry.
func (r *Reader) fill(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := r.src.TryRead(p[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, ErrWouldBlock
		}
	}
	return n, nil
}

func (r *Reader) receiveDropping() (Message, bool, error) {
	var header [HeaderSize]byte
	n, err := r.fill(header[:])
	if n < HeaderSize {
		if n > 0 {
			r.drop(DropPartialHeader, n)
		}
		return nil, false, streamErr(err)
	}

	length := decodeLength(header[:])
	if length > r.limits.MaxInbound {
		// Alignment is already lost in this mode; discard what is there and move on.
		n, err := r.discardAvailable()
		r.drop(DropPartialBody, HeaderSize+n)
		return nil, false, streamErr(err)
	}

	body := make([]byte, length)
	n, err = r.fill(body)
	if n < length {
		r.drop(DropPartialBody, HeaderSize+n)
		return nil, false, streamErr(err)
	}

	return r.decode(body)
}

func (r *Reader) receiveReassembling() (Message, bool, error) {
	if r.state == awaitingLength {
		n, err := r.fill(r.header[r.have:])
		r.have += n
		if r.have < HeaderSize {
			return nil, false, streamErr(err)
		}

		length := decodeLength(r.header[:])
		if length > r.limits.MaxInbound {
			return nil, false, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, r.limits.MaxInbound)
		}
		r.state = awaitingBody
		r.body = make([]byte, length)
		r.have = 0
	}

	n, err := r.fill(r.body[r.have:])
	r.have += n
	if r.have < len(r.body) {
		return nil, false, streamErr(err)
	}

	body := r.body
	r.state = awaitingLength
	r.body = nil
	r.have = 0
	return r.decode(body)
}

func (r *Reader) discardAvailable() (int, error) {
	var scratch [4096]byte
	total := 0
	for {
		n, err := r.src.TryRead(scratch[:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, ErrWouldBlock
		}
	}
}

func (r *Reader) decode(body []byte) (Message, bool, error) {
	msg, err := Decode(body)
	if err != nil {
		r.logger.Debug("dropping undecodable frame", "bytes", len(body), "error", err)
		r.drop(DropUndecodable, HeaderSize+len(body))
		return nil, false, nil
	}
	return msg, true, nil
}

func (r *Reader) drop(reason string, n int) {
	r.logger.Debug("frame data discarded", "reason", reason, "bytes", n)
	if r.onDrop != nil {
		r.onDrop(reason, n)
	}
}

// streamErr hides the "try again later" condition from callers.
func streamErr(err error) error {
	if err == nil || errors.Is(err, ErrWouldBlock) {
		return nil
	}
	return err
}
