// ABOUTME: Native messaging frame types: length-prefixed UTF-8 JSON in native byte order.
// ABOUTME: Defines limits, the outbound request shape, and the inbound message view.

package framing

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// HeaderSize is the length of the frame length prefix.
const HeaderSize = 4

// Default frame limits. The browser refuses host→extension messages over 1 MiB.
const (
	DefaultMaxInbound  = 64 << 20
	DefaultMaxOutbound = 1 << 20
)

var (
	// ErrFrameTooLarge means a frame exceeds the configured limit. On the read side
	// the stream can no longer be trusted to be aligned on a frame boundary.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")

	// ErrWouldBlock is returned by a Source when no bytes are available right now.
	ErrWouldBlock = errors.New("no data available")

	errNotObject = errors.New("frame payload is not a JSON object")
	errNotUTF8   = errors.New("frame payload is not valid UTF-8")
)

// byteOrder is the prefix encoding browsers use for native messaging.
var byteOrder = binary.NativeEndian

// Limits bounds frame sizes in each direction.
type Limits struct {
	MaxInbound  int
	MaxOutbound int
}

// DefaultLimits returns the default frame limits
func DefaultLimits() Limits {
	return Limits{
		MaxInbound:  DefaultMaxInbound,
		MaxOutbound: DefaultMaxOutbound,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxInbound <= 0 {
		l.MaxInbound = DefaultMaxInbound
	}
	if l.MaxOutbound <= 0 {
		l.MaxOutbound = DefaultMaxOutbound
	}
	return l
}

// Request is the frame the relay sends to the extension.
type Request struct {
	ID      int64           `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Message is a decoded inbound frame. Only a few fields are interpreted; the rest
// are peer-defined and passed through untouched.
type Message map[string]json.RawMessage

// Result returns the raw "result" field. A JSON null result is still present.
func (m Message) Result() (json.RawMessage, bool) {
	r, ok := m["result"]
	return r, ok
}

// ID returns the echoed request id, if the peer sent a numeric one.
func (m Message) ID() (int64, bool) {
	raw, ok := m["id"]
	if !ok {
		return 0, false
	}
	var id json.Number
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	n, err := id.Int64()
	if err != nil {
		f, ferr := id.Float64()
		if ferr != nil {
			return 0, false
		}
		n = int64(f)
	}
	return n, true
}

// Into decodes the whole message into v.
func (m Message) Into(v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Encode marshals v and prepends the length prefix.
func Encode(v any, maxSize int) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	if maxSize > 0 && len(body) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrFrameTooLarge, len(body), maxSize)
	}

	buf := make([]byte, HeaderSize+len(body))
	byteOrder.PutUint32(buf[:HeaderSize], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// Decode parses a frame body into a Message.
func Decode(body []byte) (Message, error) {
	if !utf8.Valid(body) {
		return nil, errNotUTF8
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errNotObject
	}
	return msg, nil
}

func decodeLength(header []byte) int {
	return int(byteOrder.Uint32(header))
}
