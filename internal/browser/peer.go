// ABOUTME: Extension side of the native messaging channel for the in-memory browser.
// ABOUTME: Reads framed requests, runs them, and replies with {id, result}.

package browser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/tabrelay/internal/framing"
)

// reply is what the extension posts back to the host.
type reply struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Serve answers requests read from r on w until r is exhausted. It returns nil
// when r reaches EOF.
func (b *Browser) Serve(r io.Reader, w io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		msg, err := framing.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}

		var req framing.Request
		if err := msg.Into(&req); err != nil {
			logger.Warn("ignoring unreadable request", "error", err)
			continue
		}

		logger.Debug("request", "id", req.ID, "action", req.Action)
		if err := framing.WriteFrame(w, reply{ID: req.ID, Result: b.Handle(req.Action, req.Payload)}); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
}
