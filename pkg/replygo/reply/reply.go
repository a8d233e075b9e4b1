// Package reply splits generated replies into send-able segments and
// delivers them to the platform in order.
package reply

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jholhewres/replygo/pkg/replygo/platform"
)

// Delimiter is the marker the AI prompt instructs the model to place
// between message segments.
const Delimiter = "&&&"

// Segment splits text on Delimiter. Empty input yields an empty list;
// input without the delimiter passes through verbatim as a single segment;
// otherwise every piece is trimmed and pieces that trim to nothing are
// dropped.
func Segment(text string) []string {
	if text == "" {
		return nil
	}
	if !strings.Contains(text, Delimiter) {
		return []string{text}
	}

	parts := strings.Split(text, Delimiter)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}

// ---------- Dispatcher ----------

// Dispatcher delivers reply segments through an outbound sender, strictly
// in order, one at a time, each awaited before the next. A failed segment
// is logged and the remaining segments are still attempted.
type Dispatcher struct {
	sender platform.OutboundSender
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher on top of an outbound sender.
func NewDispatcher(sender platform.OutboundSender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		logger: logger.With("component", "dispatch"),
	}
}

// Dispatch segments text and sends each piece to the counterpart described
// by sctx. Returns the first send error, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, sctx platform.SendContext, text string) error {
	segments := Segment(text)
	if len(segments) == 0 {
		d.logger.Warn("nothing to send after segmentation", "counterpart", sctx.CounterpartID)
		return nil
	}

	var firstErr error
	for i, segment := range segments {
		d.logger.Debug("sending segment", "seq", i+1, "total", len(segments))
		if err := d.sender.Send(ctx, sctx, segment); err != nil {
			d.logger.Error("segment send failed",
				"seq", i+1,
				"total", len(segments),
				"counterpart", sctx.CounterpartID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
