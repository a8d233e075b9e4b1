// Package pipeline turns inbound platform frames into AI replies: classify,
// ack the source message, run the completion, dispatch the segmented reply,
// then refresh the conversation's activity timestamp.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/replygo/pkg/replygo/classify"
	"github.com/jholhewres/replygo/pkg/replygo/dify"
	"github.com/jholhewres/replygo/pkg/replygo/gateway"
	"github.com/jholhewres/replygo/pkg/replygo/platform"
)

// Completer runs one session completion.
type Completer interface {
	Complete(ctx context.Context, req dify.Request) (dify.Reply, error)
}

// Dispatcher delivers one reply text to a platform conversation.
type Dispatcher interface {
	Dispatch(ctx context.Context, sctx platform.SendContext, text string) error
}

// ActivityToucher refreshes a conversation's activity timestamp.
type ActivityToucher interface {
	Touch(ctx context.Context, sessionKey, accountID, counterpartID string) error
}

// Pipeline is the frame handler wired into the connection supervisor.
type Pipeline struct {
	acknowledger platform.ReadAcknowledger
	completer    Completer
	dispatcher   Dispatcher
	toucher      ActivityToucher
	logger       *slog.Logger
}

// New creates a Pipeline over the given collaborators.
func New(ack platform.ReadAcknowledger, completer Completer, dispatcher Dispatcher, toucher ActivityToucher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		acknowledger: ack,
		completer:    completer,
		dispatcher:   dispatcher,
		toucher:      toucher,
		logger:       logger.With("component", "pipeline"),
	}
}

// HandleFrame classifies one frame and, when it carries a counterpart
// message, processes it on its own goroutine. It returns immediately so
// frame delivery keeps feeding the supervisor's liveness counters.
func (p *Pipeline) HandleFrame(ctx context.Context, frame gateway.Frame) {
	res, err := classify.Classify(frame.Data)
	if err != nil {
		p.logger.Warn("malformed frame dropped", "bytes", len(frame.Data), "error", err)
		return
	}
	if res.Message == nil {
		p.logDrop(res)
		return
	}

	go p.process(ctx, res.Message)
}

// logDrop records why a frame produced no message. Unknown discriminators
// warn so new platform frame types surface in logs.
func (p *Pipeline) logDrop(res classify.Result) {
	switch res.Reason {
	case classify.DropUnknownType:
		p.logger.Warn("unknown frame type dropped", "send_type", res.SendType)
	case classify.DropFileAttachment, classify.DropContactCard:
		p.logger.Info("unsupported attachment skipped",
			"reason", res.Reason, "detail", res.Detail)
	default:
		p.logger.Debug("frame dropped", "reason", res.Reason, "send_type", res.SendType)
	}
}

// process runs the reply flow for one message. The activity timestamp moves
// last so a failure mid-flight leaves the conversation eligible for the
// stale monitor's re-engagement.
func (p *Pipeline) process(ctx context.Context, msg *classify.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("message processing panic",
				"session", msg.SessionKey, "panic", r)
		}
	}()

	started := time.Now()
	p.logger.Debug("processing message",
		"session", msg.SessionKey,
		"counterpart", msg.CounterpartID,
		"media", msg.MediaKind,
		"chars", len(msg.Content))

	// Best effort: an unacked message only affects the platform's unread
	// badge, never the reply flow.
	if msg.AckToken != "" {
		if err := p.acknowledger.SetRead(ctx, msg.AckToken); err != nil {
			p.logger.Warn("set-read failed", "session", msg.SessionKey, "error", err)
		}
	}

	req := dify.Request{
		Session: dify.Session{
			SessionKey:    msg.SessionKey,
			AccountID:     msg.AccountID,
			CounterpartID: msg.CounterpartID,
		},
		Query: msg.Content,
	}
	if msg.MediaURL != "" {
		req.Files = []dify.FileRef{dify.RemoteFile(string(msg.MediaKind), msg.MediaURL)}
	}

	reply, err := p.completer.Complete(ctx, req)
	if err != nil {
		p.logger.Error("completion failed", "session", msg.SessionKey, "error", err)
		return
	}

	switch {
	case reply.End():
		// The sentinel is never forwarded; the counterpart sees nothing.
		p.logger.Info("engagement ended by AI", "session", msg.SessionKey)
	case reply.Text == "":
		p.logger.Warn("empty completion, nothing to send", "session", msg.SessionKey)
	default:
		sctx := platform.SendContext{
			SessionRef:    msg.SessionRef,
			AccountID:     msg.AccountID,
			CounterpartID: msg.CounterpartID,
			ChatType:      msg.ChatType,
			OperatorID:    msg.OperatorID,
		}
		if err := p.dispatcher.Dispatch(ctx, sctx, reply.Text); err != nil {
			p.logger.Error("dispatch failed", "session", msg.SessionKey, "error", err)
			return
		}
	}

	if err := p.toucher.Touch(ctx, msg.SessionKey, msg.AccountID, msg.CounterpartID); err != nil {
		p.logger.Error("activity touch failed", "session", msg.SessionKey, "error", err)
		return
	}

	p.logger.Info("message handled",
		"session", msg.SessionKey,
		"counterpart", msg.CounterpartID,
		"end", reply.End(),
		"duration_ms", time.Since(started).Milliseconds())
}
