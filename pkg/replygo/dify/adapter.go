// Package dify – adapter.go synchronizes Dify conversation identity with
// the durable conversation store.
package dify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jholhewres/replygo/pkg/replygo/store"
)

// endSentinel is the exact reply the prompt produces when the AI wants to
// stop engaging a counterpart.
const endSentinel = "END"

// Completer is the completion call the adapter builds on.
type Completer interface {
	ChatMessage(ctx context.Context, req ChatRequest) (*Completion, error)
}

// Session identifies whose conversation a completion belongs to.
type Session struct {
	// SessionKey is the durable conversation key; it is also the Dify
	// end-user identity, so AI-side threads follow the platform session.
	SessionKey string

	// AccountID and CounterpartID label the record when it is first
	// created.
	AccountID     string
	CounterpartID string
}

// Request is one completion to run on behalf of a session.
type Request struct {
	Session Session

	// Query is the counterpart's message, or a fixed re-engagement prompt
	// for proactive calls.
	Query string

	Files []FileRef

	// InputOverrides adjusts individual prompt inputs for this call only.
	InputOverrides map[string]any
}

// Reply is one completed exchange.
type Reply struct {
	Text           string
	ConversationID string
	MessageID      string
}

// End reports whether the AI asked to end engagement with this
// counterpart. Callers must not forward the sentinel as a visible message.
func (r Reply) End() bool { return r.Text == endSentinel }

// SessionAdapter wraps the completion call with conversation-id
// bookkeeping: the stored id is supplied so Dify continues the same
// thread, and a changed id is persisted before the reply is returned.
type SessionAdapter struct {
	completer Completer
	store     store.Store
	logger    *slog.Logger
}

// NewSessionAdapter creates an adapter over a completer and the store.
func NewSessionAdapter(completer Completer, st store.Store, logger *slog.Logger) *SessionAdapter {
	return &SessionAdapter{
		completer: completer,
		store:     st,
		logger:    logger.With("component", "session"),
	}
}

// Complete runs one completion for the session. A missing store record is
// not an error: the conversation starts fresh and the record is created
// when Dify assigns an id.
func (a *SessionAdapter) Complete(ctx context.Context, req Request) (Reply, error) {
	sess := req.Session

	conversationID := ""
	rec, err := a.store.Get(ctx, sess.SessionKey)
	switch {
	case err == nil:
		conversationID = rec.AIConversationID
	case errors.Is(err, store.ErrNotFound):
		a.logger.Debug("no stored conversation, starting fresh", "session", sess.SessionKey)
	default:
		return Reply{}, fmt.Errorf("loading conversation for %q: %w", sess.SessionKey, err)
	}

	comp, err := a.completer.ChatMessage(ctx, ChatRequest{
		User:           sess.SessionKey,
		Query:          req.Query,
		ConversationID: conversationID,
		Files:          req.Files,
		InputOverrides: req.InputOverrides,
	})
	if err != nil {
		return Reply{}, err
	}

	if comp.ConversationID != "" && comp.ConversationID != conversationID {
		if err := a.store.SaveConversationID(ctx, sess.SessionKey, sess.AccountID, sess.CounterpartID, comp.ConversationID); err != nil {
			return Reply{}, fmt.Errorf("persisting conversation id for %q: %w", sess.SessionKey, err)
		}
		a.logger.Debug("conversation id saved",
			"session", sess.SessionKey,
			"conversation_id", comp.ConversationID,
		)
	}

	return Reply{
		Text:           comp.Answer,
		ConversationID: comp.ConversationID,
		MessageID:      comp.MessageID,
	}, nil
}

// Reset clears the stored conversation id so the next completion starts a
// fresh AI thread. The record itself, with its timestamps and activation
// count, survives.
func (a *SessionAdapter) Reset(ctx context.Context, sessionKey string) error {
	return a.store.Reset(ctx, sessionKey)
}
