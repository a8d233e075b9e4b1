// Package store persists conversation continuity for the auto-reply agent.
// One ConversationRecord exists per platform conversation (operator account +
// counterpart pair) and carries the Dify-side conversation id, timestamps,
// and the proactive-activation counter used by the stale monitor.
package store

import (
	"context"
	"errors"
	"time"
)

// SuppressionDelta is added to a record's activation count when the AI
// signals that a conversation must never be re-engaged again. It pushes the
// count far past any sane ceiling while keeping the counter monotonic.
const SuppressionDelta = 100

// ErrNotFound is returned when no record exists for a session key.
var ErrNotFound = errors.New("store: conversation not found")

// ConversationRecord is one persisted conversation.
type ConversationRecord struct {
	// SessionKey is the platform's conversation handle (csChatUserId),
	// unique per operator-account/counterpart pair. Immutable.
	SessionKey string

	// AccountID is the operator account that owns the conversation.
	AccountID string

	// CounterpartID is the remote user on the other side.
	CounterpartID string

	// AIConversationID is the thread id issued by the completion service.
	// Empty until the first successful AI reply.
	AIConversationID string

	// CreatedAt is set once when the record is first written.
	CreatedAt time.Time

	// UpdatedAt is bumped on every inbound message and every successful
	// proactive follow-up. Never earlier than CreatedAt.
	UpdatedAt time.Time

	// ActivationCount counts proactive (monitor-initiated) engagements.
	// Monotonically non-decreasing.
	ActivationCount int
}

// Store is the persistence contract shared by the inbound pipeline, the
// session adapter, and the stale monitor. A single record update is atomic;
// concurrent readers and writers are safe.
type Store interface {
	// Get returns the record for a session key, or ErrNotFound.
	Get(ctx context.Context, sessionKey string) (*ConversationRecord, error)

	// SaveConversationID stores the AI conversation id for a session,
	// creating the record when absent. Re-saving the same id is a no-op.
	SaveConversationID(ctx context.Context, sessionKey, accountID, counterpartID, conversationID string) error

	// Touch bumps UpdatedAt, creating the record (with no AI conversation
	// id yet) when the session has never been seen.
	Touch(ctx context.Context, sessionKey, accountID, counterpartID string) error

	// IncrementActivation adds by to the activation count and bumps
	// UpdatedAt. The record must already exist: a silently-missed
	// increment would allow unbounded re-engagement, so absence is an
	// error, not an upsert.
	IncrementActivation(ctx context.Context, sessionKey string, by int) error

	// Stale returns every record whose UpdatedAt is older than olderThan
	// and whose activation count is still below maxActivations.
	Stale(ctx context.Context, olderThan time.Duration, maxActivations int) ([]*ConversationRecord, error)

	// Reset clears the AI conversation id so the next completion starts a
	// fresh AI thread. The record itself survives.
	Reset(ctx context.Context, sessionKey string) error

	// Delete removes a record entirely. Maintenance use only.
	Delete(ctx context.Context, sessionKey string) error

	// List returns all records, most recently updated first.
	List(ctx context.Context) ([]*ConversationRecord, error)

	// Close releases the underlying database handle.
	Close() error
}
