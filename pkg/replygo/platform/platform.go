// Package platform implements the customer-service platform HTTP API:
// password login, account and channel-session discovery, outbound message
// delivery, and read acknowledgements.
package platform

import (
	"context"
	"encoding/json"
	"regexp"
)

// ---------- Auth ----------

// AuthContext carries the identity obtained from a successful login. It is
// an immutable value handed to collaborators explicitly; there is no shared
// mutable session object.
type AuthContext struct {
	// Token is the Bearer token returned by the login endpoint.
	Token string

	// UserID is the platform account id from the user-info endpoint.
	UserID string

	// ChannelToken is the channel session id (csRow.tokenId). It doubles
	// as the websocket dial token and as the csId routing value for
	// proactive sends.
	ChannelToken string
}

// Authenticator produces a fresh AuthContext. Implementations must be safe
// to call repeatedly: the connection supervisor re-authenticates through
// this after an auth rejection, and session recycling re-runs the full
// login flow on a timer.
type Authenticator interface {
	Authenticate(ctx context.Context) (AuthContext, error)
}

// ---------- Outbound ----------

// SendContext is the routing identity for one outbound message. The raw id
// fields are kept verbatim from the wire: the platform emits numeric ids
// for some accounts and string ids for others, and expects the same shape
// back.
type SendContext struct {
	// SessionRef is the csChatUserId value in wire form.
	SessionRef json.RawMessage

	// AccountID is the operator account name (csUsername).
	AccountID string

	// CounterpartID is the remote user's handle (username).
	CounterpartID string

	// ChatType is the platform routing constant; zero means the default 1.
	ChatType int

	// OperatorID is the csId value in wire form.
	OperatorID json.RawMessage
}

// OutboundSender delivers one message segment to a counterpart.
type OutboundSender interface {
	Send(ctx context.Context, sctx SendContext, text string) error
}

// ReadAcknowledger marks a conversation as read on the platform. Callers
// treat failures as log-only: a missed acknowledgement never blocks the
// reply flow.
type ReadAcknowledger interface {
	SetRead(ctx context.Context, ackToken string) error
}

// ---------- Helpers ----------

var numericID = regexp.MustCompile(`^-?[0-9]+$`)

// RawID renders a stored identifier in its wire form: ids that look
// numeric go back as JSON numbers, everything else as a JSON string. Used
// when a send is built from stored state instead of a live frame.
func RawID(s string) json.RawMessage {
	if numericID.MatchString(s) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
