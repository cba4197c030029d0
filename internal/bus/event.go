package bus

import "time"

// Kind identifies an event category. Kinds are dot-namespaced so
// subscribers can match a whole family with a prefix.
type Kind string

const (
	KindMessageNew     Kind = "message.new"
	KindMessageUpdated Kind = "message.updated"
	KindMessageRemoved Kind = "message.removed"

	KindConversationOpened  Kind = "conversation.opened"
	KindConversationClosed  Kind = "conversation.closed"
	KindConversationUpdated Kind = "conversation.updated"

	KindAccountStateChanged Kind = "account.state_changed"
	KindCertFailure         Kind = "account.cert_failure"
	KindAuthFailure         Kind = "account.auth_failure"

	KindUnreadChanged Kind = "unread.changed"

	KindSessionEstablished  Kind = "session.established"
	KindSessionResumed      Kind = "session.resumed"
	KindSessionDisconnected Kind = "session.disconnected"
	KindSessionStateChanged Kind = "session.state_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// SessionChange is the payload for session.* events.
type SessionChange struct {
	AccountID int64
	JID       string
}

// AccountStateChange is the payload for account.state_changed.
type AccountStateChange struct {
	AccountID int64
	JID       string
	Active    bool
}

// ConversationRef identifies one conversation in an event payload.
type ConversationRef struct {
	AccountID int64
	Peer      string
}

// UnreadChange is the payload for unread.changed.
type UnreadChange struct {
	AccountID int64
	Peer      string
	Delta     int
}
