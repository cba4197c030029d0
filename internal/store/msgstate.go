package store

// MessageState encodes both the delivery state and the direction of a
// message in a single integer. Direction is derived from parity: even
// values are incoming, odd values are outgoing. The literal values are
// the on-disk representation and must not be renumbered.
type MessageState int

const (
	StateIncoming            MessageState = 0
	StateOutgoing            MessageState = 1
	StateIncomingUnread      MessageState = 2
	StateOutgoingUnsent      MessageState = 3
	StateIncomingError       MessageState = 4
	StateOutgoingError       MessageState = 5
	StateIncomingErrorUnread MessageState = 6
	StateOutgoingErrorUnread MessageState = 7
	StateOutgoingDelivered   MessageState = 9
	StateOutgoingRead        MessageState = 11
)

// IsIncoming reports whether the state belongs to the incoming family.
func (s MessageState) IsIncoming() bool {
	return s%2 == 0
}

// IsOutgoing reports whether the state belongs to the outgoing family.
func (s MessageState) IsOutgoing() bool {
	return s%2 == 1
}

// IsError reports whether the state carries an error annotation.
func (s MessageState) IsError() bool {
	switch s {
	case StateIncomingError, StateOutgoingError, StateIncomingErrorUnread, StateOutgoingErrorUnread:
		return true
	}
	return false
}

// IsUnread reports whether the state still counts toward the unread
// counter.
func (s MessageState) IsUnread() bool {
	switch s {
	case StateIncomingUnread, StateIncomingErrorUnread, StateOutgoingErrorUnread:
		return true
	}
	return false
}

// Read returns the non-unread counterpart of an unread state, or the
// state unchanged if it is not unread.
func (s MessageState) Read() MessageState {
	switch s {
	case StateIncomingUnread:
		return StateIncoming
	case StateIncomingErrorUnread:
		return StateIncomingError
	case StateOutgoingErrorUnread:
		return StateOutgoingError
	}
	return s
}

func (s MessageState) String() string {
	switch s {
	case StateIncoming:
		return "incoming"
	case StateOutgoing:
		return "outgoing"
	case StateIncomingUnread:
		return "incoming-unread"
	case StateOutgoingUnsent:
		return "outgoing-unsent"
	case StateIncomingError:
		return "incoming-error"
	case StateOutgoingError:
		return "outgoing-error"
	case StateIncomingErrorUnread:
		return "incoming-error-unread"
	case StateOutgoingErrorUnread:
		return "outgoing-error-unread"
	case StateOutgoingDelivered:
		return "outgoing-delivered"
	case StateOutgoingRead:
		return "outgoing-read"
	}
	return "unknown"
}
