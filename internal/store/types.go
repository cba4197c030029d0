package store

// ConversationKind distinguishes direct chats from multi-user rooms.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindRoom   ConversationKind = "room"
)

// Account is a configured account row.
type Account struct {
	ID            int64  `db:"id"`
	JID           string `db:"jid"`
	Credential    string `db:"credential"`
	Active        bool   `db:"active"`
	PushEnabled   bool   `db:"push_enabled"`
	LastEndpoint  string `db:"last_endpoint"`
	RosterVersion string `db:"roster_version"`
	CreatedAt     int64  `db:"created_at"`
}

// Conversation is an open chat or room for one account. At most one
// row exists per (account, peer); enforced at open time and by a
// startup duplicate collapse, not by a schema constraint.
type Conversation struct {
	ID           int64            `db:"id"`
	AccountID    int64            `db:"account_id"`
	Peer         string           `db:"peer"`
	Kind         ConversationKind `db:"kind"`
	Nickname     string           `db:"nickname"`
	RoomPassword string           `db:"room_password"`
	ThreadID     string           `db:"thread_id"`
	Options      string           `db:"options"`
	UnreadCount  int              `db:"unread_count"`
	LastActivity int64            `db:"last_activity"`
}

// Message is one chat history row. Timestamps are unix milliseconds.
type Message struct {
	ID          int64        `db:"id"`
	AccountID   int64        `db:"account_id"`
	Peer        string       `db:"peer"`
	Author      string       `db:"author"`
	AuthorNick  string       `db:"author_nick"`
	Timestamp   int64        `db:"timestamp"`
	State       MessageState `db:"state"`
	ItemType    string       `db:"item_type"`
	Body        string       `db:"body"`
	StanzaID    string       `db:"stanza_id"`
	Encrypted   bool         `db:"encrypted"`
	Fingerprint string       `db:"fingerprint"`
	ErrorText   string       `db:"error_text"`
}

// Preview is a cached link preview pinned to a message row.
type Preview struct {
	MessageID int64  `db:"message_id"`
	URL       string `db:"url"`
	Title     string `db:"title"`
	ImagePath string `db:"image_path"`
}

// TLSFailure records the identity of a certificate that failed
// validation, kept for the user's accept/reject decision.
type TLSFailure struct {
	AccountID         int64  `db:"account_id"`
	Subject           string `db:"subject"`
	Issuer            string `db:"issuer"`
	FingerprintSHA1   string `db:"fingerprint_sha1"`
	FingerprintSHA256 string `db:"fingerprint_sha256"`
	NotValidAfter     int64  `db:"not_valid_after"`
	RecordedAt        int64  `db:"recorded_at"`
}
