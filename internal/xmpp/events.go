package xmpp

// Event is a typed session event emitted by the protocol engine.
// The concrete types below are the only ones delivered.
type Event interface {
	sessionEvent()
}

// Connected fires once the transport is up, before authentication
// completes.
type Connected struct{}

// Disconnected fires when the stream goes down for any reason.
type Disconnected struct {
	// Clean is true for a server-acknowledged stream closure.
	Clean bool
	// RedirectHost carries a see-other-host hint when the server asked
	// us to reconnect elsewhere.
	RedirectHost string
}

// CertIdentity describes the certificate that failed validation.
type CertIdentity struct {
	Subject           string
	Issuer            string
	FingerprintSHA1   string
	FingerprintSHA256 string
	NotValidAfter     int64
}

// CertError fires when server certificate validation fails.
type CertError struct {
	Identity CertIdentity
}

// AuthFailed fires when SASL authentication is rejected.
type AuthFailed struct {
	Kind AuthErrorKind
}

// SessionEstablished fires when a fresh session is fully negotiated.
type SessionEstablished struct{}

// StreamResumed fires when a prior stream was resumed instead of a
// fresh session being established.
type StreamResumed struct{}

// ServerFeatures reports the feature set advertised by the server.
type ServerFeatures struct {
	Features []string
}

// MessageReceived carries one inbound chat item.
type MessageReceived struct {
	Peer        string
	Author      string
	AuthorNick  string
	StanzaID    string
	ItemType    string
	Body        string
	Timestamp   int64 // unix ms
	Encrypted   bool
	Fingerprint string
}

// ReceiptKind classifies a delivery report.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
	ReceiptError     ReceiptKind = "error"
)

// ReceiptReceived reports the fate of a previously sent stanza.
type ReceiptReceived struct {
	Peer      string
	StanzaID  string
	Kind      ReceiptKind
	Timestamp int64 // unix ms
	ErrorText string
}

func (Connected) sessionEvent()          {}
func (Disconnected) sessionEvent()       {}
func (CertError) sessionEvent()          {}
func (AuthFailed) sessionEvent()         {}
func (SessionEstablished) sessionEvent() {}
func (StreamResumed) sessionEvent()      {}
func (ServerFeatures) sessionEvent()     {}
func (MessageReceived) sessionEvent()    {}
func (ReceiptReceived) sessionEvent()    {}
