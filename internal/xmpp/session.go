// Package xmpp defines the contract consumed from the underlying
// protocol engine. The engine owns the wire codec, TLS and SASL; this
// package only names the operations and events the runtime drives.
package xmpp

// Options carries the transient session properties applied before each
// login attempt.
type Options struct {
	// Resource is the device name bound to the stream.
	Resource string
	// RedirectHost, when non-empty, overrides the account's discovered
	// endpoint (see-other-host style resumption hint).
	RedirectHost string
	// ClientName and ClientVersion are advertised as client metadata.
	ClientName    string
	ClientVersion string
}

// Session is one protocol stream for one account. Login and Disconnect
// submit asynchronous work and return immediately; completion is
// observable only through the event feed.
type Session interface {
	// Login starts the connect/authenticate sequence.
	Login()
	// Disconnect requests stream teardown. force skips the graceful
	// stream closure and must be safe in any state, including on an
	// already disconnected session.
	Disconnect(force bool)
	// Keepalive sends a whitespace ping on the open stream.
	Keepalive()
	// SendPresence re-broadcasts current presence.
	SendPresence()
	// SetClientState toggles the client-state-indication hint
	// (active=false signals the server we are idle/backgrounded).
	SetClientState(active bool)
	// Events returns the session's event feed. The channel is closed
	// when the session is torn down for good.
	Events() <-chan Event
}

// Factory builds protocol sessions. Exactly one session per account is
// created by the lifecycle manager.
type Factory interface {
	NewSession(jid, credential string, opts Options) Session
}
