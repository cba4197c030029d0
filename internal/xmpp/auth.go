package xmpp

// AuthErrorKind classifies SASL failures.
type AuthErrorKind string

const (
	AuthAborted         AuthErrorKind = "aborted"
	AuthTemporary       AuthErrorKind = "temporary-auth-failure"
	AuthNotAuthorized   AuthErrorKind = "not-authorized"
	AuthCredExpired     AuthErrorKind = "credentials-expired"
	AuthAccountDisabled AuthErrorKind = "account-disabled"
	AuthMechanismWeak   AuthErrorKind = "mechanism-too-weak"
)

// Fatal reports whether this failure should deactivate the account.
// Aborted and temporary failures are transient server conditions and
// stay retryable; everything else means the credentials themselves are
// no good until the user intervenes.
func (k AuthErrorKind) Fatal() bool {
	switch k {
	case AuthAborted, AuthTemporary:
		return false
	}
	return true
}
