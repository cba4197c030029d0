package xmpp

import "testing"

func TestAuthErrorFatality(t *testing.T) {
	tests := []struct {
		kind  AuthErrorKind
		fatal bool
	}{
		{AuthAborted, false},
		{AuthTemporary, false},
		{AuthNotAuthorized, true},
		{AuthCredExpired, true},
		{AuthAccountDisabled, true},
		{AuthMechanismWeak, true},
		{AuthErrorKind("something-new"), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Fatal(); got != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}
