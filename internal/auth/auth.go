// Package auth verifies the bearer credential presented at websocket
// handshake time. Verification failure is fatal to that connection
// attempt; the transport layer owns any reconnect policy.
package auth

import "errors"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("unknown user")
)

// Identity is the subject carried by a verified credential. The profile
// (display name, email) is resolved separately through the persistence
// gateway; the credential only has to prove who is connecting.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Verifier validates a bearer credential and returns the identity it
// asserts. Implementations must treat an empty token as ErrMissingToken.
type Verifier interface {
	Verify(token string) (*Identity, error)
}
