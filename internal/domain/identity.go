package domain

import "time"

// Identity is the single authenticated principal of the process. It is
// replaced wholesale on reauthorization and never mutated in place.
type Identity struct {
	Subject   string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (i Identity) DisplayName() string {
	if i.Email != "" {
		return i.Email
	}
	return i.Subject
}

// ExpiresWithin reports whether the identity's credential expires before
// now+skew. A zero ExpiresAt means the provider set no expiry.
func (i Identity) ExpiresWithin(now time.Time, skew time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !i.ExpiresAt.After(now.Add(skew))
}

type AuthState string

const (
	AuthStateUnauthenticated AuthState = "unauthenticated"
	AuthStateAuthorizing     AuthState = "authorizing"
	AuthStateAuthorized      AuthState = "authorized"
	AuthStateExpired         AuthState = "expired"
	AuthStateRevoked         AuthState = "revoked"
	AuthStateTerminated      AuthState = "terminated"
)
