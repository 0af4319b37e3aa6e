package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relayport/rdx/internal/domain"
)

// identityFromRecord derives the process identity from stored tokens. The id
// token is only inspected locally; the session broker re-validates it
// server-side, so no signature check happens here.
func identityFromRecord(rec tokenRecord) (domain.Identity, error) {
	if rec.IDToken == "" {
		return domain.Identity{}, fmt.Errorf("token record has no id token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rec.IDToken, claims); err != nil {
		return domain.Identity{}, fmt.Errorf("parse id token: %w", err)
	}

	identity := domain.Identity{ExpiresAt: rec.expiry()}
	if sub, err := claims.GetSubject(); err == nil {
		identity.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	if identity.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			identity.ExpiresAt = exp.Time
		}
	}

	if identity.Subject == "" {
		return domain.Identity{}, fmt.Errorf("id token missing subject")
	}
	return identity, nil
}
