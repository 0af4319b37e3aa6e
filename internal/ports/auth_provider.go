package ports

import (
	"context"

	"github.com/relayport/rdx/internal/domain"
)

type AuthProvider interface {
	// Authorize runs the interactive sign-in flow and returns the resulting
	// identity. User-cancelled flows return a context.Canceled error.
	Authorize(ctx context.Context, scopes []string) (domain.Identity, error)
	// Refresh renews credentials without user interaction. It returns
	// domain.ErrCredentialRevoked when the provider no longer accepts the
	// stored grant.
	Refresh(ctx context.Context) (domain.Identity, error)
	// Revoke invalidates credentials at the provider and wipes them locally.
	Revoke(ctx context.Context) error
}

// TokenSource hands out the currently stored access token without renewing
// it. Callers that hit an expired-token response surface it as a credential
// failure instead of refreshing behind the job host's back.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
