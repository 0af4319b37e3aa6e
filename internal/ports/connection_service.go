package ports

import (
	"context"

	"github.com/relayport/rdx/internal/domain"
)

type ConnectionService interface {
	// Connect establishes a remote session to the target, blocking until the
	// session is handed off or ctx is cancelled. Expired or revoked
	// credentials surface as domain credential failures.
	Connect(ctx context.Context, target domain.ConnectTarget) error
}
