package ports

import (
	"context"

	"github.com/relayport/rdx/internal/domain"
)

type MachineDirectory interface {
	// Resolve looks up a machine by the instance name a deep link carries.
	// Misses return domain.ErrMachineNotFound.
	Resolve(ctx context.Context, instance string) (domain.Machine, error)
	List(ctx context.Context) ([]domain.Machine, error)
	Save(ctx context.Context, machine domain.Machine) error
}
