package application

import (
	"fmt"
	"sync/atomic"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
	"github.com/relayport/rdx/internal/ports"
)

// ProgressHandle identifies one shown indicator. Whoever shows it passes the
// handle back to Close exactly once; a second Close of the same handle is a
// no-op.
type ProgressHandle struct {
	indicator ports.ProgressIndicator
	job       domain.JobDescription
	closed    bool
}

func (h *ProgressHandle) Job() domain.JobDescription { return h.job }

// ProgressGate enforces the one-visible-indicator rule. Show and Close are
// loop-affine and fail fast when misused; IsActive is the single exception
// and may be called from any goroutine.
type ProgressGate struct {
	loop    *mainloop.Loop
	surface ports.ProgressSurface
	active  atomic.Pointer[ProgressHandle]
}

func NewProgressGate(loop *mainloop.Loop, surface ports.ProgressSurface) *ProgressGate {
	return &ProgressGate{loop: loop, surface: surface}
}

// Show displays the indicator for job. onCancel is handed to the surface and
// fires when the user dismisses the indicator.
func (g *ProgressGate) Show(tk mainloop.Token, job domain.JobDescription, onCancel func()) (*ProgressHandle, error) {
	if !tk.OnLoop(g.loop) {
		return nil, domain.ErrNotOnControlLoop
	}
	if g.active.Load() != nil {
		return nil, domain.ErrProgressActive
	}

	indicator, err := g.surface.ShowIndicator(job.Message, onCancel)
	if err != nil {
		return nil, fmt.Errorf("show indicator: %w", err)
	}

	handle := &ProgressHandle{indicator: indicator, job: job}
	g.active.Store(handle)
	return handle, nil
}

// Close dismisses the indicator behind handle and frees the gate. Closing a
// nil handle, a handle the gate never issued, or a slot that is already
// empty is domain.ErrProgressNotActive.
func (g *ProgressGate) Close(tk mainloop.Token, handle *ProgressHandle) error {
	if !tk.OnLoop(g.loop) {
		return domain.ErrNotOnControlLoop
	}
	if handle == nil {
		return domain.ErrProgressNotActive
	}
	if handle.closed {
		return nil
	}
	if g.active.Load() != handle {
		return domain.ErrProgressNotActive
	}

	handle.closed = true
	g.active.Store(nil)
	if err := handle.indicator.Close(); err != nil {
		return fmt.Errorf("close indicator: %w", err)
	}
	return nil
}

func (g *ProgressGate) IsActive() bool {
	return g.active.Load() != nil
}
