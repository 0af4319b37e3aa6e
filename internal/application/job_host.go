package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
)

// retryAfterReauthorize bounds how many times a job is re-run after a
// confirmed reauthorization. A credential failure on the retry itself is
// returned as-is.
const retryAfterReauthorize = 1

// Operation is one unit of cancellable background work. It must honor ctx
// and return ctx.Err() (possibly wrapped) when cancelled.
type Operation func(ctx context.Context) error

// JobHost runs operations off the control loop behind a gated progress
// indicator, and owns the credential-recovery protocol: on a credential
// failure it asks the user once, reauthorizes, and retries the whole job
// exactly once.
type JobHost struct {
	loop    *mainloop.Loop
	gate    *ProgressGate
	session *AuthSession
	logger  *slog.Logger
}

func NewJobHost(loop *mainloop.Loop, gate *ProgressGate, session *AuthSession, logger *slog.Logger) *JobHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHost{loop: loop, gate: gate, session: session, logger: logger}
}

// Run blocks until the job finishes and must not be called from the control
// loop goroutine. Cancellation, whether via the indicator or via ctx, is a
// first-class outcome, not an error: Run returns (OutcomeCancelled, nil).
func (h *JobHost) Run(ctx context.Context, job domain.JobDescription, op Operation) (domain.Outcome, error) {
	for attempt := 0; ; attempt++ {
		outcome, err := h.runOnce(ctx, job, op)
		if outcome != domain.OutcomeFailed || !domain.IsCredentialFailure(err) || attempt >= retryAfterReauthorize {
			h.logger.Debug("job finished", "job", job.ID, "outcome", outcome, "attempt", attempt)
			return outcome, err
		}

		h.logger.Info("job hit credential failure", "job", job.ID, "error", err)
		if recoverErr := h.recoverCredentials(ctx); recoverErr != nil {
			if isCancellation(recoverErr, ctx) {
				return domain.OutcomeCancelled, nil
			}
			return domain.OutcomeFailed, recoverErr
		}
	}
}

func (h *JobHost) runOnce(ctx context.Context, job domain.JobDescription, op Operation) (domain.Outcome, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var handle *ProgressHandle
	if err := h.loop.Call(ctx, func(tk mainloop.Token) error {
		var showErr error
		handle, showErr = h.gate.Show(tk, job, cancel)
		return showErr
	}); err != nil {
		if isCancellation(err, ctx) {
			return domain.OutcomeCancelled, nil
		}
		return domain.OutcomeFailed, err
	}

	opErr := op(opCtx)

	// The indicator comes down before the outcome is classified, so the
	// reauthorization prompt never stacks on a live indicator.
	if err := h.loop.Call(context.Background(), func(tk mainloop.Token) error {
		return h.gate.Close(tk, handle)
	}); err != nil {
		h.logger.Warn("progress indicator not closed", "job", job.ID, "error", err)
	}

	switch {
	case opErr == nil:
		return domain.OutcomeCompleted, nil
	case errors.Is(opErr, context.Canceled) && opCtx.Err() != nil:
		return domain.OutcomeCancelled, nil
	default:
		return domain.OutcomeFailed, opErr
	}
}

// recoverCredentials runs the confirm-then-reauthorize protocol. The user is
// asked exactly once; declining is terminal for the job.
func (h *JobHost) recoverCredentials(ctx context.Context) error {
	var confirmed bool
	if err := h.loop.Call(ctx, func(tk mainloop.Token) error {
		var confirmErr error
		confirmed, confirmErr = h.session.ConfirmReauthorization(tk)
		return confirmErr
	}); err != nil {
		return err
	}
	if !confirmed {
		return domain.ErrReauthorizationDeclined
	}

	if err := h.session.Reauthorize(ctx); err != nil {
		return fmt.Errorf("reauthorize after credential failure: %w", err)
	}
	return nil
}

func isCancellation(err error, ctx context.Context) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() != nil
}
