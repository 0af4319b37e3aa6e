package ports

import (
	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
)

// ProgressSurface renders the single blocking progress indicator. onCancel
// fires at most once, from the indicator's own goroutine, when the user
// dismisses the indicator.
type ProgressSurface interface {
	ShowIndicator(message string, onCancel func()) (ProgressIndicator, error)
}

type ProgressIndicator interface {
	Close() error
}

// ReauthorizationPrompt asks the user whether to sign in again after a
// credential failure. Loop-affine: it renders on the control loop.
type ReauthorizationPrompt interface {
	ConfirmReauthorization(tk mainloop.Token, email string) bool
}

// IdentityPresenter keeps user-visible identity state (status line, menus)
// in sync with the authorization session.
type IdentityPresenter interface {
	ShowIdentity(tk mainloop.Token, identity domain.Identity)
	ClearIdentity(tk mainloop.Token)
}

type ErrorReporter interface {
	Report(tk mainloop.Token, label string, err error)
}
