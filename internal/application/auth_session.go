package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
	"github.com/relayport/rdx/internal/ports"
)

// authorizationScopes is requested on every interactive sign-in.
var authorizationScopes = []string{"openid", "profile", "email", "offline_access", "sessions:connect"}

// AuthSession owns the single authenticated identity of the process and the
// transitions between authorization states. Authorize, Reauthorize and
// Revoke block and must be called off the control loop; callers serialize
// them (the job host and the CLI commands never overlap calls).
type AuthSession struct {
	loop      *mainloop.Loop
	provider  ports.AuthProvider
	prompt    ports.ReauthorizationPrompt
	presenter ports.IdentityPresenter
	logger    *slog.Logger

	mu          sync.RWMutex
	state       domain.AuthState
	identity    domain.Identity
	hasIdentity bool
}

func NewAuthSession(loop *mainloop.Loop, provider ports.AuthProvider, prompt ports.ReauthorizationPrompt, presenter ports.IdentityPresenter, logger *slog.Logger) *AuthSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthSession{
		loop:      loop,
		provider:  provider,
		prompt:    prompt,
		presenter: presenter,
		logger:    logger,
		state:     domain.AuthStateUnauthenticated,
	}
}

// Authorize runs the interactive sign-in flow. On failure or cancellation
// the session keeps its previous state and the error is returned as-is to
// the caller; nothing retries automatically.
func (s *AuthSession) Authorize(ctx context.Context) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}

	prev := s.State()
	s.setState(domain.AuthStateAuthorizing)

	identity, err := s.provider.Authorize(ctx, authorizationScopes)
	if err != nil {
		s.setState(prev)
		return domain.Identity{}, fmt.Errorf("authorize: %w", err)
	}

	s.adopt(identity)
	s.logger.Info("authorized", "subject", identity.Subject)
	return identity, nil
}

// Restore adopts an identity persisted by an earlier process, without any
// provider round-trip. Commands call it at startup so the session reflects
// the credentials already on disk; expiry is dealt with lazily, on the first
// operation that actually needs a usable token.
func (s *AuthSession) Restore(ctx context.Context, identity domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if identity.Subject == "" {
		return fmt.Errorf("restore identity: %w", domain.ErrNotAuthenticated)
	}

	s.adopt(identity)
	s.logger.Debug("identity restored", "subject", identity.Subject)
	return nil
}

// Reauthorize renews the identity: silent refresh first, and only when the
// provider reports the stored grant unusable does the interactive flow run
// again. It never prompts; the explicit user confirmation is the caller's
// step before invoking it.
func (s *AuthSession) Reauthorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prev := s.State()
	s.setState(domain.AuthStateAuthorizing)

	identity, err := s.provider.Refresh(ctx)
	if err == nil {
		s.adopt(identity)
		s.logger.Debug("credentials refreshed", "subject", identity.Subject)
		return nil
	}

	var stale domain.AuthState
	switch {
	case errors.Is(err, domain.ErrCredentialRevoked):
		stale = domain.AuthStateRevoked
	case errors.Is(err, domain.ErrCredentialExpired), errors.Is(err, domain.ErrNotAuthenticated):
		stale = domain.AuthStateExpired
	default:
		// Transient refresh failure: nothing is known to be wrong with the
		// stored grant, so don't drag the user through the browser.
		s.setState(prev)
		return fmt.Errorf("refresh credentials: %w", err)
	}
	s.setState(stale)
	s.logger.Info("silent refresh unavailable", "state", stale, "reason", err)

	s.setState(domain.AuthStateAuthorizing)
	identity, err = s.provider.Authorize(ctx, authorizationScopes)
	if err != nil {
		s.setState(stale)
		return fmt.Errorf("reauthorize: %w", err)
	}

	s.adopt(identity)
	s.logger.Info("reauthorized", "subject", identity.Subject)
	return nil
}

// ConfirmReauthorization presents the modal reauthorization prompt. It runs
// on the control loop; tk must belong to the session's loop.
func (s *AuthSession) ConfirmReauthorization(tk mainloop.Token) (bool, error) {
	if !tk.OnLoop(s.loop) {
		return false, domain.ErrNotOnControlLoop
	}

	email := ""
	if identity, ok := s.CurrentIdentity(); ok {
		email = identity.Email
	}
	return s.prompt.ConfirmReauthorization(tk, email), nil
}

// Revoke invalidates credentials at the provider. The local identity is
// cleared and the presenter reset no matter what the provider says; a remote
// failure is returned for reporting but never blocks the cleanup.
func (s *AuthSession) Revoke(ctx context.Context) error {
	revokeErr := s.provider.Revoke(ctx)

	s.mu.Lock()
	s.identity = domain.Identity{}
	s.hasIdentity = false
	s.state = domain.AuthStateUnauthenticated
	s.mu.Unlock()

	s.presentCleared()

	if revokeErr != nil {
		s.logger.Warn("remote revocation failed", "error", revokeErr)
		return fmt.Errorf("revoke credentials: %w", revokeErr)
	}
	s.logger.Info("credentials revoked")
	return nil
}

// Close marks the session terminated during shutdown. No further
// transitions are meaningful afterwards.
func (s *AuthSession) Close() {
	s.mu.Lock()
	s.identity = domain.Identity{}
	s.hasIdentity = false
	s.state = domain.AuthStateTerminated
	s.mu.Unlock()
}

func (s *AuthSession) CurrentIdentity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.hasIdentity
}

func (s *AuthSession) State() domain.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// adopt installs a fresh identity and pushes it to the presenter before the
// transition is considered complete.
func (s *AuthSession) adopt(identity domain.Identity) {
	s.mu.Lock()
	s.identity = identity
	s.hasIdentity = true
	s.state = domain.AuthStateAuthorized
	s.mu.Unlock()

	if err := s.loop.Call(context.Background(), func(tk mainloop.Token) error {
		s.presenter.ShowIdentity(tk, identity)
		return nil
	}); err != nil {
		s.logger.Warn("identity presenter not updated", "error", err)
	}
}

func (s *AuthSession) presentCleared() {
	if err := s.loop.Call(context.Background(), func(tk mainloop.Token) error {
		s.presenter.ClearIdentity(tk)
		return nil
	}); err != nil {
		s.logger.Warn("identity presenter not cleared", "error", err)
	}
}

func (s *AuthSession) setState(state domain.AuthState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
