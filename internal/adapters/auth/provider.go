package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/ports"
)

const (
	authorizePath  = "/oauth2/authorize"
	tokenPath      = "/oauth2/token"
	deviceAuthPath = "/oauth2/device_authorization"
	revokePath     = "/oauth2/revoke"

	// accessTokenSkew keeps a token from being handed out right before it
	// dies mid-request.
	accessTokenSkew = 30 * time.Second

	defaultFlowTimeout = 5 * time.Minute
)

var (
	_ ports.AuthProvider = (*Provider)(nil)
	_ ports.TokenSource  = (*Provider)(nil)
)

type Config struct {
	Issuer     string
	ClientID   string
	ListenAddr string
	// Timeout bounds how long an interactive flow waits for the user.
	Timeout time.Duration
	// DeviceFlow switches interactive sign-in from the browser-callback
	// flow to the RFC 8628 device flow.
	DeviceFlow bool
	// Announce tells the user what to do next (URL to open, device code).
	Announce func(message string)
}

// Provider implements sign-in, silent refresh and revocation against an
// OAuth issuer, persisting the token record in the secret store between
// runs.
type Provider struct {
	cfg    Config
	store  ports.SecretStore
	client *http.Client
	clock  ports.Clock
	logger *slog.Logger
}

func NewProvider(cfg Config, store ports.SecretStore, client *http.Client, clock ports.Clock, logger *slog.Logger) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFlowTimeout
	}
	if cfg.Announce == nil {
		announceLogger := logger
		cfg.Announce = func(message string) { announceLogger.Info(message) }
	}

	return &Provider{cfg: cfg, store: store, client: client, clock: clock, logger: logger}
}

func (p *Provider) Authorize(ctx context.Context, scopes []string) (domain.Identity, error) {
	if p.cfg.DeviceFlow {
		return p.authorizeDevice(ctx, scopes)
	}
	return p.authorizeBrowser(ctx, scopes)
}

func (p *Provider) authorizeBrowser(ctx context.Context, scopes []string) (domain.Identity, error) {
	state, err := newState()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("generate oauth state: %w", err)
	}

	server, err := StartCallbackServer(p.cfg.ListenAddr, state)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("start callback server: %w", err)
	}
	defer func() { _ = server.Close() }()

	verifier := oauth2.GenerateVerifier()
	cfg := p.oauthConfig(server.RedirectURI(), scopes)
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	p.cfg.Announce("Open this URL to sign in:\n" + authURL)

	code, err := server.Wait(ctx, p.cfg.Timeout)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("wait for oauth callback: %w", err)
	}

	token, err := cfg.Exchange(p.httpContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	return p.adopt(ctx, token, "")
}

func (p *Provider) authorizeDevice(ctx context.Context, scopes []string) (domain.Identity, error) {
	cfg := p.oauthConfig("", scopes)
	httpCtx := p.httpContext(ctx)

	deviceAuth, err := cfg.DeviceAuth(httpCtx, oauth2.AccessTypeOffline)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("request device code: %w", err)
	}

	verification := deviceAuth.VerificationURIComplete
	if verification == "" {
		verification = deviceAuth.VerificationURI
	}
	p.cfg.Announce(fmt.Sprintf("Visit %s and enter code %s to sign in.", verification, deviceAuth.UserCode))

	token, err := cfg.DeviceAccessToken(httpCtx, deviceAuth)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("wait for device authorization: %w", err)
	}

	return p.adopt(ctx, token, "")
}

func (p *Provider) Refresh(ctx context.Context) (domain.Identity, error) {
	rec, err := p.loadRecord(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if rec.RefreshToken == "" {
		return domain.Identity{}, fmt.Errorf("no refresh token stored: %w", domain.ErrCredentialExpired)
	}

	cfg := p.oauthConfig("", nil)
	token, err := cfg.TokenSource(p.httpContext(ctx), &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			// The stored grant is dead; keeping it around would make every
			// future refresh fail the same way.
			if delErr := p.store.Delete(ctx, tokenSecretKey); delErr != nil && !errors.Is(delErr, domain.ErrSecretNotFound) {
				p.logger.Warn("stored tokens not deleted", "error", delErr)
			}
			return domain.Identity{}, fmt.Errorf("refresh grant rejected: %w", domain.ErrCredentialRevoked)
		}
		return domain.Identity{}, fmt.Errorf("refresh tokens: %w", err)
	}

	return p.adopt(ctx, token, rec.IDToken)
}

// Revoke invalidates the stored grant at the issuer and always wipes the
// local record, even when the endpoint is unreachable.
func (p *Provider) Revoke(ctx context.Context) error {
	rec, err := p.loadRecord(ctx)
	if errors.Is(err, domain.ErrNotAuthenticated) {
		return nil
	}
	if err != nil {
		return err
	}

	revokeErr := p.revokeRemote(ctx, rec)
	if delErr := p.store.Delete(ctx, tokenSecretKey); delErr != nil && !errors.Is(delErr, domain.ErrSecretNotFound) {
		revokeErr = errors.Join(revokeErr, fmt.Errorf("delete stored tokens: %w", delErr))
	}
	return revokeErr
}

func (p *Provider) revokeRemote(ctx context.Context, rec tokenRecord) error {
	token, hint := rec.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = rec.AccessToken, "access_token"
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", hint)
	form.Set("client_id", p.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(revokePath), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// AccessToken returns the stored access token without renewing it. Tokens
// about to expire surface as a credential failure so the job host's
// reauthorization protocol stays in charge of renewal.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	rec, err := p.loadRecord(ctx)
	if err != nil {
		return "", err
	}
	if rec.expiringSoon(p.clock.Now(), accessTokenSkew) {
		return "", fmt.Errorf("access token expires at %s: %w", rec.expiry().Format(time.RFC3339), domain.ErrCredentialExpired)
	}
	return rec.AccessToken, nil
}

// StoredIdentity rebuilds the identity from persisted tokens without
// network traffic. Fresh processes use it to pick up a prior sign-in.
func (p *Provider) StoredIdentity(ctx context.Context) (domain.Identity, error) {
	rec, err := p.loadRecord(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	return identityFromRecord(rec)
}

func (p *Provider) loadRecord(ctx context.Context) (tokenRecord, error) {
	secretValue, err := p.store.Get(ctx, tokenSecretKey)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return tokenRecord{}, fmt.Errorf("no stored credentials: %w", domain.ErrNotAuthenticated)
		}
		return tokenRecord{}, fmt.Errorf("load stored tokens: %w", err)
	}
	return decodeTokenRecord(secretValue)
}

func (p *Provider) adopt(ctx context.Context, token *oauth2.Token, previousIDToken string) (domain.Identity, error) {
	rec := recordFromToken(token, previousIDToken)
	identity, err := identityFromRecord(rec)
	if err != nil {
		return domain.Identity{}, err
	}

	secretValue, err := rec.encode()
	if err != nil {
		return domain.Identity{}, err
	}
	if err := p.store.Put(ctx, tokenSecretKey, secretValue); err != nil {
		return domain.Identity{}, fmt.Errorf("persist tokens: %w", err)
	}

	p.logger.Debug("tokens persisted", "subject", identity.Subject, "expires_at", identity.ExpiresAt)
	return identity, nil
}

func (p *Provider) oauthConfig(redirectURI string, scopes []string) oauth2.Config {
	return oauth2.Config{
		ClientID:    p.cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       p.endpoint(authorizePath),
			TokenURL:      p.endpoint(tokenPath),
			DeviceAuthURL: p.endpoint(deviceAuthPath),
		},
	}
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.Issuer, "/") + path
}

// httpContext routes oauth2's internal HTTP through the provider's client.
func (p *Provider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}
