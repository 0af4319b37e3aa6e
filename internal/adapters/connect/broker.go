package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/ports"
)

const (
	sessionsPath       = "/v1/sessions"
	userAgent          = "rdx/connect"
	defaultPollEvery   = 500 * time.Millisecond
	releaseTimeout     = 2 * time.Second
	maxResponseBytes   = 1 << 20
	sessionStatusReady = "ready"
	sessionStatusError = "failed"
)

// Broker establishes remote sessions through the relayport session broker.
// It creates a session, then polls until the broker reports it ready. The
// caller's context aborts both phases; an abandoned session is released
// best-effort so the broker does not hold gateway capacity for it.
type Broker struct {
	baseURL   string
	tokens    ports.TokenSource
	client    *http.Client
	logger    *slog.Logger
	pollEvery time.Duration
}

var _ ports.ConnectionService = (*Broker)(nil)

type Config struct {
	BrokerURL string
	PollEvery time.Duration
}

func NewBroker(cfg Config, tokens ports.TokenSource, client *http.Client, logger *slog.Logger) *Broker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = defaultPollEvery
	}

	return &Broker{
		baseURL:   strings.TrimRight(cfg.BrokerURL, "/"),
		tokens:    tokens,
		client:    client,
		logger:    logger,
		pollEvery: cfg.PollEvery,
	}
}

type sessionRequest struct {
	MachineID string `json:"machine_id,omitempty"`
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"`
	Protocol  string `json:"protocol"`
	Username  string `json:"username,omitempty"`
}

type sessionResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Gateway string `json:"gateway_url,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (b *Broker) Connect(ctx context.Context, target domain.ConnectTarget) error {
	if target.Machine.Host == "" {
		return fmt.Errorf("connect target %q has no host", target.Machine.ID)
	}

	token, err := b.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("acquire access token: %w", err)
	}

	session, err := b.createSession(ctx, token, target)
	if err != nil {
		return err
	}

	b.logger.Debug("session created",
		slog.String("session_id", session.ID),
		slog.String("machine", string(target.Machine.ID)),
		slog.String("status", session.Status))

	if session.Status == sessionStatusReady {
		return nil
	}

	if err := b.awaitReady(ctx, token, session.ID); err != nil {
		b.releaseSession(token, session.ID)
		return err
	}

	return nil
}

func (b *Broker) createSession(ctx context.Context, token string, target domain.ConnectTarget) (sessionResponse, error) {
	payload := sessionRequest{
		Host:     target.Machine.Host,
		Port:     target.Machine.Port,
		Protocol: target.Machine.Protocol,
		Username: target.Machine.Username,
	}
	if target.Kind == domain.TargetRich {
		payload.MachineID = string(target.Machine.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return sessionResponse{}, fmt.Errorf("encode session request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+sessionsPath, bytes.NewReader(body))
	if err != nil {
		return sessionResponse{}, fmt.Errorf("create session request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	return b.doSessionRequest(request, token)
}

func (b *Broker) awaitReady(ctx context.Context, token string, sessionID string) error {
	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		session, err := b.fetchSession(ctx, token, sessionID)
		if err != nil {
			return err
		}

		switch session.Status {
		case sessionStatusReady:
			b.logger.Debug("session ready",
				slog.String("session_id", session.ID),
				slog.String("gateway", session.Gateway))
			return nil
		case sessionStatusError:
			if session.Reason == "" {
				session.Reason = "broker reported failure"
			}
			return fmt.Errorf("session %s failed: %s", sessionID, session.Reason)
		}
	}
}

func (b *Broker) fetchSession(ctx context.Context, token string, sessionID string) (sessionResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, b.sessionURL(sessionID), nil)
	if err != nil {
		return sessionResponse{}, fmt.Errorf("create session poll request: %w", err)
	}

	return b.doSessionRequest(request, token)
}

// releaseSession is best-effort cleanup after an aborted wait; the original
// context is usually already cancelled, so it runs on its own deadline.
func (b *Broker) releaseSession(token string, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.sessionURL(sessionID), nil)
	if err != nil {
		return
	}
	authorize(request, token)

	response, err := b.client.Do(request)
	if err != nil {
		b.logger.Debug("release session failed", slog.String("session_id", sessionID), slog.Any("error", err))
		return
	}
	_ = response.Body.Close()
}

func (b *Broker) doSessionRequest(request *http.Request, token string) (sessionResponse, error) {
	authorize(request, token)

	response, err := b.client.Do(request)
	if err != nil {
		return sessionResponse{}, fmt.Errorf("perform broker request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return sessionResponse{}, fmt.Errorf("read broker response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return sessionResponse{}, classifyBrokerStatus(response.StatusCode, body)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return sessionResponse{}, fmt.Errorf("decode broker response: %w", err)
	}
	if session.ID == "" {
		return sessionResponse{}, fmt.Errorf("broker response missing session id")
	}

	return session, nil
}

func classifyBrokerStatus(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: broker status %d: %s", domain.ErrCredentialExpired, status, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: broker status %d: %s", domain.ErrCredentialRevoked, status, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: broker status %d: %s", domain.ErrMachineNotFound, status, detail)
	default:
		return fmt.Errorf("broker status %d: %s", status, detail)
	}
}

func (b *Broker) sessionURL(sessionID string) string {
	return b.baseURL + sessionsPath + "/" + sessionID
}

func authorize(request *http.Request, token string) {
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("User-Agent", userAgent)
}
