package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
	"github.com/relayport/rdx/internal/ports"
)

var (
	_ ports.ProgressSurface       = (*fakeSurface)(nil)
	_ ports.ProgressIndicator     = (*fakeIndicator)(nil)
	_ ports.AuthProvider          = (*fakeProvider)(nil)
	_ ports.ReauthorizationPrompt = (*fakePrompt)(nil)
	_ ports.IdentityPresenter     = (*fakePresenter)(nil)
	_ ports.ErrorReporter         = (*fakeReporter)(nil)
	_ ports.MachineDirectory      = (*fakeDirectory)(nil)
	_ ports.ConnectionService     = (*fakeConnector)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSurface struct {
	mu         sync.Mutex
	showErr    error
	indicators []*fakeIndicator
}

func (s *fakeSurface) ShowIndicator(message string, onCancel func()) (ports.ProgressIndicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.showErr != nil {
		return nil, s.showErr
	}
	ind := &fakeIndicator{message: message, onCancel: onCancel}
	s.indicators = append(s.indicators, ind)
	return ind, nil
}

func (s *fakeSurface) shown() []*fakeIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeIndicator(nil), s.indicators...)
}

func (s *fakeSurface) last() *fakeIndicator {
	all := s.shown()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type fakeIndicator struct {
	mu       sync.Mutex
	message  string
	onCancel func()
	closeErr error
	closes   int
}

func (i *fakeIndicator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closes++
	return i.closeErr
}

func (i *fakeIndicator) closed() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closes
}

// cancel simulates the user dismissing the indicator.
func (i *fakeIndicator) cancel() { i.onCancel() }

type fakeProvider struct {
	mu          sync.Mutex
	authorizeFn func(ctx context.Context, scopes []string) (domain.Identity, error)
	refreshFn   func(ctx context.Context) (domain.Identity, error)
	revokeFn    func(ctx context.Context) error

	authorizeCalls int
	refreshCalls   int
	revokeCalls    int
	lastScopes     []string
}

func (p *fakeProvider) Authorize(ctx context.Context, scopes []string) (domain.Identity, error) {
	p.mu.Lock()
	p.authorizeCalls++
	p.lastScopes = append([]string(nil), scopes...)
	fn := p.authorizeFn
	p.mu.Unlock()
	if fn == nil {
		return domain.Identity{Subject: "usr_fake"}, nil
	}
	return fn(ctx, scopes)
}

func (p *fakeProvider) Refresh(ctx context.Context) (domain.Identity, error) {
	p.mu.Lock()
	p.refreshCalls++
	fn := p.refreshFn
	p.mu.Unlock()
	if fn == nil {
		return domain.Identity{Subject: "usr_fake"}, nil
	}
	return fn(ctx)
}

func (p *fakeProvider) Revoke(ctx context.Context) error {
	p.mu.Lock()
	p.revokeCalls++
	fn := p.revokeFn
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (p *fakeProvider) calls() (authorize, refresh, revoke int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorizeCalls, p.refreshCalls, p.revokeCalls
}

type fakePrompt struct {
	mu     sync.Mutex
	answer bool
	calls  int
	emails []string
}

func (p *fakePrompt) ConfirmReauthorization(_ mainloop.Token, email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.emails = append(p.emails, email)
	return p.answer
}

func (p *fakePrompt) asked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakePresenter struct {
	mu     sync.Mutex
	shown  []domain.Identity
	clears int
}

func (p *fakePresenter) ShowIdentity(_ mainloop.Token, identity domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, identity)
}

func (p *fakePresenter) ClearIdentity(_ mainloop.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
}

func (p *fakePresenter) snapshot() ([]domain.Identity, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Identity(nil), p.shown...), p.clears
}

type report struct {
	label  string
	err    error
	onLoop bool
}

type fakeReporter struct {
	loop *mainloop.Loop

	mu      sync.Mutex
	reports []report
}

func (r *fakeReporter) Report(tk mainloop.Token, label string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{label: label, err: err, onLoop: tk.OnLoop(r.loop)})
}

func (r *fakeReporter) reported() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

type fakeDirectory struct {
	mu         sync.Mutex
	machines   map[string]domain.Machine
	resolveErr error
	saved      []domain.Machine
}

func (d *fakeDirectory) Resolve(_ context.Context, instance string) (domain.Machine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolveErr != nil {
		return domain.Machine{}, d.resolveErr
	}
	m, ok := d.machines[instance]
	if !ok {
		return domain.Machine{}, domain.ErrMachineNotFound
	}
	return m, nil
}

func (d *fakeDirectory) List(context.Context) ([]domain.Machine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Machine, 0, len(d.machines))
	for _, m := range d.machines {
		out = append(out, m)
	}
	return out, nil
}

func (d *fakeDirectory) Save(_ context.Context, m domain.Machine) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = append(d.saved, m)
	return nil
}

type fakeConnector struct {
	mu        sync.Mutex
	connectFn func(ctx context.Context, target domain.ConnectTarget) error
	targets   []domain.ConnectTarget
}

func (c *fakeConnector) Connect(ctx context.Context, target domain.ConnectTarget) error {
	c.mu.Lock()
	c.targets = append(c.targets, target)
	fn := c.connectFn
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, target)
}

func (c *fakeConnector) connected() []domain.ConnectTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ConnectTarget(nil), c.targets...)
}

// env wires a live loop with fake collaborators for host-level tests.
type env struct {
	loop      *mainloop.Loop
	surface   *fakeSurface
	provider  *fakeProvider
	prompt    *fakePrompt
	presenter *fakePresenter
	gate      *ProgressGate
	session   *AuthSession
	host      *JobHost
}

func newEnv(t *testing.T) *env {
	t.Helper()

	loop := mainloop.New()
	t.Cleanup(loop.Start())

	e := &env{
		loop:      loop,
		surface:   &fakeSurface{},
		provider:  &fakeProvider{},
		prompt:    &fakePrompt{},
		presenter: &fakePresenter{},
	}
	e.gate = NewProgressGate(loop, e.surface)
	e.session = NewAuthSession(loop, e.provider, e.prompt, e.presenter, testLogger())
	e.host = NewJobHost(loop, e.gate, e.session, testLogger())
	return e
}

// onLoop runs fn on the env's loop and waits for it.
func (e *env) onLoop(t *testing.T, fn func(tk mainloop.Token) error) error {
	t.Helper()
	return e.loop.Call(context.Background(), fn)
}
