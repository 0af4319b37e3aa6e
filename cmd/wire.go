package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	authadapter "github.com/relayport/rdx/internal/adapters/auth"
	connectadapter "github.com/relayport/rdx/internal/adapters/connect"
	directorytoml "github.com/relayport/rdx/internal/adapters/directory/toml"
	progressrender "github.com/relayport/rdx/internal/adapters/render/progress"
	statusrender "github.com/relayport/rdx/internal/adapters/render/status"
	chainstore "github.com/relayport/rdx/internal/adapters/secrets/chain"
	"github.com/relayport/rdx/internal/adapters/term"
	"github.com/relayport/rdx/internal/application"
	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
	"github.com/relayport/rdx/internal/ports"
)

type app struct {
	cfg            *viper.Viper
	directory      ports.MachineDirectory
	secretStore    ports.SecretStore
	httpClient     *http.Client
	clock          ports.Clock
	logger         *slog.Logger
	renderMachines func([]domain.Machine) (string, error)
	renderIdentity func(domain.Identity, statusrender.RenderOptions) (string, error)
	now            func() time.Time
}

func wireApp() (*app, error) {
	cfg := viper.New()
	cfg.SetDefault("auth.issuer", "https://auth.relayport.dev")
	cfg.SetDefault("auth.client_id", "rdx-desktop")
	cfg.SetDefault("auth.listen_addr", "127.0.0.1:53682")
	cfg.SetDefault("auth.timeout", 5*time.Minute)
	cfg.SetDefault("broker.url", "https://broker.relayport.dev")
	cfg.SetDefault("log.level", "warn")
	cfg.SetEnvPrefix("RDX")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	directory, err := directorytoml.NewDirectory(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire machine directory: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(filepath.Join(homeDir, ".rdx", "secrets"))
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	return &app{
		cfg:            cfg,
		directory:      directory,
		secretStore:    secretStore,
		httpClient:     http.DefaultClient,
		clock:          ports.SystemClock{},
		logger:         newLogger(cfg.GetString("log.level")),
		renderMachines: statusrender.RenderMachines,
		renderIdentity: statusrender.RenderIdentity,
		now:            time.Now,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func (a *app) newProvider(cmd *cobra.Command, deviceFlow bool) *authadapter.Provider {
	announce := func(message string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), message)
	}
	return authadapter.NewProvider(authadapter.Config{
		Issuer:     a.cfg.GetString("auth.issuer"),
		ClientID:   a.cfg.GetString("auth.client_id"),
		ListenAddr: a.cfg.GetString("auth.listen_addr"),
		Timeout:    a.cfg.GetDuration("auth.timeout"),
		DeviceFlow: deviceFlow,
		Announce:   announce,
	}, a.secretStore, a.httpClient, a.clock, a.logger)
}

// controlStack is the per-command assembly of the control loop collaborators,
// bound to that command's terminal streams.
type controlStack struct {
	provider   *authadapter.Provider
	session    *application.AuthSession
	host       *application.JobHost
	dispatcher *application.ConnectDispatcher
	reporter   *failureRecorder
}

// newControlStack wires the session, gate, job host and dispatcher around the
// given loop. Prompts and failures go to stderr so they stay visible when
// stdout is piped; the progress indicator reads the real terminal because
// cancel keys arrive there even when the command streams are redirected.
func (a *app) newControlStack(cmd *cobra.Command, loop *mainloop.Loop, deviceFlow bool) *controlStack {
	provider := a.newProvider(cmd, deviceFlow)
	prompt := term.NewPrompt(cmd.InOrStdin(), cmd.ErrOrStderr())
	presenter := term.NewPresenter(cmd.OutOrStdout())
	reporter := &failureRecorder{inner: term.NewReporter(cmd.ErrOrStderr())}
	surface := progressrender.NewSurface(os.Stdin, cmd.ErrOrStderr())

	gate := application.NewProgressGate(loop, surface)
	session := application.NewAuthSession(loop, provider, prompt, presenter, a.logger)
	host := application.NewJobHost(loop, gate, session, a.logger)
	connector := connectadapter.NewBroker(connectadapter.Config{
		BrokerURL: a.cfg.GetString("broker.url"),
	}, provider, a.httpClient, a.logger)
	dispatcher := application.NewConnectDispatcher(loop, host, a.directory, connector, reporter, a.logger)

	return &controlStack{
		provider:   provider,
		session:    session,
		host:       host,
		dispatcher: dispatcher,
		reporter:   reporter,
	}
}

// failureRecorder counts reported connection failures so commands can map
// them to a non-zero exit code. The dispatcher reports strictly before it
// closes the done channel, so reading failures after <-done needs no lock.
type failureRecorder struct {
	inner    ports.ErrorReporter
	failures int
}

var _ ports.ErrorReporter = (*failureRecorder)(nil)

func (r *failureRecorder) Report(tk mainloop.Token, label string, err error) {
	r.failures++
	r.inner.Report(tk, label, err)
}
