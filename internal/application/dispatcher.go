package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
	"github.com/relayport/rdx/internal/ports"
)

// connectFailureLabel is the fixed context string connection failures are
// reported under.
const connectFailureLabel = "Failed to connect"

// ConnectDispatcher turns inbound deep links into connection jobs: resolve
// the instance against the directory, run the connection through the job
// host, and report failures on the control loop. Cancellation is not a
// failure and is never reported.
type ConnectDispatcher struct {
	loop      *mainloop.Loop
	host      *JobHost
	directory ports.MachineDirectory
	connector ports.ConnectionService
	reporter  ports.ErrorReporter
	logger    *slog.Logger
}

func NewConnectDispatcher(loop *mainloop.Loop, host *JobHost, directory ports.MachineDirectory, connector ports.ConnectionService, reporter ports.ErrorReporter, logger *slog.Logger) *ConnectDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectDispatcher{
		loop:      loop,
		host:      host,
		directory: directory,
		connector: connector,
		reporter:  reporter,
		logger:    logger,
	}
}

// Dispatch starts the connection attempt for rawLink and returns without
// blocking. The returned channel closes once the attempt has fully finished,
// including the loop-marshaled failure report, if any.
func (d *ConnectDispatcher) Dispatch(ctx context.Context, rawLink string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.dispatch(ctx, rawLink)
	}()
	return done
}

func (d *ConnectDispatcher) dispatch(ctx context.Context, rawLink string) {
	link, err := domain.ParseLink(rawLink)
	if err != nil {
		d.report(err)
		return
	}

	target := d.resolve(ctx, link)
	job := domain.NewJobDescription(fmt.Sprintf("Connecting to %s…", target.DisplayName()))

	outcome, err := d.host.Run(ctx, job, func(opCtx context.Context) error {
		return d.connector.Connect(opCtx, target)
	})
	d.logger.Info("connection attempt finished",
		"job", job.ID,
		"target", target.DisplayName(),
		"kind", target.Kind,
		"outcome", outcome,
	)

	if outcome == domain.OutcomeFailed && err != nil {
		d.report(err)
	}
}

// resolve maps a link to a target. Directory misses degrade to a bare target
// built from the link alone; directory errors are logged and treated the same
// way so a corrupt machine list never blocks connecting.
func (d *ConnectDispatcher) resolve(ctx context.Context, link domain.DeepLink) domain.ConnectTarget {
	machine, err := d.directory.Resolve(ctx, link.Instance)
	if err != nil {
		if !errors.Is(err, domain.ErrMachineNotFound) {
			d.logger.Warn("directory lookup failed", "instance", link.Instance, "error", err)
		}
		return domain.BareTarget(link)
	}
	return domain.RichTarget(machine)
}

func (d *ConnectDispatcher) report(err error) {
	if callErr := d.loop.Call(context.Background(), func(tk mainloop.Token) error {
		d.reporter.Report(tk, connectFailureLabel, err)
		return nil
	}); callErr != nil {
		d.logger.Error("connection failure not reported", "cause", err, "error", callErr)
	}
}
