package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
)

// errConnectionFailed maps reported connection failures to a non-zero exit
// code. The failure itself is already on stderr by the time this returns, so
// the command silences cobra's own error line to avoid printing it twice.
var errConnectionFailed = errors.New("connection failed")

func newConnectCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <link|machine>",
		Short: "Connect to a machine by deep link or name",
		Long:  "connect resolves an rdp:// deep link (or a bare machine name, which is treated as rdp://<name>) against the machine directory and establishes the session through the broker. Press esc while connecting to abort.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loop := mainloop.New()
			stop := loop.Start()
			defer stop()

			stack := app.newControlStack(cmd, loop, false)
			defer stack.session.Close()

			if identity, err := stack.provider.StoredIdentity(cmd.Context()); err == nil {
				_ = stack.session.Restore(cmd.Context(), identity)
			}

			raw := strings.TrimSpace(args[0])
			if raw != "" && !strings.Contains(raw, "://") {
				raw = domain.LinkScheme + "://" + raw
			}

			<-stack.dispatcher.Dispatch(cmd.Context(), raw)

			if stack.reporter.failures > 0 {
				cmd.SilenceErrors = true
				return errConnectionFailed
			}
			return nil
		},
	}
}
