package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayport/rdx/internal/mainloop"
)

func newLogoutCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and revoke stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loop := mainloop.New()
			stop := loop.Start()
			defer stop()

			stack := app.newControlStack(cmd, loop, false)
			defer stack.session.Close()

			if err := stack.session.Revoke(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			return nil
		},
	}
}
