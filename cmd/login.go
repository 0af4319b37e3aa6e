package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayport/rdx/internal/mainloop"
)

func newLoginCmd(app *app) *cobra.Command {
	var device bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and authorize this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loop := mainloop.New()
			stop := loop.Start()
			defer stop()

			stack := app.newControlStack(cmd, loop, device)
			defer stack.session.Close()

			if _, err := stack.session.Authorize(cmd.Context()); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&device, "device", false, "Use the device-code flow instead of the local browser callback")

	return cmd
}
