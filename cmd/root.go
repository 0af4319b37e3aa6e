package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rdx",
		Short:         "Relayport desktop client (rdx): connect to remote machines",
		Long:          "rdx connects this device to machines behind the Relayport session broker. It resolves rdp:// deep links against the local machine directory, runs sign-in and reauthorization flows, and reports connection progress in the terminal.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConnectCmd(app),
		newLoginCmd(app),
		newLogoutCmd(app),
		newStatusCmd(app),
		newMachinesCmd(app),
	)

	return rootCmd
}
