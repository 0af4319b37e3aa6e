package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayport/rdx/internal/domain"
)

func newMachinesCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "Manage the machine directory",
	}

	cmd.AddCommand(newMachinesListCmd(app), newMachinesAddCmd(app))

	return cmd
}

func newMachinesListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List machines in the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			machines, err := app.directory.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list machines: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(machines)
			}

			rendered, err := app.renderMachines(machines)
			if err != nil {
				return fmt.Errorf("render machines: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newMachinesAddCmd(app *app) *cobra.Command {
	var (
		id       string
		name     string
		host     string
		port     int
		protocol string
		username string
		group    string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a machine in the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine := domain.Machine{
				ID:       domain.MachineID(id),
				Name:     name,
				Host:     host,
				Port:     port,
				Protocol: protocol,
				Username: username,
				Group:    group,
			}
			if err := app.directory.Save(cmd.Context(), machine); err != nil {
				return fmt.Errorf("save machine: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved machine %s (%s)\n", machine.DisplayName(), machine.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Machine identifier, matched case-insensitively by deep links")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable display name")
	cmd.Flags().StringVar(&host, "host", "", "Hostname or IP address to connect to")
	cmd.Flags().IntVar(&port, "port", 0, "Port (0 uses the protocol default)")
	cmd.Flags().StringVar(&protocol, "protocol", domain.LinkScheme, "Session protocol")
	cmd.Flags().StringVar(&username, "username", "", "Username presented to the remote machine")
	cmd.Flags().StringVar(&group, "group", "", "Directory group used for list ordering")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("host")

	return cmd
}
