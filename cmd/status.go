package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	statusrender "github.com/relayport/rdx/internal/adapters/render/status"
	"github.com/relayport/rdx/internal/domain"
)

func newStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider := app.newProvider(cmd, false)

			identity, err := provider.StoredIdentity(cmd.Context())
			if err != nil && !errors.Is(err, domain.ErrNotAuthenticated) {
				return fmt.Errorf("load stored identity: %w", err)
			}

			if asJSON {
				return writeIdentityJSON(cmd, identity)
			}

			rendered, err := app.renderIdentity(identity, statusrender.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render session status: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

type identityPayload struct {
	SignedIn  bool       `json:"signed_in"`
	Subject   string     `json:"subject,omitempty"`
	Email     string     `json:"email,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func writeIdentityJSON(cmd *cobra.Command, identity domain.Identity) error {
	payload := identityPayload{SignedIn: identity.Subject != ""}
	if payload.SignedIn {
		payload.Subject = identity.Subject
		payload.Email = identity.Email
		if !identity.IssuedAt.IsZero() {
			payload.IssuedAt = &identity.IssuedAt
		}
		if !identity.ExpiresAt.IsZero() {
			payload.ExpiresAt = &identity.ExpiresAt
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
