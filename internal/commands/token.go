package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an access token",
		Long: `Print a valid OAuth access token to stdout for use with other tools.

The cached token is reused while it has at least a minute left;
otherwise a new one is minted from the stored refresh token or session
credential.

Examples:
  export FXA_BEARER=$(fxa token)
  curl -H "Authorization: Bearer $(fxa token)" ...

Output modes:
  fxa token           # Raw token (default, for shell substitution)
  fxa token --json    # JSON envelope with token in data field`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			acct, err := loadAccount(app)
			if err != nil {
				return err
			}

			ctx, cancel, err := opCtx(cmd, app)
			if err != nil {
				return err
			}
			defer cancel()

			token, err := acct.AccessToken(ctx)
			if err != nil {
				return err
			}

			// A fresh token may have been minted.
			if err := saveAccount(app, acct); err != nil {
				return err
			}

			// Raw output by default so shell substitution works; the
			// envelope only on explicit request.
			if app.Flags.JSON {
				return app.OK(map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
