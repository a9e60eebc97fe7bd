package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mozilla-services/fxa-go/internal/output"
)

// NewLogoutCmd creates the logout command.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		Long: `Remove stored credentials for the configured environment.

A cached access token is revoked upstream on a best-effort basis; the
local credentials are removed either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			origin, err := accountOrigin(app)
			if err != nil {
				return err
			}

			// Revocation is best effort: a dead network must not trap
			// the user in a signed-in state.
			if acct, err := loadAccount(app); err == nil {
				ctx, cancel, err := opCtx(cmd, app)
				if err == nil {
					if err := acct.DestroyAccessToken(ctx); err != nil {
						app.Log.Debug("access token revocation failed", zap.Error(err))
					}
					cancel()
				}
			}

			if err := app.Creds.Delete(origin); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "logged_out",
				"origin": origin,
			}, output.WithSummary("Signed out of "+origin))
		},
	}
}
