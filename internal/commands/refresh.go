package commands

import (
	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/output"
)

// NewRefreshCmd creates the refresh command.
func NewRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token",
		Long: `Force a renewal of the cached access token.

OAuth sign-ins use the refresh grant; password sign-ins mint a fresh
token from the session credential.`,
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

			if err := withSpinner(app, "Renewing access token...", func() error {
				return acct.RefreshAccessToken(ctx)
			}); err != nil {
				return err
			}

			if err := saveAccount(app, acct); err != nil {
				return err
			}

			st := acct.Status()
			data := map[string]any{
				"status": "refreshed",
				"scope":  st.AccessTokenScope,
			}
			if !st.AccessTokenExpiresAt.IsZero() {
				data["expires_at"] = st.AccessTokenExpiresAt.UTC()
			}
			return app.OK(data, output.WithSummary("Access token renewed"))
		},
	}
}
