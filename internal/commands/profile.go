package commands

import (
	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/output"
	"github.com/mozilla-services/fxa-go/pkg/fxa"
)

// NewProfileCmd creates the profile command.
func NewProfileCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the account profile",
		Long: `Fetch the signed-in user's profile from the profile server.

Responses are cached with the access token state; --refresh bypasses
the cache and asks the server again.`,
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

			var profile *fxa.Profile
			err = withSpinner(app, "Fetching profile...", func() error {
				var err error
				if refresh {
					profile, err = acct.RefreshProfile(ctx)
				} else {
					profile, err = acct.Profile(ctx)
				}
				return err
			})
			if err != nil {
				return err
			}

			// The fetch may have minted a token or updated the cache.
			if err := saveAccount(app, acct); err != nil {
				return err
			}

			data := map[string]any{
				"uid":   profile.UID,
				"email": profile.Email,
			}
			if profile.DisplayName != "" {
				data["display_name"] = profile.DisplayName
			}
			if profile.Avatar != "" {
				data["avatar"] = profile.Avatar
			}

			return app.OK(data, output.WithSummary("Signed in as "+profile.Email))
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cached profile")

	return cmd
}
