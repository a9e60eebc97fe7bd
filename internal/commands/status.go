package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mozilla-services/fxa-go/internal/output"
	"github.com/mozilla-services/fxa-go/pkg/fxa"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long: `Display the stored credential state for the configured environment.

With a session credential the verification state is re-checked against
the auth server; --offline skips that and reports only local state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			origin, err := accountOrigin(app)
			if err != nil {
				return err
			}

			acct, err := loadAccount(app)
			if err != nil {
				// Signed out is a status, not a failure.
				if oe := output.AsError(err); oe.Code == output.CodeAuth {
					return app.OK(map[string]any{
						"authenticated": false,
						"origin":        origin,
					}, output.WithSummary("Not signed in"))
				}
				return err
			}

			st := acct.Status()

			if !offline && st.Mode == fxa.AuthModeSession {
				ctx, cancel, err := opCtx(cmd, app)
				if err != nil {
					return err
				}
				// Best effort: local state still answers when the
				// server does not.
				es, serr := acct.RecoveryEmailStatus(ctx)
				cancel()
				if serr != nil {
					app.Log.Debug("recovery email status check failed", zap.Error(serr))
				} else {
					st.Email = es.Email
					st.Verified = es.Verified
					if err := saveAccount(app, acct); err != nil {
						return err
					}
				}
			}

			data := map[string]any{
				"authenticated": true,
				"origin":        origin,
				"mode":          string(st.Mode),
				"email":         st.Email,
				"uid":           st.UID,
				"verified":      st.Verified,
				"has_keys":      st.HasKeys,
			}
			if st.HasAccessToken {
				data["access_token_scope"] = st.AccessTokenScope
				if !st.AccessTokenExpiresAt.IsZero() {
					expiresIn := time.Until(st.AccessTokenExpiresAt)
					data["access_token_expires_in"] = expiresIn.Round(time.Second).String()
					data["access_token_expired"] = expiresIn < 0
				}
			}
			if !st.LastRefreshedAt.IsZero() {
				data["last_refreshed_at"] = st.LastRefreshedAt.UTC().Format(time.RFC3339)
			}

			summary := fmt.Sprintf("Signed in as %s (%s)", st.Email, st.Mode)
			if st.Email == "" {
				summary = fmt.Sprintf("Signed in (%s)", st.Mode)
			}
			return app.OK(data, output.WithSummary(summary))
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Report local state only, no server check")

	return cmd
}
