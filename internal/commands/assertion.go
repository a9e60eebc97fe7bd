package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/output"
)

// NewAssertionCmd creates the assertion command.
func NewAssertionCmd() *cobra.Command {
	var audience string

	cmd := &cobra.Command{
		Use:   "assertion",
		Short: "Mint a BrowserID assertion",
		Long: `Mint a BrowserID assertion for the given audience.

Requires a session credential (password sign-in). The audience defaults
to the Sync token server's origin, which is what 'fxa token' consumers
like the token server expect.

The assertion is a bearer credential for its audience. Treat the
output like a password.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			acct, err := loadAccount(app)
			if err != nil {
				return err
			}

			if audience == "" {
				audience, err = originOf(acct.TokenServerEndpointURL())
				if err != nil {
					return output.ErrUsageHint(
						"No audience given and no token server configured",
						"Pass --audience explicitly",
					)
				}
			}

			ctx, cancel, err := opCtx(cmd, app)
			if err != nil {
				return err
			}
			defer cancel()

			var assertion string
			err = withSpinner(app, "Minting assertion...", func() error {
				var err error
				assertion, err = acct.Assertion(ctx, audience)
				return err
			})
			if err != nil {
				return err
			}

			if app.Flags.JSON {
				return app.OK(map[string]string{
					"audience":  audience,
					"assertion": assertion,
				})
			}

			// Raw output for shell substitution.
			fmt.Fprintln(cmd.OutOrStdout(), assertion)
			return nil
		},
	}

	cmd.Flags().StringVar(&audience, "audience", "", "Assertion audience (defaults to the token server origin)")

	return cmd
}

// originOf reduces a URL to its scheme://host origin.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %q", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
