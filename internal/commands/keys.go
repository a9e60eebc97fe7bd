package commands

import (
	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/output"
)

// NewKeysCmd creates the keys command.
func NewKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Derive and print the Sync keys",
		Long: `Derive the Sync encryption key and the key fingerprint from the
stored key material.

The derivation is local and deterministic; it needs no network. Key
material is only present after an OAuth sign-in that requested keys
(the default for 'fxa login oauth').

The printed values are secrets. Treat the output like a password.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			acct, err := loadAccount(app)
			if err != nil {
				return err
			}

			keys, err := acct.SyncKeys()
			if err != nil {
				return err
			}

			return app.OK(map[string]string{
				"sync_key": keys.SyncKey,
				"xcs":      keys.XCS,
			}, output.WithSummary("Sync keys derived"))
		},
	}
}
