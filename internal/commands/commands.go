// Package commands implements the CLI commands.
package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/appctx"
	"github.com/mozilla-services/fxa-go/internal/credstore"
	"github.com/mozilla-services/fxa-go/internal/output"
	"github.com/mozilla-services/fxa-go/pkg/fxa"
)

// requireApp pulls the app from the command context. It is only nil
// when a RunE executes without the root's PersistentPreRunE, which is
// a wiring bug.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// accountOrigin is the credential-store key for the selected
// environment: the content server origin, which names the account
// system as a whole.
func accountOrigin(app *appctx.App) (string, error) {
	fc, err := app.Config.AccountConfig()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(fc.ContentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", output.ErrUsage("Invalid content server URL: " + fc.ContentURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// newAccount builds a fresh, signed-out account handle for the
// configured environment.
func newAccount(app *appctx.App) (*fxa.Account, error) {
	fc, err := app.Config.AccountConfig()
	if err != nil {
		return nil, err
	}
	return fxa.NewAccount(fc, fxa.WithLogger(app.Log))
}

// loadAccount restores the stored account for the configured
// environment. A missing entry is an auth error: every caller needs a
// signed-in account.
func loadAccount(app *appctx.App) (*fxa.Account, error) {
	fc, err := app.Config.AccountConfig()
	if err != nil {
		return nil, err
	}
	origin, err := accountOrigin(app)
	if err != nil {
		return nil, err
	}
	state, err := app.Creds.Load(origin)
	if err != nil {
		if err == credstore.ErrNotFound {
			return nil, output.ErrAuth("Not signed in to " + origin)
		}
		return nil, err
	}
	return fxa.FromCredentials(fc, state, fxa.WithLogger(app.Log))
}

// saveAccount persists the account's current state. Commands call it
// after any operation that may have minted or refreshed tokens.
func saveAccount(app *appctx.App, acct *fxa.Account) error {
	origin, err := accountOrigin(app)
	if err != nil {
		return err
	}
	state, err := acct.Credentials()
	if err != nil {
		return err
	}
	return app.Creds.Save(origin, state)
}

// opCtx bounds one command's network work with the configured timeout.
func opCtx(cmd *cobra.Command, app *appctx.App) (context.Context, context.CancelFunc, error) {
	d, err := app.Config.TimeoutDuration()
	if err != nil {
		return nil, nil, output.ErrUsage(err.Error())
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), d)
	return ctx, cancel, nil
}

// withSpinner runs fn behind a terminal spinner. In machine-output
// modes or without a TTY it just runs fn.
func withSpinner(app *appctx.App, message string, fn func() error) error {
	if !app.IsInteractive() {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()
	return fn()
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists. Try rename first to
	// preserve the old file on unrelated errors; only remove+retry on failure.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	} else { //nolint:revive // else-with-return kept for clarity of the two-branch pattern
		return err
	}
}
