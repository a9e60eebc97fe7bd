package commands

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mozilla-services/fxa-go/internal/config"
	"github.com/mozilla-services/fxa-go/internal/hostutil"
	"github.com/mozilla-services/fxa-go/internal/output"
	"github.com/mozilla-services/fxa-go/pkg/fxa"
)

// loginWait bounds how long login waits for the user to finish in the
// browser. Separate from the per-request timeout, which is far too
// short for a human.
const loginWait = 5 * time.Minute

// defaultCallbackRedirect is the loopback redirect used by --listen
// when the configured redirect URI is not itself a loopback URL.
const defaultCallbackRedirect = "http://127.0.0.1:8976/callback"

// NewLoginCmd creates the login command group.
func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the account server",
		Long:  "Sign in with the browser-based OAuth flow or directly with email and password.",
	}

	cmd.AddCommand(
		newLoginOAuthCmd(),
		newLoginPasswordCmd(),
	)

	return cmd
}

func newLoginOAuthCmd() *cobra.Command {
	var (
		scopesFlag  string
		noKeys      bool
		redirectURI string
		listen      bool
		noBrowser   bool
	)

	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Sign in through the browser",
		Long: `Run the authorization-code flow against the account server.

By default the command prints the authorization URL and waits for you
to paste the redirect back. Pass --listen to serve the redirect on a
local loopback port instead; the browser then completes the flow
without any copying.

Unless --no-keys is given the flow also requests the encrypted Sync
key material, which 'fxa keys' derives into usable keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			scopes := app.Config.Scopes
			if scopesFlag != "" {
				scopes = config.SplitScopes(scopesFlag)
			}

			redirect := redirectURI
			if redirect == "" {
				redirect = app.Config.RedirectURI
			}
			if listen {
				redirect = listenRedirect(redirect)
			}

			acct, err := newAccount(app)
			if err != nil {
				return err
			}

			authURL, err := acct.BeginOAuthFlow(redirect, scopes, !noKeys)
			if err != nil {
				return err
			}

			var code, state string
			if listen {
				code, state, err = waitForCallback(cmd.Context(), authURL, redirect, noBrowser)
			} else {
				code, state, err = promptForRedirect(cmd, authURL)
			}
			if err != nil {
				return err
			}

			ctx, cancel, err := opCtx(cmd, app)
			if err != nil {
				return err
			}
			defer cancel()

			var info *fxa.OAuthInfo
			err = withSpinner(app, "Exchanging authorization code...", func() error {
				var err error
				info, err = acct.CompleteOAuthFlow(ctx, code, state)
				return err
			})
			if err != nil {
				return err
			}

			// Best effort: resolve who just signed in. The tokens are
			// already good even if the profile server is not reachable.
			profile, perr := acct.Profile(ctx)

			if err := saveAccount(app, acct); err != nil {
				return err
			}

			data := map[string]any{
				"scopes":   info.Scope,
				"has_keys": info.KeysJWE != "",
			}
			summary := "Signed in"
			if perr == nil {
				data["email"] = profile.Email
				data["uid"] = profile.UID
				summary = "Signed in as " + profile.Email
			}
			return app.OK(data, output.WithSummary(summary))
		},
	}

	cmd.Flags().StringVar(&scopesFlag, "scopes", "", "OAuth scopes to request (comma separated, defaults to config)")
	cmd.Flags().BoolVar(&noKeys, "no-keys", false, "Don't request encrypted key material")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Redirect URI override")
	cmd.Flags().BoolVar(&listen, "listen", false, "Serve the redirect on a local loopback port")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically")

	return cmd
}

func newLoginPasswordCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "password",
		Short: "Sign in with email and password",
		Long: `Authenticate directly against the auth server.

The password is read from the terminal, never from a flag or argument,
and only a derived value is sent on the wire. This flow yields a
session credential; access tokens are minted from it on demand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if email == "" {
				email, err = promptLine(cmd, "Email: ")
				if err != nil {
					return err
				}
			}
			if email == "" {
				return output.ErrUsage("Email required")
			}

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				return output.ErrUsage("Password required")
			}

			acct, err := newAccount(app)
			if err != nil {
				return err
			}

			ctx, cancel, err := opCtx(cmd, app)
			if err != nil {
				return err
			}
			defer cancel()

			if err := withSpinner(app, "Signing in...", func() error {
				return acct.SignIn(ctx, email, password)
			}); err != nil {
				return err
			}

			if err := saveAccount(app, acct); err != nil {
				return err
			}

			st := acct.Status()
			return app.OK(map[string]any{
				"email":    st.Email,
				"uid":      st.UID,
				"verified": st.Verified,
			}, output.WithSummary("Signed in as "+st.Email))
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted when omitted)")

	return cmd
}

// promptForRedirect prints the authorization URL and reads the pasted
// redirect back from stdin.
func promptForRedirect(cmd *cobra.Command, authURL string) (code, state string, err error) {
	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser:\n\n  %s\n\n", authURL)

	line, err := promptLine(cmd, "Paste the redirect URL (or \"code state\") after signing in: ")
	if err != nil {
		return "", "", err
	}
	return parseRedirect(line)
}

// parseRedirect extracts the authorization code and state from a pasted
// redirect. Accepts the full redirect URL, a bare query string, or the
// two values separated by whitespace.
func parseRedirect(input string) (code, state string, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", output.ErrUsage("Redirect URL required")
	}

	if u, perr := url.Parse(input); perr == nil && u.RawQuery != "" {
		q := u.Query()
		if e := q.Get("error"); e != "" {
			msg := "Authorization failed: " + e
			if d := q.Get("error_description"); d != "" {
				msg += ": " + d
			}
			return "", "", output.ErrUpstream(0, msg)
		}
		code, state = q.Get("code"), q.Get("state")
		if code != "" && state != "" {
			return code, state, nil
		}
	}

	// "code state" as two whitespace-separated tokens
	if fields := strings.Fields(input); len(fields) == 2 {
		return fields[0], fields[1], nil
	}

	return "", "", output.ErrUsageHint(
		"Could not extract code and state from the pasted value",
		"Paste the full redirect URL, or the code and state separated by a space",
	)
}

// listenRedirect picks the redirect for --listen mode: the configured
// URI when it is already a loopback http URL, else the standard local
// callback.
func listenRedirect(configured string) string {
	u, err := url.Parse(configured)
	if err == nil && u.Scheme == "http" && hostutil.IsLocalhost(u.Host) {
		return configured
	}
	return defaultCallbackRedirect
}

// waitForCallback serves the OAuth redirect on the loopback address
// named by redirectURI and returns the delivered code and state.
func waitForCallback(ctx context.Context, authURL, redirectURI string, noBrowser bool) (string, string, error) {
	ru, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", output.ErrUsage("Invalid redirect URI: " + redirectURI)
	}
	au, err := url.Parse(authURL)
	if err != nil {
		return "", "", output.ErrUsage("Invalid authorization URL")
	}
	expectedState := au.Query().Get("state")

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", ru.Host)
	if err != nil {
		return "", "", fmt.Errorf("failed to start callback server: %w", err)
	}
	defer func() { _ = listener.Close() }()

	type result struct {
		code  string
		state string
	}
	resCh := make(chan result, 1)
	errCh := make(chan error, 1)

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			if e := q.Get("error"); e != "" {
				errCh <- output.ErrUpstream(0, "Authorization failed: "+e)
				fmt.Fprint(w, "<html><body><h1>Sign-in failed</h1><p>You can close this window.</p></body></html>")
				return
			}
			if q.Get("state") != expectedState {
				errCh <- fmt.Errorf("state mismatch: CSRF protection failed")
				fmt.Fprint(w, "<html><body><h1>Sign-in failed</h1><p>State mismatch.</p></body></html>")
				return
			}

			resCh <- result{code: q.Get("code"), state: q.Get("state")}
			fmt.Fprint(w, "<html><body><h1>Sign-in complete!</h1><p>You can close this window.</p></body></html>")
		}),
	}

	go server.Serve(listener)
	defer func() { _ = server.Close() }()

	if !noBrowser {
		if err := openBrowser(authURL); err != nil {
			fmt.Printf("\nCouldn't open browser automatically.\nOpen this URL in your browser:\n%s\n\nWaiting for sign-in...\n", authURL)
		} else {
			fmt.Println("\nOpening browser for sign-in...")
			fmt.Printf("If the browser doesn't open, visit: %s\n\nWaiting for sign-in...\n", authURL)
		}
	} else {
		fmt.Printf("\nOpen this URL in your browser:\n%s\n\nWaiting for sign-in...\n", authURL)
	}

	select {
	case res := <-resCh:
		return res.code, res.state, nil
	case err := <-errCh:
		return "", "", err
	case <-ctx.Done():
		return "", "", ctx.Err()
	case <-time.After(loginWait):
		return "", "", fmt.Errorf("sign-in timeout")
	}
}

// promptLine prints a prompt and reads one line from the command's
// stdin.
func promptLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads the password without echo when stdin is a
// terminal, falling back to a plain line read for piped input.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}
	return promptLine(cmd, "Password: ")
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform")
	}

	return exec.Command(cmd, args...).Start()
}
