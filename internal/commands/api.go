package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/output"
	"github.com/mozilla-services/fxa-go/internal/version"
)

// NewAPICmd creates the api command for raw profile-server access.
func NewAPICmd() *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:   "api <path>",
		Short: "Raw profile API access",
		Long: `Make a bearer-authenticated GET request to the profile server.

The path is joined onto the configured profile server base, so
'fxa api /email' hits e.g. https://profile.accounts.firefox.com/v1/email.
A full URL on the same server is accepted too.

Responses can be filtered with a jq expression before output:
  fxa api /profile --jq .email`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			acct, err := loadAccount(app)
			if err != nil {
				return err
			}

			fc, err := app.Config.AccountConfig()
			if err != nil {
				return err
			}
			requestURL, err := resolveAPIPath(fc.ProfileURL, args[0])
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

			var result any
			err = withSpinner(app, "GET "+args[0]+"...", func() error {
				result, err = doGet(ctx, requestURL, token)
				return err
			})
			if err != nil {
				return err
			}

			if jqExpr != "" {
				result, err = applyJQ(jqExpr, result)
				if err != nil {
					return err
				}
			}

			return app.OK(result, output.WithSummary("GET "+args[0]))
		},
	}

	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the response through a jq expression")

	return cmd
}

// resolveAPIPath joins a path onto the server base. Full URLs pass
// through only when they target the same server.
func resolveAPIPath(base, input string) (string, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		if !strings.HasPrefix(input, base) {
			return "", output.ErrUsageHint(
				"URL is not on the configured profile server",
				"Expected a URL under "+base,
			)
		}
		return input, nil
	}
	if !strings.HasPrefix(input, "/") {
		input = "/" + input
	}
	return strings.TrimSuffix(base, "/") + input, nil
}

func doGet(ctx context.Context, requestURL, token string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, output.ErrNetwork(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, output.ErrAuth("Access token was rejected")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, output.ErrUpstream(resp.StatusCode,
			fmt.Sprintf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var result any
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, output.ErrUpstream(resp.StatusCode, "response is not JSON")
	}
	return result, nil
}

// applyJQ filters a decoded JSON value through a jq expression. A
// single result is returned bare; multiple results become an array.
func applyJQ(expr string, input any) (any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, output.ErrUsageHint("Invalid jq expression", err.Error())
	}

	var results []any
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, output.ErrUsageHint("jq evaluation failed", err.Error())
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
