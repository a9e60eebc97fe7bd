package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mozilla-services/fxa-go/internal/appctx"
	"github.com/mozilla-services/fxa-go/internal/config"
	"github.com/mozilla-services/fxa-go/internal/hostutil"
	"github.com/mozilla-services/fxa-go/internal/output"
)

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage fxa configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > global > system > defaults

Config locations:
  - System: /etc/fxa/config.yaml
  - Global: ~/.config/fxa/config.yaml (or $XDG_CONFIG_HOME/fxa/config.yaml)

Environment variables use the FXA_ prefix, e.g. FXA_ENVIRONMENT=stable-dev.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}

	configData := make(map[string]any)
	for _, key := range validKeyNames() {
		value := effectiveValue(app.Config, key)
		if value == "" {
			continue
		}
		source := app.Config.Sources[key]
		if source == "" {
			source = string(config.SourceDefault)
		}
		configData[key] = map[string]string{
			"value":  value,
			"source": source,
		}
	}

	return app.OK(configData, output.WithSummary("Effective configuration"))
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a configuration value",
		Long:  "Print the effective value of a single configuration key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			if !configValidKeys[key] {
				return errUnknownConfigKey(key)
			}

			value := effectiveValue(app.Config, key)
			if app.Flags.JSON {
				return app.OK(map[string]string{"key": key, "value": value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the global config file.

Valid keys: auth_server_url, client_id, content_url, environment, format,
            oauth_server_url, profile_server_url, redirect_uri, scopes,
            timeout, token_server_url`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			value := args[1]

			if !configValidKeys[key] {
				return errUnknownConfigKey(key)
			}

			typed, valueOut, err := validateConfigValue(key, value)
			if err != nil {
				return err
			}

			configPath := app.Config.Path()
			configData, err := loadConfigFile(configPath)
			if err != nil {
				return err
			}
			configData[key] = typed

			if err := writeConfigFile(app, configPath, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"value":  valueOut,
				"path":   configPath,
				"status": "set",
			}, output.WithSummary(fmt.Sprintf("Set %s = %s", key, valueOut)))
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value from the global config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			if !configValidKeys[key] {
				return errUnknownConfigKey(key)
			}

			configPath := app.Config.Path()
			if _, err := os.Stat(configPath); err != nil {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_found",
				}, output.WithSummary("Config file not found: "+configPath))
			}

			configData, err := loadConfigFile(configPath)
			if err != nil {
				return err
			}
			if _, exists := configData[key]; !exists {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_set",
				}, output.WithSummary("Key not set: "+key))
			}

			delete(configData, key)
			if err := writeConfigFile(app, configPath, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"status": "unset",
			}, output.WithSummary("Unset "+key))
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the global config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if app.Flags.JSON {
				return app.OK(map[string]string{"path": app.Config.Path()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.Config.Path())
			return nil
		},
	}
}

var configValidKeys = map[string]bool{
	"environment":        true,
	"client_id":          true,
	"redirect_uri":       true,
	"scopes":             true,
	"content_url":        true,
	"auth_server_url":    true,
	"oauth_server_url":   true,
	"profile_server_url": true,
	"token_server_url":   true,
	"timeout":            true,
	"format":             true,
}

func validKeyNames() []string {
	names := make([]string, 0, len(configValidKeys))
	for k := range configValidKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func errUnknownConfigKey(key string) error {
	return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s",
		key, strings.Join(validKeyNames(), ", ")))
}

// effectiveValue renders the resolved value of one config key.
func effectiveValue(cfg *config.Config, key string) string {
	switch key {
	case "environment":
		return cfg.Environment
	case "client_id":
		return cfg.ClientID
	case "redirect_uri":
		return cfg.RedirectURI
	case "scopes":
		return strings.Join(cfg.Scopes, " ")
	case "content_url":
		return cfg.ContentURL
	case "auth_server_url":
		return cfg.AuthServerURL
	case "oauth_server_url":
		return cfg.OAuthServerURL
	case "profile_server_url":
		return cfg.ProfileURL
	case "token_server_url":
		return cfg.TokenServerURL
	case "timeout":
		return cfg.Timeout
	case "format":
		return cfg.Format
	default:
		return ""
	}
}

// validateConfigValue checks a value against its key's rules and
// returns the value to persist plus its display form.
func validateConfigValue(key, value string) (any, string, error) {
	switch key {
	case "environment":
		switch value {
		case "release", "stable-dev", "custom":
			return value, value, nil
		default:
			return nil, "", output.ErrUsage("environment must be release, stable-dev, or custom")
		}
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return nil, "", output.ErrUsage(`timeout must be a positive duration like "30s" or "2m"`)
		}
		return d.String(), d.String(), nil
	case "format":
		if _, err := output.ParseFormat(value); err != nil {
			return nil, "", err
		}
		return value, value, nil
	case "scopes":
		scopes := config.SplitScopes(value)
		if len(scopes) == 0 {
			return nil, "", output.ErrUsage("scopes must list at least one scope")
		}
		return scopes, strings.Join(scopes, " "), nil
	case "content_url", "auth_server_url", "oauth_server_url",
		"profile_server_url", "token_server_url":
		u := hostutil.Normalize(value)
		if err := hostutil.RequireSecureURL(u); err != nil {
			return nil, "", output.ErrUsage(err.Error())
		}
		return u, u, nil
	default:
		return value, value, nil
	}
}

// loadConfigFile reads the global config into a generic map so keys we
// don't manage survive a read-modify-write.
func loadConfigFile(path string) (map[string]any, error) {
	configData := make(map[string]any)
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config location
	if err != nil {
		return configData, nil
	}
	if err := yaml.Unmarshal(data, &configData); err != nil {
		return nil, output.ErrUsageHint(
			"Config file is not valid YAML: "+path,
			"Fix or remove the file, then retry",
		)
	}
	if configData == nil {
		configData = make(map[string]any)
	}
	return configData, nil
}

func writeConfigFile(app *appctx.App, path string, configData map[string]any) error {
	if err := os.MkdirAll(app.Config.Dir(), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(configData)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
