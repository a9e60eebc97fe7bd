// Package cli wires the command tree together.
package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/fxa-go/internal/appctx"
	"github.com/mozilla-services/fxa-go/internal/commands"
	"github.com/mozilla-services/fxa-go/internal/config"
	"github.com/mozilla-services/fxa-go/internal/output"
	"github.com/mozilla-services/fxa-go/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:   "fxa",
		Short: "Command-line client for Mozilla accounts",
		Long: `fxa signs in to a Mozilla account and manages the resulting credentials:
OAuth access and refresh tokens, scoped sync keys, BrowserID assertions,
and the signed-in profile.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				ConfigDir:   flags.ConfigDir,
				Environment: flags.Environment,
				Format:      flags.Format,
				Timeout:     flags.Timeout,
			})
			if err != nil {
				return err
			}

			app := appctx.NewApp(cfg)
			app.Flags = flags
			if err := app.ApplyFlags(); err != nil {
				return err
			}

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().StringVarP(&flags.Format, "output", "o", "", "Output format: auto, json, yaml, text, quiet")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for ops, -vv for requests)")
	cmd.PersistentFlags().StringVar(&flags.ConfigDir, "config-dir", "", "Config and credential directory")
	cmd.PersistentFlags().StringVar(&flags.Environment, "environment", "", "Account environment: release, stable-dev, custom")
	cmd.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 0, "Network timeout per operation (e.g. 30s)")

	// Register tab completion for flags with fixed value sets.
	_ = cmd.RegisterFlagCompletionFunc("environment",
		func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return []string{"release", "stable-dev", "custom"}, cobra.ShellCompDirectiveNoFileComp
		})
	_ = cmd.RegisterFlagCompletionFunc("output",
		func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return []string{"auto", "json", "yaml", "text", "quiet"}, cobra.ShellCompDirectiveNoFileComp
		})

	return cmd
}

// Execute runs the root command.
func Execute() {
	cmd := NewRootCmd()

	// Add subcommands
	cmd.AddCommand(commands.NewLoginCmd())
	cmd.AddCommand(commands.NewLogoutCmd())
	cmd.AddCommand(commands.NewStatusCmd())
	cmd.AddCommand(commands.NewProfileCmd())
	cmd.AddCommand(commands.NewKeysCmd())
	cmd.AddCommand(commands.NewAssertionCmd())
	cmd.AddCommand(commands.NewRefreshCmd())
	cmd.AddCommand(commands.NewTokenCmd())
	cmd.AddCommand(commands.NewAPICmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewCompletionCmd())

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err != nil {
		err = transformCobraError(err)
		apiErr := output.AsError(err)

		// Use app.Err() when the app came up, so the configured format applies
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			os.Exit(apiErr.ExitCode())
		}

		// Fallback: output error directly (app not available, e.g., during setup)
		pf := cmd.PersistentFlags()
		format := output.FormatAuto
		quiet, _ := pf.GetBool("quiet")
		jsonFlag, _ := pf.GetBool("json")
		outputFlag, _ := pf.GetString("output")

		switch {
		case quiet:
			format = output.FormatQuiet
		case jsonFlag:
			format = output.FormatJSON
		case outputFlag != "":
			if f, perr := output.ParseFormat(outputFlag); perr == nil {
				format = f
			}
		}

		writer := output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
		})
		_ = writer.Err(err)

		os.Exit(apiErr.ExitCode())
	}
}

// transformCobraError rewrites Cobra's default error messages into the
// CLI's usage-error format.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		re := regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	// Bad flag values and wrong argument counts are usage errors too
	if strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "arg(s), received") ||
		strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsage(msg)
	}

	return err
}
