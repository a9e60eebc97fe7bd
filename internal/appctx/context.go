// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mozilla-services/fxa-go/internal/config"
	"github.com/mozilla-services/fxa-go/internal/credstore"
	"github.com/mozilla-services/fxa-go/internal/logging"
	"github.com/mozilla-services/fxa-go/internal/output"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Creds  *credstore.Store
	Output *output.Writer
	Log    *zap.Logger

	// Flags holds the global flag values
	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Format string

	// Behavior flags
	Verbose     int // 0=warnings, 1=operations, 2=wire-level detail (stacks with -v -v or -vv)
	ConfigDir   string
	Environment string
	Timeout     time.Duration
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) *App {
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		format = output.FormatAuto
	}

	return &App{
		Config: cfg,
		Creds:  credstore.NewStore(cfg.Dir()),
		Log:    zap.NewNop(),
		Output: output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
		}),
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() error {
	// Apply output format from flags (order matters: quiet wins)
	switch {
	case a.Flags.Quiet:
		a.Output = output.New(output.Options{
			Format: output.FormatQuiet,
			Writer: os.Stdout,
		})
	case a.Flags.JSON:
		a.Output = output.New(output.Options{
			Format: output.FormatJSON,
			Writer: os.Stdout,
		})
	case a.Flags.Format != "":
		format, err := output.ParseFormat(a.Flags.Format)
		if err != nil {
			return err
		}
		a.Output = output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
		})
	}

	// Determine verbosity level from flags and FXA_DEBUG env var
	verbosity := a.Flags.Verbose
	if debugEnv := os.Getenv("FXA_DEBUG"); debugEnv != "" {
		if level, err := strconv.Atoi(debugEnv); err == nil {
			if level > verbosity {
				verbosity = level
			}
		} else if debugEnv == "true" {
			verbosity = 2
		}
	}

	a.Log = logging.New(verbosity, a.machineOutput())
	return nil
}

// machineOutput reports whether the CLI's own output is meant for
// programmatic consumption, in which case log lines on stderr use the
// JSON encoding too.
func (a *App) machineOutput() bool {
	if a.Flags.JSON || a.Flags.Quiet {
		return true
	}
	switch a.Flags.Format {
	case "json", "quiet":
		return true
	}
	if a.Flags.Format == "" && a.Config != nil {
		switch a.Config.Format {
		case "json", "quiet":
			return true
		}
	}
	return false
}

// OK outputs a success response.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	return a.Output.OK(data, opts...)
}

// Err outputs an error response.
func (a *App) Err(err error) error {
	return a.Output.Err(err)
}

// IsInteractive returns true if the terminal supports prompts and
// progress output.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.Quiet {
		return false
	}
	switch a.Flags.Format {
	case "json", "quiet":
		return false
	}

	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
