package cli

import (
	"errors"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/fxa-go/internal/appctx"
	"github.com/mozilla-services/fxa-go/internal/output"
)

func TestRootFlags(t *testing.T) {
	cmd := NewRootCmd()
	pf := cmd.PersistentFlags()

	for _, name := range []string{"json", "quiet", "output", "verbose", "config-dir", "environment", "timeout"} {
		assert.NotNil(t, pf.Lookup(name), "flag %s should be registered", name)
	}

	assert.Equal(t, "j", pf.Lookup("json").Shorthand)
	assert.Equal(t, "q", pf.Lookup("quiet").Shorthand)
	assert.Equal(t, "o", pf.Lookup("output").Shorthand)
	assert.Equal(t, "v", pf.Lookup("verbose").Shorthand)
}

func TestPersistentPreRunBuildsApp(t *testing.T) {
	dir := t.TempDir()

	var app *appctx.App
	probe := &cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			app = appctx.FromContext(cmd.Context())
			return nil
		},
	}

	cmd := NewRootCmd()
	cmd.AddCommand(probe)
	cmd.SetArgs([]string{"--config-dir", dir, "--environment", "stable-dev", "--json", "probe"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	require.NoError(t, cmd.Execute())
	require.NotNil(t, app, "PersistentPreRunE should store the app in the context")
	assert.Equal(t, "stable-dev", app.Config.Environment)
	assert.Equal(t, dir, app.Config.Dir())
	assert.True(t, app.Flags.JSON)
}

func TestPersistentPreRunRejectsBadFormat(t *testing.T) {
	probe := &cobra.Command{
		Use:  "probe",
		RunE: func(cmd *cobra.Command, args []string) error { return nil },
	}

	cmd := NewRootCmd()
	cmd.AddCommand(probe)
	cmd.SetArgs([]string{"--config-dir", t.TempDir(), "--output", "csv", "probe"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, output.CodeUsage, output.AsError(err).Code)
}

func TestTransformCobraError(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantMsg string
	}{
		{
			name:    "missing flag value",
			in:      "flag needs an argument: --timeout",
			wantMsg: "--timeout requires a value",
		},
		{
			name:    "unknown long flag",
			in:      "unknown flag: --bogus",
			wantMsg: "Unknown option: --bogus",
		},
		{
			name:    "unknown shorthand flag",
			in:      "unknown shorthand flag: 'x' in -x",
			wantMsg: "Unknown option: -x",
		},
		{
			name:    "bad flag value",
			in:      `invalid argument "nope" for "--timeout" flag`,
			wantMsg: `invalid argument "nope" for "--timeout" flag`,
		},
		{
			name:    "wrong argument count",
			in:      "accepts 1 arg(s), received 0",
			wantMsg: "accepts 1 arg(s), received 0",
		},
		{
			name:    "unknown command",
			in:      `unknown command "bogus" for "fxa"`,
			wantMsg: `unknown command "bogus" for "fxa"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformCobraError(errors.New(tt.in))
			apiErr := output.AsError(got)
			assert.Equal(t, output.CodeUsage, apiErr.Code)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestTransformCobraErrorPassthrough(t *testing.T) {
	orig := errors.New("something else entirely")
	assert.Equal(t, orig, transformCobraError(orig))
}
