// Package logging builds the zap loggers used by the CLI. The library
// itself is silent unless a logger is injected; these constructors feed
// that injection point from the command-line flags.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mozilla-services/fxa-go/internal/version"
)

// New returns a logger writing to stderr. Verbosity selects the minimum
// level: 0 warn, 1 info, 2+ debug. jsonOut switches to the machine
// encoding used when the CLI itself runs in JSON mode.
func New(verbosity int, jsonOut bool) *zap.Logger {
	level := levelFor(verbosity)

	var l *zap.Logger
	var err error
	if jsonOut {
		l, err = buildJSON(level)
	} else {
		l, err = buildConsole(level)
	}
	if err != nil {
		// Fall back to a basic logger rather than failing the command
		l, _ = zap.NewProduction()
	}

	return l.With(zap.String("version", version.Version))
}

// buildConsole builds a human-readable logger for terminal use.
func buildConsole(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.DisableStacktrace = true

	if !isTerminal(os.Stderr) {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return zcfg.Build()
}

// buildJSON builds a line-per-entry JSON logger.
func buildJSON(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	return zcfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

func levelFor(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
