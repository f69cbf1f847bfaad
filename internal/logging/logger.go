// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppName names the root logger and tags every entry.
const AppName = "dircrawl"

// Options selects the encoder, level and sink of the root logger.
type Options struct {
	Development bool
	// Level is a zap level name; empty means info, or debug in development.
	Level string
	// Output is a zap sink path; empty means stderr so stdout stays free for
	// command output.
	Output  string
	Version string
}

// New builds the root logger. Entries carry the app name and build version.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		cfg.Level = level
	}

	sink := opts.Output
	if sink == "" {
		sink = "stderr"
	}
	cfg.OutputPaths = []string{sink}
	cfg.ErrorOutputPaths = []string{"stderr"}

	fields := []zap.Field{zap.String("app", AppName)}
	if opts.Version != "" {
		fields = append(fields, zap.String("version", opts.Version))
	}
	logger, err := cfg.Build(zap.Fields(fields...))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named(AppName), nil
}
