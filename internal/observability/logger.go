// Package observability holds the process-wide logger and metrics.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It is a no-op logger until
// InitCLILogger runs, so library code may log unconditionally.
var CLILogger = zap.NewNop()

var cliLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// InitCLILogger configures CLILogger for a command-line process. Output is
// console-encoded on stderr so stdout stays free for tables and JSON.
func InitCLILogger(name string, verbose bool) {
	if verbose {
		cliLevel.SetLevel(zap.DebugLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cfg := zap.Config{
		Level:             cliLevel,
		Development:       false,
		DisableStacktrace: !verbose,
		Encoding:          "console",
		EncoderConfig:     encCfg,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		// Config is static; Build only fails if stderr cannot be opened.
		CLILogger = zap.NewNop()
		return
	}
	CLILogger = logger.Named(name)
}

// SetLogLevel changes the level of CLILogger at runtime.
func SetLogLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	cliLevel.SetLevel(lvl)
	return nil
}

// LogLevel returns the current CLILogger level.
func LogLevel() zapcore.Level {
	return cliLevel.Level()
}

// ParseLevel accepts debug, info, warn and error (case-insensitive).
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
