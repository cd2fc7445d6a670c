// Package cmd holds the plotherd cobra commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/internal/config"
	"github.com/3leaps/plotherd/internal/observability"
	"github.com/3leaps/plotherd/internal/supervisor"
	"github.com/3leaps/plotherd/pkg/job"
)

const binaryName = "plotherd"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Supervise parallel chia plotting jobs",
	Long: `plotherd discovers running plotter workers from the process table and
their logs, starts new workers when the scheduling policy allows it, and
moves finished plots to archive volumes.

Examples:
  plotherd plot                  # run the admission loop
  plotherd archive               # run the archive loop
  plotherd status                # show live jobs
  plotherd kill 3f9a             # kill a job and delete its temp files`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initCLI,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultPath, "Path to config file")
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "Enable debug output")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	setDefaults()
}

// setDefaults registers defaults for the CLI-level keys. Config document
// defaults live in the config package.
func setDefaults() {
	viper.SetDefault("config", config.DefaultPath)
	viper.SetDefault("log_level", "")
	viper.SetDefault("verbose", false)
}

func initCLI(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger(binaryName, viper.GetBool("verbose"))
	if lvl := viper.GetString("log_level"); lvl != "" {
		if err := observability.SetLogLevel(lvl); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --log-level", err)
		}
	}
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so loops can stop between ticks.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeOf(err))
	}
}

type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

func exitCodeOf(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

// loadConfig reads the config file named by --config. An explicit
// --log-level outranks logging.level from the document.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")

	var overrides []map[string]any
	if lvl := viper.GetString("log_level"); lvl != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": lvl}})
	}

	cfg, err := config.Load(path, overrides...)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, exitError(foundry.ExitFileNotFound, "Config file not found", err)
	case errors.Is(err, config.ErrConfigInvalid):
		observability.CLILogger.Error("Invalid configuration", zap.String("path", path), zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	case err != nil:
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to load config", err)
	}

	if !viper.GetBool("verbose") {
		if err := observability.SetLogLevel(cfg.Logging.Level); err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid logging.level", err)
		}
	}
	observability.CLILogger.Debug("Loaded config",
		zap.String("path", path),
		zap.Strings("tmp_dirs", cfg.Directories.Tmp),
		zap.Strings("dst_dirs", cfg.Directories.DstOrTmp()),
		zap.Strings("archive_dirs", cfg.Directories.Archive))
	return cfg, nil
}

func newSupervisor(opts ...supervisor.Option) (*supervisor.Supervisor, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts = append([]supervisor.Option{supervisor.WithLogger(observability.CLILogger)}, opts...)
	sup, err := supervisor.New(cfg, opts...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to start supervisor", err)
	}
	return sup, nil
}

// selectionError maps job selection failures to exit codes.
func selectionError(message string, err error) error {
	if errors.Is(err, job.ErrNoMatch) || errors.Is(err, job.ErrAmbiguous) {
		return exitError(foundry.ExitInvalidArgument, message, err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, message, err)
}

// loopError maps a loop's return value to an exit code. Cancellation by
// signal is reported as an interrupted run.
func loopError(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.CLILogger.Info(name + " loop stopped")
		return exitError(foundry.ExitSignalInt, name+" loop interrupted", err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, name+" loop failed", err)
}
