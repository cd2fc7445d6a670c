package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plotherd/internal/config"
	"github.com/3leaps/plotherd/pkg/job"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{"release", "1.0.0", "abc123", "2024-01-15"},
		{"dev", "dev", "HEAD", "unknown"},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, config.DefaultPath, viper.GetString("config"))
	assert.Equal(t, "", viper.GetString("log_level"))
	assert.False(t, viper.GetBool("verbose"))
}

func TestExitError(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Bad prefix", job.ErrNoMatch)

	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Bad prefix: "))
	assert.Contains(t, err.Error(), "exit code")
	assert.ErrorIs(t, err, job.ErrNoMatch)
	assert.Equal(t, foundry.ExitInvalidArgument, exitCodeOf(err))
	assert.Equal(t, 1, exitCodeOf(errors.New("plain")))
}

func TestSelectionError(t *testing.T) {
	amb := &job.AmbiguousError{Prefix: "a", PlotIDs: []string{"a1", "a2"}}

	assert.Equal(t, foundry.ExitInvalidArgument, exitCodeOf(selectionError("x", job.ErrNoMatch)))
	assert.Equal(t, foundry.ExitInvalidArgument, exitCodeOf(selectionError("x", amb)))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, exitCodeOf(selectionError("x", assert.AnError)))
}

func TestLoopError(t *testing.T) {
	assert.NoError(t, loopError("Admission", nil))
	assert.Equal(t, foundry.ExitSignalInt, exitCodeOf(loopError("Admission", context.Canceled)))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, exitCodeOf(loopError("Archive", assert.AnError)))
}

// writeConfig writes a minimal valid config rooted in a temp dir and points
// the global --config value at it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"logs", "tmp1", "dst1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	doc := "directories:\n" +
		"  log: " + filepath.Join(root, "logs") + "\n" +
		"  tmp:\n    - " + filepath.Join(root, "tmp1") + "\n" +
		"  dst:\n    - " + filepath.Join(root, "dst1") + "\n" +
		"plotting:\n  executable: plotherd-test-no-such-plotter\n" + extra
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	viper.Set("config", path)
	t.Cleanup(func() { viper.Set("config", config.DefaultPath) })
	return path
}

func TestLoadConfig(t *testing.T) {
	writeConfig(t, "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Directories.Tmp, 1)
	assert.Equal(t, "plotherd-test-no-such-plotter", cfg.Plotting.Executable)
}

func TestLoadConfig_LogLevelFlagWins(t *testing.T) {
	writeConfig(t, "logging:\n  level: error\n")
	viper.Set("log_level", "debug")
	defer viper.Set("log_level", "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		viper.Set("config", filepath.Join(t.TempDir(), "absent.yaml"))
		defer viper.Set("config", config.DefaultPath)

		_, err := loadConfig()
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Equal(t, foundry.ExitFileNotFound, exitCodeOf(err))
	})

	t.Run("invalid document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("directories:\n  tmp: []\n"), 0o644))
		viper.Set("config", path)
		defer viper.Set("config", config.DefaultPath)

		_, err := loadConfig()
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrConfigInvalid)
		assert.Equal(t, foundry.ExitInvalidArgument, exitCodeOf(err))
	})
}
