package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/plotherd/internal/config"
)

func TestCheckDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plot-k32.plot")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.NoError(t, checkDir(dir))
	assert.EqualError(t, checkDir(filepath.Join(dir, "absent")), "does not exist")
	assert.EqualError(t, checkDir(file), "not a directory")
}

func TestDoctorDirs(t *testing.T) {
	cfg := &config.Config{Directories: config.Directories{
		Log:     "/var/log/plotherd",
		Tmp:     []string{"/tmp1", "/tmp2"},
		Tmp2:    "/tmp2",
		Dst:     []string{"/dst1"},
		Archive: []string{"/farm1", "/dst1"},
	}}

	got := doctorDirs(cfg)

	assert.Equal(t, []doctorDir{
		{role: "log", path: "/var/log/plotherd"},
		{role: "tmp", path: "/tmp1"},
		{role: "tmp", path: "/tmp2"},
		{role: "dst", path: "/dst1"},
		{role: "archive", path: "/farm1"},
	}, got)
}

func TestDoctorReport(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rep := &doctorReport{log: zap.New(core), total: 3}

	rep.pass("config", "config.yaml")
	rep.warn("Crucible access", "unknown")
	rep.fail("tmp directory /tmp1", "does not exist")

	assert.Equal(t, 1, rep.failed)
	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, "[1/3] Checking config... ✅ config.yaml", entries[0].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "[3/3] Checking tmp directory /tmp1... ❌ does not exist", entries[2].Message)
}
