package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plotherd/pkg/plotlog"
)

func TestSummaryAndDetail(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "plot-k32-"+idA+".plot.2.tmp"), make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "plot-k32-"+idB+".plot.2.tmp"), make([]byte, 4096), 0o644))

	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)

	progress := plotlog.Progress{PlotID: idA, Phase: 2, Substep: 3, PctComplete: 51}
	progress.PhaseSeconds[1] = 3600

	j := &Job{
		PlotID:    idA,
		PID:       4242,
		StartTime: start,
		CPUTime:   2 * time.Hour,
		TmpDirs:   []string{tmp},
		DstDir:    "/mnt/dst1",
		Args:      Args{K: 32, Threads: 4, Buckets: 128, BufferMiB: 4608},
		Progress:  progress,
		State:     StateRunning,
	}

	s := j.Summary(now)
	assert.Equal(t, tmp, s.TmpDir)
	assert.Equal(t, "2:3", s.Phase)
	assert.Equal(t, 90*time.Minute, s.Elapsed)
	assert.Equal(t, uint64(2048), s.TmpBytes)
	assert.Equal(t, StateRunning, s.State)

	d := j.Detail(now)
	assert.Contains(t, d, "plot_id:   "+idA)
	assert.Contains(t, d, "pid:       4242")
	assert.Contains(t, d, "buffer:    4608 MiB")
	assert.Contains(t, d, "log:       -")
	assert.Contains(t, d, "phase 1:   1h0m0s")
	assert.NotContains(t, d, "phase 2:")
	assert.Contains(t, d, "elapsed:   1h30m0s")
	assert.Contains(t, d, "tmp_usage: 2.0 KiB")
}

func TestElapsed(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	j := &Job{StartTime: start}

	assert.Equal(t, time.Hour, j.Elapsed(start.Add(time.Hour)))
	assert.Zero(t, j.Elapsed(start.Add(-time.Minute)))
	assert.Zero(t, (&Job{}).Elapsed(start))
}
