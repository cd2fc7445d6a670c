package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plotherd/pkg/process"
	"github.com/3leaps/plotherd/pkg/process/processtest"
)

const (
	idA = "aaaa1111bbbb2222cccc3333dddd4444eeee5555ffff6666aaaa7777bbbb8888"
	idB = "aaab9999bbbb2222cccc3333dddd4444eeee5555ffff6666aaaa7777bbbb8888"
)

type fixture struct {
	logDir string
	tmp    string
	dst    string
	table  *processtest.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		logDir: filepath.Join(root, "logs"),
		tmp:    filepath.Join(root, "tmp"),
		dst:    filepath.Join(root, "dst"),
		table:  processtest.NewTable(),
	}
	for _, d := range []string{f.logDir, f.tmp, f.dst} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return f
}

// addWorker registers a fake worker whose log already contains lines.
func (f *fixture) addWorker(t *testing.T, pid int, plotID string, started time.Time, lines ...string) string {
	t.Helper()
	logPath := filepath.Join(f.logDir, plotID+".log")
	content := ""
	if plotID != "" {
		content = "ID: " + plotID + "\n"
	} else {
		logPath = filepath.Join(f.logDir, "pending.log")
	}
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o644))

	f.table.Add(process.Info{
		PID:        pid,
		PPID:       1,
		Name:       "chia",
		Cmdline:    []string{"chia", "plots", "create", "-k", "32", "-r", "2", "-u", "128", "-b", "4608", "-t", f.tmp, "-d", f.dst},
		CreateTime: started,
		OpenFiles:  []string{logPath},
	})
	return logPath
}

func (f *fixture) opts() Options {
	return Options{
		LogDir:      f.logDir,
		Probe:       f.table,
		Control:     f.table,
		CancelGrace: 20 * time.Millisecond,
		CancelPoll:  time.Millisecond,
	}
}

func TestList_RebuildsFromProcessAndLog(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	logPath := f.addWorker(t, 200, idA, t0.Add(time.Hour), "Starting phase 2/4: Backpropagation", "Backpropagating on table 6")
	f.addWorker(t, 100, idB, t0, "Starting phase 1/4: Forward")
	// Non-worker processes are ignored.
	f.table.Add(process.Info{PID: 300, Cmdline: []string{"bash"}, CreateTime: t0})

	jobs, err := List(context.Background(), f.opts())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Oldest first.
	assert.Equal(t, idB, jobs[0].PlotID)
	assert.Equal(t, idA, jobs[1].PlotID)

	j := jobs[1]
	assert.Equal(t, 200, j.PID)
	assert.Equal(t, []string{f.tmp}, j.TmpDirs)
	assert.Equal(t, f.dst, j.DstDir)
	assert.Equal(t, logPath, j.LogPath)
	assert.Equal(t, 2, j.Progress.Phase)
	assert.Equal(t, 2, j.Progress.Substep)
	assert.Equal(t, StateRunning, j.State)
	assert.Equal(t, 32, j.Args.K)
	assert.Equal(t, 4608, j.Args.BufferMiB)
}

func TestRebuild_PlaceholderIDAndWrapperDedupe(t *testing.T) {
	f := newFixture(t)
	t0 := time.Now()
	f.addWorker(t, 10, "", t0)
	// A child of a worker that is itself a worker is a wrapper artifact.
	f.table.Add(process.Info{
		PID: 11, PPID: 10, CreateTime: t0,
		Cmdline: []string{"/usr/bin/python3", "/opt/chia/venv/bin/chia", "plots", "create", "-t", f.tmp},
	})

	infos, err := f.table.List(context.Background())
	require.NoError(t, err)
	jobs := Rebuild(infos, f.opts())
	require.Len(t, jobs, 1)
	assert.Equal(t, "pid-10", jobs[0].PlotID)
	assert.False(t, jobs[0].HasPlotID())
}

func TestRebuild_StoppedProcessIsSuspended(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now())
	require.NoError(t, f.table.Pause(context.Background(), 10))

	infos, _ := f.table.List(context.Background())
	jobs := Rebuild(infos, f.opts())
	require.Len(t, jobs, 1)
	assert.Equal(t, StateSuspended, jobs[0].State)
}

func TestJob_SuspendResumeLeavesProgressUnchanged(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now(), "Starting phase 3/4: Compression", "Compressing tables 2 and 3")
	ctx := context.Background()

	jobs, err := List(ctx, f.opts())
	require.NoError(t, err)
	j := jobs[0]
	before := j.Progress

	require.NoError(t, j.Suspend(ctx))
	assert.Equal(t, StateSuspended, j.State)
	require.NoError(t, j.Suspend(ctx), "suspend is idempotent")

	require.NoError(t, j.Resume(ctx))
	assert.Equal(t, StateRunning, j.State)
	assert.Equal(t, before, j.Progress)

	require.NoError(t, j.Refresh(ctx))
	assert.Equal(t, StateRunning, j.State)
	assert.Equal(t, before.Milestone(), j.Progress.Milestone())
}

func TestJob_ResumeRunningIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now())
	ctx := context.Background()

	jobs, err := List(ctx, f.opts())
	require.NoError(t, err)
	require.NoError(t, jobs[0].Resume(ctx))
	assert.Empty(t, f.table.Signals())
}

func TestJob_ProcessGone(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now())
	ctx := context.Background()

	jobs, err := List(ctx, f.opts())
	require.NoError(t, err)
	j := jobs[0]
	f.table.Remove(10)

	err = j.Refresh(ctx)
	assert.True(t, errors.Is(err, ErrProcessGone))
	assert.Equal(t, StateTerminated, j.State)

	assert.ErrorIs(t, j.Suspend(ctx), ErrProcessGone)
	assert.ErrorIs(t, j.Resume(ctx), ErrProcessGone)
	assert.ErrorIs(t, j.Cancel(ctx), ErrProcessGone)
}

func TestJob_RefreshZombieIsGone(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now())
	ctx := context.Background()

	jobs, err := List(ctx, f.opts())
	require.NoError(t, err)
	j := jobs[0]

	info, err := f.table.Get(ctx, 10)
	require.NoError(t, err)
	info.Status = process.StatusZombie
	f.table.Add(info)

	assert.ErrorIs(t, j.Refresh(ctx), ErrProcessGone)
	assert.Equal(t, StateTerminated, j.State)

	infos, err := f.table.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, Rebuild(infos, f.opts()))
}

func TestJob_CancelContinuesStoppedWorker(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now())
	f.table.IgnoreTerminate = true
	ctx := context.Background()

	jobs, err := List(ctx, f.opts())
	require.NoError(t, err)
	j := jobs[0]

	require.NoError(t, j.Suspend(ctx))
	require.NoError(t, j.Cancel(ctx))
	assert.Equal(t, StateTerminated, j.State)

	var ops []string
	for _, s := range f.table.Signals() {
		ops = append(ops, s.Op)
	}
	// Ignored SIGTERM escalates to kill after the grace period.
	assert.Equal(t, []string{"pause", "terminate", "continue", "kill"}, ops)
	assert.False(t, f.table.IsAlive(ctx, 10))
}

func TestJob_TempFiles(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, idA, time.Now())

	mine := []string{
		filepath.Join(f.tmp, "plot-k32-2026-03-01-10-00-"+idA+".plot.sort.tmp"),
		filepath.Join(f.tmp, "plot-k32-2026-03-01-10-00-"+idA+".plot.table1.tmp"),
	}
	other := filepath.Join(f.tmp, "plot-k32-2026-03-01-10-00-"+idB+".plot.sort.tmp")
	notTmp := filepath.Join(f.tmp, "plot-k32-2026-03-01-10-00-"+idA+".plot")
	for _, p := range append(append([]string{}, mine...), other, notTmp) {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	jobs, err := List(context.Background(), f.opts())
	require.NoError(t, err)

	files, err := jobs[0].TempFiles()
	require.NoError(t, err)
	assert.ElementsMatch(t, mine, files)

	s := jobs[0].Summary(time.Now())
	assert.Equal(t, uint64(2), s.TmpBytes)
	assert.Contains(t, jobs[0].Detail(time.Now()), idA)
}

func TestJob_TempFilesWithoutPlotID(t *testing.T) {
	f := newFixture(t)
	f.addWorker(t, 10, "", time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(f.tmp, "pid-10.tmp"), []byte("x"), 0o644))

	jobs, err := List(context.Background(), f.opts())
	require.NoError(t, err)
	files, err := jobs[0].TempFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}
