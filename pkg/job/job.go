// Package job models running plot workers.
//
// A Job is rebuilt from scratch on every polling iteration from two sources
// of truth: the OS process table and the worker's log file. Nothing is
// persisted between iterations.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/pkg/plotlog"
	"github.com/3leaps/plotherd/pkg/process"
)

// ErrProcessGone indicates the job's PID no longer exists; the job most
// likely finished or was killed externally.
var ErrProcessGone = process.ErrProcessGone

var errStillRunning = errors.New("process still running")

// State is the lifecycle state of a job.
type State string

const (
	StateRunning    State = "running"
	StateSuspended  State = "suspended"
	StateTerminated State = "terminated"
)

const (
	defaultCancelGrace = 30 * time.Second
	defaultCancelPoll  = 250 * time.Millisecond
)

// Options configures how jobs are discovered and controlled.
type Options struct {
	// Executable is the worker binary name (default "chia").
	Executable string

	// LogDir is the directory worker logs are written to.
	LogDir string

	Probe   process.Probe
	Control process.Control

	// Tracker carries incremental log offsets across iterations.
	// A nil Tracker parses every log from the start.
	Tracker *plotlog.Tracker

	// CancelGrace bounds how long Cancel waits for the process to exit
	// before escalating to a kill.
	CancelGrace time.Duration
	CancelPoll  time.Duration

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Executable == "" {
		o.Executable = DefaultExecutable
	}
	if o.Tracker == nil {
		o.Tracker = plotlog.NewTracker()
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = defaultCancelGrace
	}
	if o.CancelPoll <= 0 {
		o.CancelPoll = defaultCancelPoll
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Job is the in-memory model of one worker process.
type Job struct {
	PlotID    string
	PID       int
	StartTime time.Time
	CPUTime   time.Duration
	TmpDirs   []string
	DstDir    string
	LogPath   string
	Args      Args
	Progress  plotlog.Progress
	State     State

	opts Options
}

// MatchFunc returns a process.MatchFunc accepting worker invocations.
func MatchFunc(executable string) process.MatchFunc {
	return func(_ string, cmdline []string) bool {
		_, ok := WorkerArgs(executable, cmdline)
		return ok
	}
}

// List probes the process table and rebuilds the live job set.
func List(ctx context.Context, opts Options) ([]*Job, error) {
	opts = opts.withDefaults()
	if opts.Probe == nil {
		return nil, errors.New("job: probe is required")
	}
	infos, err := opts.Probe.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe processes: %w", err)
	}
	return Rebuild(infos, opts), nil
}

// Rebuild derives the live job set from a process table snapshot and the
// worker logs. It only reads logs; it never signals processes.
//
// Workers whose parent is itself a worker (wrapper processes) are reported
// once, as the outermost process. Jobs are ordered by start time, then PID.
func Rebuild(infos []process.Info, opts Options) []*Job {
	opts = opts.withDefaults()

	workers := make(map[int]process.Info, len(infos))
	for _, info := range infos {
		if _, ok := WorkerArgs(opts.Executable, info.Cmdline); ok {
			workers[info.PID] = info
		}
	}

	jobs := make([]*Job, 0, len(workers))
	for pid, info := range workers {
		if _, parentIsWorker := workers[info.PPID]; parentIsWorker && info.PPID != pid {
			continue
		}
		if info.Status == process.StatusZombie {
			continue
		}
		j := &Job{PID: pid, opts: opts}
		j.apply(info)
		j.refreshLog()
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].StartTime.Equal(jobs[b].StartTime) {
			return jobs[a].StartTime.Before(jobs[b].StartTime)
		}
		return jobs[a].PID < jobs[b].PID
	})
	return jobs
}

// apply copies process-table fields onto the job.
func (j *Job) apply(info process.Info) {
	rest, _ := WorkerArgs(j.opts.Executable, info.Cmdline)
	j.Args = ParseArgs(rest)
	j.TmpDirs = j.Args.TmpDirs()
	j.DstDir = j.Args.DstDir
	j.StartTime = info.CreateTime
	j.CPUTime = info.CPUTime

	switch info.Status {
	case process.StatusStopped:
		j.State = StateSuspended
	default:
		j.State = StateRunning
	}

	if j.LogPath == "" {
		j.LogPath = findLog(j.opts.LogDir, info.OpenFiles)
	}
}

func (j *Job) refreshLog() {
	if j.LogPath != "" {
		p, err := j.opts.Tracker.Update(j.LogPath)
		if err != nil {
			j.opts.Logger.Debug("Failed to read worker log",
				zap.Int("pid", j.PID), zap.String("log", j.LogPath), zap.Error(err))
		}
		j.Progress = p
	}
	j.PlotID = j.Progress.PlotID
	if j.PlotID == "" {
		j.PlotID = placeholderID(j.PID)
	}
}

// findLog picks the open file living in logDir. When logDir is empty any
// open *.log file qualifies.
func findLog(logDir string, open []string) string {
	logDir = filepath.Clean(logDir)
	for _, path := range open {
		if !strings.HasSuffix(path, ".log") {
			continue
		}
		if logDir == "." || filepath.Dir(filepath.Clean(path)) == logDir {
			return path
		}
	}
	return ""
}

func placeholderID(pid int) string {
	return fmt.Sprintf("pid-%d", pid)
}

// HasPlotID reports whether the worker has announced its real plot ID.
func (j *Job) HasPlotID() bool {
	return j.PlotID != "" && j.PlotID == j.Progress.PlotID
}

// Refresh re-reads the process entry and the tail of the log.
// Returns ErrProcessGone if the process no longer exists.
func (j *Job) Refresh(ctx context.Context) error {
	if j.opts.Probe == nil {
		return errors.New("job: probe is required")
	}
	info, err := j.opts.Probe.Get(ctx, j.PID)
	if err != nil {
		if errors.Is(err, process.ErrProcessGone) {
			j.State = StateTerminated
			return fmt.Errorf("job %s: %w", j.PlotID, ErrProcessGone)
		}
		return fmt.Errorf("job %s: %w", j.PlotID, err)
	}
	if info.Status == process.StatusZombie {
		j.State = StateTerminated
		return fmt.Errorf("job %s: %w", j.PlotID, ErrProcessGone)
	}
	j.apply(info)
	j.refreshLog()
	return nil
}

// Suspend pauses the worker. Suspending an already suspended job is a no-op
// signal-wise: the pause is simply re-sent.
func (j *Job) Suspend(ctx context.Context) error {
	if err := j.signal(ctx, "suspend", j.opts.Control.Pause); err != nil {
		return err
	}
	j.State = StateSuspended
	return nil
}

// Resume continues a suspended worker; it does nothing for a running one.
func (j *Job) Resume(ctx context.Context) error {
	if j.State == StateTerminated || !j.opts.Control.IsAlive(ctx, j.PID) {
		j.State = StateTerminated
		return fmt.Errorf("job %s: %w", j.PlotID, ErrProcessGone)
	}
	if j.State == StateRunning {
		return nil
	}
	if err := j.signal(ctx, "resume", j.opts.Control.Continue); err != nil {
		return err
	}
	j.State = StateRunning
	return nil
}

// Cancel terminates the worker and waits for it to exit, escalating to a
// kill after the grace period. Callers should Suspend first so the worker
// cannot create new temp files before the signal lands.
func (j *Job) Cancel(ctx context.Context) error {
	ctl := j.opts.Control
	if err := j.signal(ctx, "terminate", ctl.Terminate); err != nil {
		return err
	}
	// A stopped process only acts on SIGTERM once continued.
	_ = ctl.Continue(ctx, j.PID)

	attempts := uint(j.opts.CancelGrace / j.opts.CancelPoll)
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			if ctl.IsAlive(ctx, j.PID) {
				return errStillRunning
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(j.opts.CancelPoll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		j.opts.Logger.Warn("Worker ignored terminate, killing",
			zap.String("plot_id", j.PlotID), zap.Int("pid", j.PID), zap.Duration("grace", j.opts.CancelGrace))
		if kerr := ctl.Kill(ctx, j.PID); kerr != nil && !errors.Is(kerr, process.ErrProcessGone) {
			return fmt.Errorf("job %s: kill: %w", j.PlotID, kerr)
		}
	}
	j.State = StateTerminated
	return nil
}

func (j *Job) signal(ctx context.Context, op string, fn func(context.Context, int) error) error {
	if j.State == StateTerminated {
		return fmt.Errorf("job %s: %w", j.PlotID, ErrProcessGone)
	}
	if err := fn(ctx, j.PID); err != nil {
		if errors.Is(err, process.ErrProcessGone) {
			j.State = StateTerminated
			return fmt.Errorf("job %s: %w", j.PlotID, ErrProcessGone)
		}
		return fmt.Errorf("job %s: %s: %w", j.PlotID, op, err)
	}
	return nil
}

// TempFiles lists files under the job's temp dirs that belong to this plot.
// Jobs that have not announced a plot ID own no temp files yet.
func (j *Job) TempFiles() ([]string, error) {
	if !j.HasPlotID() {
		return nil, nil
	}
	pattern := "*" + j.PlotID + "*.tmp"

	seen := make(map[string]bool)
	var out []string
	for _, dir := range j.TmpDirs {
		matches, err := doublestar.Glob(os.DirFS(dir), pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", dir, err)
		}
		for _, m := range matches {
			path := filepath.Join(dir, m)
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Elapsed returns the wall time since the worker started.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.StartTime.IsZero() || now.Before(j.StartTime) {
		return 0
	}
	return now.Sub(j.StartTime)
}
