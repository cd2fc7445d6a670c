// Package admission decides when and where a new plot worker may start.
//
// Each tick rebuilds the live job set, checks the global limits, then picks
// a temp and a destination directory by priority, per-directory load and
// phase staggering. A decline is not an error: it carries a human-readable
// WaitReason naming the first unmet condition.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
	"github.com/3leaps/plotherd/pkg/schedule"
)

// Wait reasons for the global checks.
const (
	ReasonGlobalLimit   = "global limit"
	ReasonGlobalStagger = "global stagger"
)

// Config holds the admission policy.
type Config struct {
	TmpDirs []string
	Tmp2Dir string
	DstDirs []string

	GlobalMaxJobs int
	// GlobalStagger is the minimum time between two starts; 0 disables it.
	GlobalStagger time.Duration

	TmpDirMaxJobs int
	// DstDirMaxJobs of 0 falls back to TmpDirMaxJobs.
	DstDirMaxJobs int
	// Tmp2MaxJobs caps jobs sharing Tmp2Dir; 0 falls back to GlobalMaxJobs.
	Tmp2MaxJobs int

	// Stagger is the milestone the furthest job in a directory must reach
	// before another job may start there.
	Stagger plotlog.Milestone

	Plot PlotParams
}

// ListFunc returns the current live jobs.
type ListFunc func(ctx context.Context) ([]*job.Job, error)

// Decision is the outcome of one admission tick.
type Decision struct {
	Started    bool     `json:"started"`
	WaitReason string   `json:"wait_reason,omitempty"`
	TmpDir     string   `json:"tmp_dir,omitempty"`
	DstDir     string   `json:"dst_dir,omitempty"`
	PID        int      `json:"pid,omitempty"`
	LogPath    string   `json:"log_path,omitempty"`
	Argv       []string `json:"argv,omitempty"`
	LiveJobs   int      `json:"live_jobs"`
}

// Scheduler runs admission ticks. It holds no state between ticks.
type Scheduler struct {
	cfg     Config
	list    ListFunc
	spawner Spawner
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for stagger checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(cfg Config, list ListFunc, spawner Spawner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		list:    list,
		spawner: spawner,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaybeStartNewPlot starts at most one worker.
func (s *Scheduler) MaybeStartNewPlot(ctx context.Context) (Decision, error) {
	jobs, err := s.list(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("list jobs: %w", err)
	}

	live := liveJobs(jobs)
	d := Decision{LiveJobs: len(live)}

	if len(live) >= s.cfg.GlobalMaxJobs {
		d.WaitReason = ReasonGlobalLimit
		return d, nil
	}
	if s.cfg.GlobalStagger > 0 {
		if youngest, ok := youngestStart(live); ok && s.now().Sub(youngest) < s.cfg.GlobalStagger {
			d.WaitReason = ReasonGlobalStagger
			return d, nil
		}
	}

	tmpSched := schedule.ForTmp(live)
	tmp, reasons := pick(s.cfg.TmpDirs, tmpSched, s.cfg.TmpDirMaxJobs, s.cfg.Stagger)
	if tmp == "" {
		d.WaitReason = "no eligible tmp dir: " + strings.Join(reasons, "; ")
		return d, nil
	}

	// The -2 dir is shared by every job, so only its job count is capped.
	if tmp2 := s.cfg.Tmp2Dir; tmp2 != "" && tmp2 != tmp {
		limit := s.cfg.Tmp2MaxJobs
		if limit <= 0 {
			limit = s.cfg.GlobalMaxJobs
		}
		c := candidate{path: tmp2, usage: tmpSched.Get(tmp2)}
		if reason, ok := eligible(c, limit, plotlog.Milestone{}); !ok {
			d.WaitReason = "no eligible tmp2 dir: " + reason
			return d, nil
		}
	}

	dst := tmp
	if len(s.cfg.DstDirs) > 0 {
		limit := s.cfg.DstDirMaxJobs
		if limit <= 0 {
			limit = s.cfg.TmpDirMaxJobs
		}
		dst, reasons = pick(s.cfg.DstDirs, schedule.ForDst(live), limit, s.cfg.Stagger)
		if dst == "" {
			d.WaitReason = "no eligible dst dir: " + strings.Join(reasons, "; ")
			return d, nil
		}
	}

	argv := BuildArgs(s.cfg.Plot, tmp, s.cfg.Tmp2Dir, dst)
	d.TmpDir, d.DstDir, d.Argv = tmp, dst, argv

	spawned, err := s.spawner.Spawn(ctx, argv)
	if err != nil {
		return d, &SpawnError{TmpDir: tmp, DstDir: dst, Argv: argv, Err: err}
	}
	d.Started = true
	d.PID = spawned.PID
	d.LogPath = spawned.LogPath
	s.logger.Info("Started worker",
		zap.Int("pid", spawned.PID),
		zap.String("tmp_dir", tmp),
		zap.String("dst_dir", dst),
		zap.String("log", spawned.LogPath))
	return d, nil
}

// candidate is one directory under consideration.
type candidate struct {
	priority int
	path     string
	usage    schedule.Usage
}

// less orders candidates: configured priority, then the most advanced
// furthest job, then fewer jobs, then path.
func (c candidate) less(o candidate) bool {
	if c.priority != o.priority {
		return c.priority < o.priority
	}
	if c.usage.Furthest != o.usage.Furthest {
		return o.usage.Furthest.Less(c.usage.Furthest)
	}
	if c.usage.Jobs != o.usage.Jobs {
		return c.usage.Jobs < o.usage.Jobs
	}
	return c.path < o.path
}

// pick returns the first eligible dir and, when none is, the reason each
// one was declined.
func pick(dirs []string, sched schedule.Schedule, maxJobs int, stagger plotlog.Milestone) (string, []string) {
	cands := make([]candidate, 0, len(dirs))
	for i, dir := range dirs {
		cands = append(cands, candidate{priority: i, path: dir, usage: sched.Get(dir)})
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].less(cands[b]) })

	var reasons []string
	for _, c := range cands {
		if reason, ok := eligible(c, maxJobs, stagger); !ok {
			reasons = append(reasons, reason)
			continue
		}
		return c.path, nil
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "none configured")
	}
	return "", reasons
}

func eligible(c candidate, maxJobs int, stagger plotlog.Milestone) (string, bool) {
	if c.usage.Jobs >= maxJobs {
		return fmt.Sprintf("%s dir limit (%d/%d)", c.path, c.usage.Jobs, maxJobs), false
	}
	if c.usage.Jobs > 0 && c.usage.Furthest.Less(stagger) {
		return fmt.Sprintf("%s stagger (%s < %s)", c.path, c.usage.Furthest, stagger), false
	}
	return "", true
}

func liveJobs(jobs []*job.Job) []*job.Job {
	out := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.State != job.StateTerminated {
			out = append(out, j)
		}
	}
	return out
}

func youngestStart(jobs []*job.Job) (time.Time, bool) {
	var t time.Time
	for _, j := range jobs {
		if j.StartTime.After(t) {
			t = j.StartTime
		}
	}
	return t, !t.IsZero()
}

// IsSpawnFailure reports whether err came from starting a worker.
func IsSpawnFailure(err error) bool {
	return errors.Is(err, ErrSpawnFailure)
}
