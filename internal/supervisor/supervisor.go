// Package supervisor wires configuration, process inspection, admission and
// archiving into the operations exposed by the CLI and the status server.
//
// Every operation rebuilds the job view from the process table and the
// worker logs; the supervisor keeps no job state of its own.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/plotherd/internal/config"
	"github.com/3leaps/plotherd/internal/observability"
	"github.com/3leaps/plotherd/pkg/admission"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
	"github.com/3leaps/plotherd/pkg/process"
)

// Supervisor owns the collaborators shared by every operation.
type Supervisor struct {
	cfg     *config.Config
	probe   process.Probe
	control process.Control
	spawner admission.Spawner
	space   archive.SpaceQuerier
	mover   archive.Mover
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	cancelGrace time.Duration
	cancelPoll  time.Duration

	// archiver is the running archive loop's, so reports show its
	// round-robin position.
	archMu   sync.Mutex
	archiver *archive.Archiver
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithProbe(p process.Probe) Option       { return func(s *Supervisor) { s.probe = p } }
func WithControl(c process.Control) Option   { return func(s *Supervisor) { s.control = c } }
func WithSpawner(sp admission.Spawner) Option { return func(s *Supervisor) { s.spawner = sp } }
func WithSpace(q archive.SpaceQuerier) Option { return func(s *Supervisor) { s.space = q } }
func WithMover(m archive.Mover) Option       { return func(s *Supervisor) { s.mover = m } }
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}
func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCancelTiming overrides how long Kill waits for a worker to exit.
func WithCancelTiming(grace, poll time.Duration) Option {
	return func(s *Supervisor) {
		s.cancelGrace = grace
		s.cancelPoll = poll
	}
}

// New builds a Supervisor for cfg. Collaborators not supplied through
// options default to the real process table, signals, disk and spawner.
func New(cfg *config.Config, opts ...Option) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("supervisor: config is required")
	}
	s := &Supervisor{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.probe == nil {
		s.probe = process.NewSystemProbe(job.MatchFunc(cfg.Plotting.Executable))
	}
	if s.control == nil {
		s.control = process.NewControl()
	}
	if s.spawner == nil {
		s.spawner = admission.NewExecSpawner(cfg.Directories.Log, s.logger)
	}
	if s.space == nil {
		s.space = archive.DiskSpace{}
	}
	if s.mover == nil {
		s.mover = archive.NewFileMover(cfg.Archive.MaxBytesPerSecond)
	}
	return s, nil
}

// Config returns the configuration the supervisor was built with.
func (s *Supervisor) Config() *config.Config { return s.cfg }

func (s *Supervisor) jobOptions(tracker *plotlog.Tracker) job.Options {
	return job.Options{
		Executable:  s.cfg.Plotting.Executable,
		LogDir:      s.cfg.Directories.Log,
		Probe:       s.probe,
		Control:     s.control,
		Tracker:     tracker,
		CancelGrace: s.cancelGrace,
		CancelPoll:  s.cancelPoll,
		Logger:      s.logger,
	}
}

// list rebuilds the live job set. Tracker state for logs no longer owned by
// a live job is dropped so long-running loops do not accumulate it.
func (s *Supervisor) list(ctx context.Context, tracker *plotlog.Tracker) ([]*job.Job, error) {
	jobs, err := job.List(ctx, s.jobOptions(tracker))
	if err != nil {
		return nil, err
	}
	if tracker != nil {
		keep := make(map[string]bool, len(jobs))
		for _, j := range jobs {
			if j.LogPath != "" {
				keep[j.LogPath] = true
			}
		}
		tracker.Retain(keep)
	}
	s.observeJobs(jobs)
	return jobs, nil
}

func (s *Supervisor) observeJobs(jobs []*job.Job) {
	var running, suspended int
	for _, j := range jobs {
		switch j.State {
		case job.StateRunning:
			running++
		case job.StateSuspended:
			suspended++
		}
	}
	s.metrics.Jobs(running, suspended)
}

// ListJobs returns every live job, oldest first.
func (s *Supervisor) ListJobs(ctx context.Context) ([]*job.Job, error) {
	return s.list(ctx, plotlog.NewTracker())
}

// Status returns one summary row per live job.
func (s *Supervisor) Status(ctx context.Context) ([]job.Summary, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]job.Summary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Summary(now))
	}
	return out, nil
}

// selectJobs lists live jobs and resolves prefixes against them.
func (s *Supervisor) selectJobs(ctx context.Context, prefixes []string) ([]*job.Job, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	return job.SelectAll(jobs, prefixes)
}
