package supervisor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/internal/observability"
	"github.com/3leaps/plotherd/pkg/admission"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
)

// ErrNoArchiveDirs is returned by RunArchiveLoop when no archive directory
// is configured.
var ErrNoArchiveDirs = errors.New("no archive directories configured")

// AdmissionObserver receives every admission decision; the plot command
// uses it to print wait reasons.
type AdmissionObserver func(admission.Decision, error)

// ArchiveObserver receives the result of every archive tick.
type ArchiveObserver func(archive.Result, error)

// NewScheduler builds the admission scheduler for the supervisor's config.
// The scheduler keeps its own log tracker across ticks.
func (s *Supervisor) NewScheduler() *admission.Scheduler {
	tracker := plotlog.NewTracker()
	list := func(ctx context.Context) ([]*job.Job, error) {
		return s.list(ctx, tracker)
	}
	return admission.NewScheduler(s.cfg.AdmissionConfig(), list, s.spawner,
		admission.WithLogger(s.logger), admission.WithClock(s.now))
}

// NewArchiver builds the archive scheduler for the supervisor's config.
func (s *Supervisor) NewArchiver() *archive.Archiver {
	return archive.New(s.cfg.ArchiveConfig(), s.space, s.mover, archive.WithLogger(s.logger))
}

func (s *Supervisor) setArchiver(a *archive.Archiver) {
	s.archMu.Lock()
	defer s.archMu.Unlock()
	s.archiver = a
}

// currentArchiver returns the archive loop's archiver, or a fresh one when
// no loop runs in this process.
func (s *Supervisor) currentArchiver() *archive.Archiver {
	s.archMu.Lock()
	defer s.archMu.Unlock()
	if s.archiver != nil {
		return s.archiver
	}
	return s.NewArchiver()
}

// RunAdmissionLoop starts at most one worker per polling interval until ctx
// is done. Tick failures (including spawn failures) are logged and the loop
// continues. It returns ctx.Err().
func (s *Supervisor) RunAdmissionLoop(ctx context.Context, observe AdmissionObserver) error {
	sched := s.NewScheduler()
	interval := s.cfg.Scheduling.PollingInterval

	s.logger.Info("Admission loop started",
		zap.Strings("tmp_dirs", s.cfg.Directories.Tmp),
		zap.Strings("dst_dirs", s.cfg.Directories.Dst),
		zap.Duration("interval", interval))

	for {
		d, err := s.admissionTick(ctx, sched)
		if observe != nil {
			observe(d, err)
		}
		if err := sleep(ctx, interval); err != nil {
			s.logger.Info("Admission loop stopped")
			return err
		}
	}
}

func (s *Supervisor) admissionTick(ctx context.Context, sched *admission.Scheduler) (admission.Decision, error) {
	start := time.Now()
	log := s.logger.With(zap.String("tick_id", uuid.NewString()))
	defer func() { s.metrics.TickDuration("admission", time.Since(start).Seconds()) }()

	d, err := sched.MaybeStartNewPlot(ctx)
	s.metrics.Admission(admissionOutcome(d, err))
	switch {
	case err != nil && admission.IsSpawnFailure(err):
		log.Error("Failed to start worker", zap.String("tmp_dir", d.TmpDir), zap.String("dst_dir", d.DstDir), zap.Error(err))
	case err != nil:
		log.Warn("Admission tick failed", zap.Error(err))
	case d.Started:
		log.Info("Admitted new plot", zap.Int("pid", d.PID), zap.String("tmp_dir", d.TmpDir), zap.String("dst_dir", d.DstDir), zap.Int("live_jobs", d.LiveJobs+1))
	default:
		log.Debug("Not admitting", zap.String("reason", d.WaitReason), zap.Int("live_jobs", d.LiveJobs))
	}
	return d, err
}

func admissionOutcome(d admission.Decision, err error) string {
	switch {
	case err != nil && admission.IsSpawnFailure(err):
		return observability.OutcomeSpawnFailed
	case err != nil:
		return observability.OutcomeError
	case d.Started:
		return observability.OutcomeStarted
	case d.WaitReason == admission.ReasonGlobalLimit:
		return observability.OutcomeGlobalLimit
	case d.WaitReason == admission.ReasonGlobalStagger:
		return observability.OutcomeGlobalStagger
	case strings.HasPrefix(d.WaitReason, "no eligible dst"):
		return observability.OutcomeNoDstDir
	default:
		return observability.OutcomeNoTmpDir
	}
}

// RunArchiveLoop moves finished plots to archive volumes every archive
// polling interval until ctx is done. It returns ctx.Err(), or
// ErrNoArchiveDirs without starting when nothing is configured.
func (s *Supervisor) RunArchiveLoop(ctx context.Context, observe ArchiveObserver) error {
	if len(s.cfg.Directories.Archive) == 0 {
		return ErrNoArchiveDirs
	}
	arch := s.NewArchiver()
	s.setArchiver(arch)
	defer s.setArchiver(nil)
	tracker := plotlog.NewTracker()
	interval := s.cfg.Scheduling.ArchivePollingInterval

	s.logger.Info("Archive loop started",
		zap.Strings("sources", s.cfg.Directories.DstOrTmp()),
		zap.Strings("destinations", s.cfg.Directories.Archive),
		zap.Duration("interval", interval))

	for {
		res, err := s.archiveTick(ctx, arch, tracker)
		if observe != nil {
			observe(res, err)
		}
		if err := sleep(ctx, interval); err != nil {
			s.logger.Info("Archive loop stopped")
			return err
		}
	}
}

func (s *Supervisor) archiveTick(ctx context.Context, arch *archive.Archiver, tracker *plotlog.Tracker) (archive.Result, error) {
	start := time.Now()
	log := s.logger.With(zap.String("tick_id", uuid.NewString()))
	defer func() { s.metrics.TickDuration("archive", time.Since(start).Seconds()) }()

	jobs, err := s.list(ctx, tracker)
	if err != nil {
		log.Warn("Archive tick failed", zap.Error(err))
		return archive.Result{}, err
	}

	res, err := arch.Tick(ctx, jobs)
	for _, m := range res.Moved {
		s.metrics.Archived(m.Bytes, m.Renamed)
		log.Info("Archived plot", zap.String("src", m.Src), zap.String("dst", m.Dst),
			zap.Int64("bytes", m.Bytes), zap.Duration("duration", m.Duration))
	}
	s.metrics.ArchiveFailures(res.Failed)
	s.metrics.ArchivePending(len(res.Pending))

	if res.WaitReason != "" {
		log.Info("Archive waiting", zap.String("reason", res.WaitReason), zap.Int("pending", len(res.Pending)))
	}
	if len(res.Aborted) > 0 {
		log.Warn("Archive destinations out of space", zap.Strings("aborted", res.Aborted))
	}
	if err != nil && ctx.Err() == nil {
		log.Warn("Archive tick finished with errors", zap.Int("failed", res.Failed), zap.Error(err))
	}
	return res, err
}

// sleep waits the full interval, returning early with ctx.Err() when ctx
// is done.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
