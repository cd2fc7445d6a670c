package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
	"github.com/3leaps/plotherd/pkg/schedule"
)

// JobDetails resolves prefixes and returns the matching jobs.
func (s *Supervisor) JobDetails(ctx context.Context, prefixes []string) ([]*job.Job, error) {
	return s.selectJobs(ctx, prefixes)
}

// Suspend pauses every job the prefixes select. A failure on one job does
// not stop the others; failures are returned aggregated.
func (s *Supervisor) Suspend(ctx context.Context, prefixes []string) ([]*job.Job, error) {
	return s.each(ctx, prefixes, "Job suspended", (*job.Job).Suspend)
}

// Resume continues every job the prefixes select.
func (s *Supervisor) Resume(ctx context.Context, prefixes []string) ([]*job.Job, error) {
	return s.each(ctx, prefixes, "Job resumed", (*job.Job).Resume)
}

func (s *Supervisor) each(ctx context.Context, prefixes []string, done string, fn func(*job.Job, context.Context) error) ([]*job.Job, error) {
	jobs, err := s.selectJobs(ctx, prefixes)
	if err != nil {
		return nil, err
	}
	var errs *multierror.Error
	for _, j := range jobs {
		if err := fn(j, ctx); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		s.logger.Info(done, zap.String("plot_id", j.PlotID), zap.Int("pid", j.PID))
	}
	return jobs, errs.ErrorOrNil()
}

// JobFiles is a job together with the temp files it owns.
type JobFiles struct {
	PlotID string   `json:"plot_id"`
	PID    int      `json:"pid"`
	Files  []string `json:"files"`
}

// TempFiles lists the temp files of every selected job.
func (s *Supervisor) TempFiles(ctx context.Context, prefixes []string) ([]JobFiles, error) {
	jobs, err := s.selectJobs(ctx, prefixes)
	if err != nil {
		return nil, err
	}
	out := make([]JobFiles, 0, len(jobs))
	for _, j := range jobs {
		files, err := j.TempFiles()
		if err != nil {
			return nil, err
		}
		out = append(out, JobFiles{PlotID: j.PlotID, PID: j.PID, Files: files})
	}
	return out, nil
}

// ConfirmFunc is asked before a job is killed. It sees the job already
// suspended, and the temp files that will be removed.
type ConfirmFunc func(j *job.Job, tempFiles []string) (bool, error)

// KillResult reports what Kill did to one job.
type KillResult struct {
	PlotID   string   `json:"plot_id"`
	PID      int      `json:"pid"`
	Declined bool     `json:"declined,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// Kill terminates every selected job and deletes its temp files.
//
// Each job is suspended first so it cannot create new temp files, then the
// file list is taken and confirm is asked. A declined job is resumed unless
// it was already suspended. Exactly the listed files are removed once the
// worker is gone. A nil confirm kills without asking.
func (s *Supervisor) Kill(ctx context.Context, prefixes []string, confirm ConfirmFunc) ([]KillResult, error) {
	jobs, err := s.selectJobs(ctx, prefixes)
	if err != nil {
		return nil, err
	}

	var (
		results []KillResult
		errs    *multierror.Error
	)
	for _, j := range jobs {
		res, err := s.killOne(ctx, j, confirm)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		results = append(results, res)
	}
	return results, errs.ErrorOrNil()
}

func (s *Supervisor) killOne(ctx context.Context, j *job.Job, confirm ConfirmFunc) (KillResult, error) {
	res := KillResult{PlotID: j.PlotID, PID: j.PID}
	wasSuspended := j.State == job.StateSuspended

	if err := j.Suspend(ctx); err != nil {
		return res, err
	}
	files, err := j.TempFiles()
	if err != nil {
		s.restore(ctx, j, wasSuspended)
		return res, fmt.Errorf("job %s: list temp files: %w", j.PlotID, err)
	}

	if confirm != nil {
		ok, err := confirm(j, files)
		if err != nil || !ok {
			s.restore(ctx, j, wasSuspended)
			res.Declined = err == nil
			return res, err
		}
	}

	if err := j.Cancel(ctx); err != nil {
		return res, err
	}
	s.logger.Info("Job killed", zap.String("plot_id", j.PlotID), zap.Int("pid", j.PID), zap.Int("temp_files", len(files)))

	var errs *multierror.Error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = multierror.Append(errs, err)
			continue
		}
		res.Removed = append(res.Removed, f)
	}
	return res, errs.ErrorOrNil()
}

// restore resumes a job that Kill paused but did not kill.
func (s *Supervisor) restore(ctx context.Context, j *job.Job, wasSuspended bool) {
	if wasSuspended {
		return
	}
	if err := j.Resume(ctx); err != nil {
		s.logger.Warn("Failed to resume job", zap.String("plot_id", j.PlotID), zap.Error(err))
	}
}

// DirMilestones lists the milestones of jobs writing into one directory.
type DirMilestones struct {
	Dir        string              `json:"dir"`
	Milestones []plotlog.Milestone `json:"milestones"`
}

// DestinationSchedule reports, per destination directory in configured
// order, the milestones of jobs targeting it (most advanced first).
// Directories without jobs are included with no milestones.
func (s *Supervisor) DestinationSchedule(ctx context.Context) ([]DirMilestones, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	byDir := schedule.Milestones(jobs)
	dirs := s.cfg.Directories.DstOrTmp()

	out := make([]DirMilestones, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		seen[d] = true
		out = append(out, DirMilestones{Dir: d, Milestones: byDir[d]})
	}
	// Jobs started by hand may target directories outside the config.
	for _, d := range schedule.ForDst(jobs).Dirs() {
		if !seen[d] {
			out = append(out, DirMilestones{Dir: d, Milestones: byDir[d]})
		}
	}
	return out, nil
}

// DirUsage is one row of the directory report.
type DirUsage struct {
	Path       string              `json:"path"`
	Jobs       int                 `json:"jobs"`
	Milestones []plotlog.Milestone `json:"milestones,omitempty"`
	Space      archive.Space       `json:"space"`
	Err        string              `json:"error,omitempty"`

	// LastUsed is the archive round-robin sequence; 0 means not used yet.
	LastUsed uint64 `json:"last_used,omitempty"`
}

// DirectoryReport covers every configured directory.
type DirectoryReport struct {
	Tmp     []DirUsage `json:"tmp"`
	Dst     []DirUsage `json:"dst"`
	Archive []DirUsage `json:"archive,omitempty"`
}

// DirectoryReport reports job load and free space for the temp, destination
// and archive directories.
func (s *Supervisor) DirectoryReport(ctx context.Context) (DirectoryReport, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return DirectoryReport{}, err
	}

	tmpMilestones := schedule.TmpMilestones(jobs)
	tmpSched := schedule.ForTmp(jobs)
	dstSched := schedule.ForDst(jobs)
	dstMilestones := schedule.Milestones(jobs)

	rep := DirectoryReport{}
	for _, d := range s.cfg.Directories.Tmp {
		rep.Tmp = append(rep.Tmp, s.usage(ctx, d, tmpSched.Get(d).Jobs, tmpMilestones[d]))
	}
	for _, d := range s.cfg.Directories.DstOrTmp() {
		rep.Dst = append(rep.Dst, s.usage(ctx, d, dstSched.Get(d).Jobs, dstMilestones[d]))
	}
	for _, d := range s.currentArchiver().Destinations(ctx) {
		rep.Archive = append(rep.Archive, DirUsage{Path: d.Path, Space: d.Space, Err: d.Err, LastUsed: d.LastUsed})
	}
	return rep, nil
}

func (s *Supervisor) usage(ctx context.Context, dir string, jobs int, ms []plotlog.Milestone) DirUsage {
	u := DirUsage{Path: dir, Jobs: jobs, Milestones: ms}
	sp, err := s.space.Space(ctx, dir)
	if err != nil {
		u.Err = err.Error()
		return u
	}
	u.Space = sp
	return u
}
