// Package schedule summarizes how far along the jobs in each directory are.
package schedule

import (
	"sort"

	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
)

// Usage describes the jobs currently working in one directory.
type Usage struct {
	// Furthest is the most advanced milestone among the directory's jobs.
	Furthest plotlog.Milestone `json:"furthest"`
	Jobs     int               `json:"jobs"`
}

// Schedule maps a directory to its usage. Directories without jobs are
// absent.
type Schedule map[string]Usage

// ForTmp builds the schedule over every temp dir of every job. A job whose
// -t and -2 dirs are the same counts once.
func ForTmp(jobs []*job.Job) Schedule {
	s := make(Schedule)
	for _, j := range jobs {
		for _, dir := range j.TmpDirs {
			s.add(dir, j.Progress.Milestone())
		}
	}
	return s
}

// ForDst builds the schedule over destination dirs.
func ForDst(jobs []*job.Job) Schedule {
	s := make(Schedule)
	for _, j := range jobs {
		if j.DstDir != "" {
			s.add(j.DstDir, j.Progress.Milestone())
		}
	}
	return s
}

func (s Schedule) add(dir string, m plotlog.Milestone) {
	u := s[dir]
	if u.Jobs == 0 || u.Furthest.Less(m) {
		u.Furthest = m
	}
	u.Jobs++
	s[dir] = u
}

// Get returns the usage for dir; the zero Usage when no job works there.
func (s Schedule) Get(dir string) Usage {
	return s[dir]
}

// Dirs returns the directories in path order.
func (s Schedule) Dirs() []string {
	dirs := make([]string, 0, len(s))
	for d := range s {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Milestones lists the milestone of every job per destination dir, most
// advanced first. This is the destination schedule report.
func Milestones(jobs []*job.Job) map[string][]plotlog.Milestone {
	out := make(map[string][]plotlog.Milestone)
	for _, j := range jobs {
		if j.DstDir != "" {
			out[j.DstDir] = append(out[j.DstDir], j.Progress.Milestone())
		}
	}
	sortDesc(out)
	return out
}

// TmpMilestones is Milestones keyed by temp dir.
func TmpMilestones(jobs []*job.Job) map[string][]plotlog.Milestone {
	out := make(map[string][]plotlog.Milestone)
	for _, j := range jobs {
		for _, dir := range j.TmpDirs {
			out[dir] = append(out[dir], j.Progress.Milestone())
		}
	}
	sortDesc(out)
	return out
}

func sortDesc(out map[string][]plotlog.Milestone) {
	for dir := range out {
		ms := out[dir]
		sort.SliceStable(ms, func(a, b int) bool { return ms[b].Less(ms[a]) })
	}
}
