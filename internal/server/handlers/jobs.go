package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/plotherd/internal/errors"
	"github.com/3leaps/plotherd/internal/supervisor"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
)

// Supervisor is the read-only part of the supervisor the status API serves.
type Supervisor interface {
	Status(ctx context.Context) ([]job.Summary, error)
	JobDetails(ctx context.Context, prefixes []string) ([]*job.Job, error)
	TempFiles(ctx context.Context, prefixes []string) ([]supervisor.JobFiles, error)
	DestinationSchedule(ctx context.Context) ([]supervisor.DirMilestones, error)
	DirectoryReport(ctx context.Context) (supervisor.DirectoryReport, error)
}

// JobDetail is the body of /jobs/{prefix}.
type JobDetail struct {
	job.Summary
	Args     job.Args         `json:"args"`
	TmpDirs  []string         `json:"tmp_dirs"`
	Progress plotlog.Progress `json:"progress"`
}

// JobsAPI serves the job and directory views.
type JobsAPI struct {
	sup Supervisor
	now func() time.Time
}

func NewJobsAPI(sup Supervisor) *JobsAPI {
	return &JobsAPI{sup: sup, now: time.Now}
}

func (a *JobsAPI) List(w http.ResponseWriter, r *http.Request) {
	rows, err := a.sup.Status(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "list jobs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": rows, "count": len(rows)})
}

func (a *JobsAPI) Detail(w http.ResponseWriter, r *http.Request) {
	prefixes, ok := prefixParam(w, r)
	if !ok {
		return
	}
	jobs, err := a.sup.JobDetails(r.Context(), prefixes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	now := a.now()
	out := make([]JobDetail, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobDetail{
			Summary:  j.Summary(now),
			Args:     j.Args,
			TmpDirs:  j.TmpDirs,
			Progress: j.Progress,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (a *JobsAPI) Files(w http.ResponseWriter, r *http.Request) {
	prefixes, ok := prefixParam(w, r)
	if !ok {
		return
	}
	files, err := a.sup.TempFiles(r.Context(), prefixes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": files})
}

func (a *JobsAPI) DestinationSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := a.sup.DestinationSchedule(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "destination schedule"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dirs": sched})
}

func (a *JobsAPI) Dirs(w http.ResponseWriter, r *http.Request) {
	rep, err := a.sup.DirectoryReport(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(err, "directory report"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// prefixParam reads {prefix}; several prefixes may be comma separated.
func prefixParam(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	raw := chi.URLParam(r, "prefix")
	var prefixes []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		respondWithError(w, r, apperrors.NewInvalidArgument("job id prefix is required"))
		return nil, false
	}
	return prefixes, true
}
