package job

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary is a one-row projection of a job for status tables.
type Summary struct {
	PlotID   string        `json:"plot_id"`
	PID      int           `json:"pid"`
	K        int           `json:"k"`
	TmpDir   string        `json:"tmp_dir"`
	DstDir   string        `json:"dst_dir"`
	Phase    string        `json:"phase"`
	Pct      float64       `json:"pct_complete"`
	State    State         `json:"state"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	CPUTime  time.Duration `json:"cpu_ns"`
	TmpBytes uint64        `json:"tmp_bytes"`
	LogPath  string        `json:"log_path,omitempty"`
}

// Summary projects the job's current state. It stats temp files but
// changes nothing.
func (j *Job) Summary(now time.Time) Summary {
	s := Summary{
		PlotID:  j.PlotID,
		PID:     j.PID,
		K:       j.Args.K,
		DstDir:  j.DstDir,
		Phase:   j.Progress.Milestone().String(),
		Pct:     j.Progress.PctComplete,
		State:   j.State,
		Elapsed: j.Elapsed(now),
		CPUTime: j.CPUTime,
		LogPath: j.LogPath,
	}
	if len(j.TmpDirs) > 0 {
		s.TmpDir = j.TmpDirs[0]
	}
	if files, err := j.TempFiles(); err == nil {
		for _, f := range files {
			if st, err := os.Stat(f); err == nil {
				s.TmpBytes += uint64(st.Size())
			}
		}
	}
	return s
}

// ShortID returns the first 8 characters of a plot ID.
func ShortID(plotID string) string {
	if len(plotID) <= 8 {
		return plotID
	}
	return plotID[:8]
}

// Detail renders a multi-line description of the job.
func (j *Job) Detail(now time.Time) string {
	s := j.Summary(now)
	p := j.Progress

	var b strings.Builder
	fmt.Fprintf(&b, "plot_id:   %s\n", j.PlotID)
	fmt.Fprintf(&b, "pid:       %d\n", j.PID)
	fmt.Fprintf(&b, "state:     %s\n", j.State)
	fmt.Fprintf(&b, "k:         %d\n", j.Args.K)
	fmt.Fprintf(&b, "threads:   %d\n", j.Args.Threads)
	fmt.Fprintf(&b, "buckets:   %d\n", j.Args.Buckets)
	fmt.Fprintf(&b, "buffer:    %d MiB\n", j.Args.BufferMiB)
	fmt.Fprintf(&b, "tmp_dirs:  %s\n", strings.Join(j.TmpDirs, ", "))
	fmt.Fprintf(&b, "dst_dir:   %s\n", j.DstDir)
	fmt.Fprintf(&b, "log:       %s\n", valueOrDash(j.LogPath))
	fmt.Fprintf(&b, "progress:  phase %s (%.1f%%)\n", p.Milestone(), p.PctComplete)
	for phase := 1; phase <= len(p.PhaseSeconds)-1; phase++ {
		if p.PhaseSeconds[phase] > 0 {
			fmt.Fprintf(&b, "phase %d:   %s\n", phase, time.Duration(p.PhaseSeconds[phase]*float64(time.Second)).Round(time.Second))
		}
	}
	if !j.StartTime.IsZero() {
		fmt.Fprintf(&b, "started:   %s (%s)\n", j.StartTime.Format(time.RFC3339), humanize.RelTime(j.StartTime, now, "ago", "from now"))
	}
	fmt.Fprintf(&b, "elapsed:   %s\n", s.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "cpu:       %s\n", s.CPUTime.Round(time.Second))
	fmt.Fprintf(&b, "tmp_usage: %s\n", humanize.IBytes(s.TmpBytes))
	return b.String()
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
