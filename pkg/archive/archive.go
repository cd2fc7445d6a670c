// Package archive moves finished plots off the destination disks onto
// long-term storage volumes.
//
// Each Tick finds ready plots, picks a destination volume for each in
// least-recently-used order among the volumes with enough free space, and
// moves the plot there. Space is re-queried for every plot. A tick never
// blocks waiting for space; it reports why nothing moved instead.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
)

// PlotPattern matches finished plot files.
const PlotPattern = "plot-*.plot"

// ReasonNoSpace is reported when a ready plot fits on no destination.
const ReasonNoSpace = "no archive destination with enough free space"

// Config holds the archive policy.
type Config struct {
	// Sources are scanned for finished plots.
	Sources []string
	// Destinations are the archive volumes, in configured order.
	Destinations []string
	// LogDir holds worker logs; a completed log naming a plot makes it
	// ready without waiting for size stability.
	LogDir string

	MinFreePct   float64
	MinFreeBytes uint64
}

// Plot is a finished plot waiting to be archived.
type Plot struct {
	Path  string    `json:"path"`
	Size  int64     `json:"size"`
	Since time.Time `json:"since"`
}

// Result summarizes one tick.
type Result struct {
	Moved      []Moved  `json:"moved,omitempty"`
	Pending    []Plot   `json:"pending,omitempty"`
	Failed     int      `json:"failed"`
	WaitReason string   `json:"wait_reason,omitempty"`
	Aborted    []string `json:"aborted,omitempty"`
}

// Archiver runs archive ticks. It remembers plot sizes across ticks for the
// size-stability check and the last use of each destination for round robin.
// Ticks must not run concurrently; Destinations may be called at any time.
type Archiver struct {
	cfg     Config
	space   SpaceQuerier
	mover   Mover
	tracker *plotlog.Tracker
	logger  *zap.Logger

	sizes map[string]int64

	mu       sync.Mutex
	lastUsed map[string]uint64
	seq      uint64
}

// Option configures an Archiver.
type Option func(*Archiver)

func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(cfg Config, space SpaceQuerier, mover Mover, opts ...Option) *Archiver {
	a := &Archiver{
		cfg:      cfg,
		space:    space,
		mover:    mover,
		tracker:  plotlog.NewTracker(),
		logger:   zap.NewNop(),
		sizes:    make(map[string]int64),
		lastUsed: make(map[string]uint64),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Tick archives every ready plot it can. Transfer failures are logged and
// returned aggregated; they never stop the tick.
func (a *Archiver) Tick(ctx context.Context, jobs []*job.Job) (Result, error) {
	var res Result

	ready, pending, err := a.readyPlots(jobs)
	if err != nil {
		return res, err
	}
	res.Pending = pending
	if len(ready) == 0 {
		return res, nil
	}

	busy := busyDirs(jobs)
	aborted := make(map[string]bool)
	var errs *multierror.Error

	for _, p := range ready {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		moved, err := a.archiveOne(ctx, p, busy, aborted)
		switch {
		case err == nil:
			res.Moved = append(res.Moved, moved)
			delete(a.sizes, p.Path)
		case errors.Is(err, errNoDestination):
			res.Pending = append(res.Pending, p)
			if res.WaitReason == "" {
				res.WaitReason = ReasonNoSpace
			}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return res, err
		default:
			res.Failed++
			res.Pending = append(res.Pending, p)
			errs = multierror.Append(errs, err)
			a.logger.Warn("Archive transfer failed", zap.String("plot", p.Path), zap.Error(err))
		}
	}
	for d := range aborted {
		res.Aborted = append(res.Aborted, d)
	}
	sort.Strings(res.Aborted)
	return res, errs.ErrorOrNil()
}

var errNoDestination = errors.New(ReasonNoSpace)

// archiveOne moves p to the least recently used eligible destination. A
// destination that runs out of space is aborted for the rest of the tick and
// the next candidate is tried.
func (a *Archiver) archiveOne(ctx context.Context, p Plot, busy, aborted map[string]bool) (Moved, error) {
	if dst, ok := a.existingCopy(p); ok {
		moved, err := a.mover.Move(ctx, p.Path, dst)
		if err == nil {
			a.logger.Info("Removed source of archived plot", zap.String("plot", p.Path), zap.String("dest", dst))
		}
		return moved, err
	}
	for {
		dst, ok := a.selectDestination(ctx, p, busy, aborted)
		if !ok {
			return Moved{}, errNoDestination
		}
		a.markUsed(dst)

		moved, err := a.mover.Move(ctx, p.Path, dst)
		if err == nil {
			a.logger.Info("Archived plot",
				zap.String("plot", p.Path),
				zap.String("dest", dst),
				zap.Int64("bytes", moved.Bytes),
				zap.Bool("renamed", moved.Renamed),
				zap.Duration("duration", moved.Duration))
			return moved, nil
		}
		if !IsNoSpace(err) {
			return Moved{}, err
		}
		a.logger.Warn("Archive destination out of space", zap.String("dest", dst), zap.Error(err))
		aborted[dst] = true
	}
}

// existingCopy finds a destination already holding a full-size copy of p.
func (a *Archiver) existingCopy(p Plot) (string, bool) {
	own := filepath.Clean(filepath.Dir(p.Path))
	name := filepath.Base(p.Path)
	for _, d := range a.cfg.Destinations {
		if filepath.Clean(d) == own {
			continue
		}
		st, err := os.Lstat(filepath.Join(d, name))
		if err == nil && st.Mode().IsRegular() && st.Size() == p.Size {
			return d, true
		}
	}
	return "", false
}

func (a *Archiver) selectDestination(ctx context.Context, p Plot, busy, aborted map[string]bool) (string, bool) {
	own := filepath.Clean(filepath.Dir(p.Path))
	var cands []string
	for _, d := range a.cfg.Destinations {
		if aborted[d] || busy[filepath.Clean(d)] || filepath.Clean(d) == own {
			continue
		}
		sp, err := a.space.Space(ctx, d)
		if err != nil {
			a.logger.Warn("Failed to query destination space", zap.String("dest", d), zap.Error(err))
			continue
		}
		if !a.fits(sp, p.Size) {
			continue
		}
		cands = append(cands, d)
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ui, uj := a.usedAt(cands[i]), a.usedAt(cands[j])
		if ui != uj {
			return ui < uj
		}
		return cands[i] < cands[j]
	})
	return cands[0], true
}

func (a *Archiver) markUsed(dst string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.lastUsed[dst] = a.seq
}

func (a *Archiver) usedAt(dst string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed[dst]
}

func (a *Archiver) fits(sp Space, size int64) bool {
	if sp.FreePct() < a.cfg.MinFreePct {
		return false
	}
	need := a.cfg.MinFreeBytes
	if size > 0 {
		need += uint64(size)
	}
	return sp.Free >= need
}

// readyPlots lists plot files in the source dirs and splits them into those
// ready to move (oldest first) and those still settling.
func (a *Archiver) readyPlots(jobs []*job.Job) (ready, pending []Plot, err error) {
	completed := a.completedPlots()

	var owned []string
	for _, j := range jobs {
		if j.HasPlotID() {
			owned = append(owned, j.PlotID)
		}
	}

	seen := make(map[string]bool)
	for _, dir := range a.cfg.Sources {
		names, err := doublestar.Glob(os.DirFS(dir), PlotPattern)
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, name := range names {
			path := filepath.Join(dir, name)
			if seen[path] || ownedByJob(name, owned) {
				continue
			}
			st, err := os.Stat(path)
			if err != nil || !st.Mode().IsRegular() {
				continue
			}
			seen[path] = true

			p := Plot{Path: path, Size: st.Size(), Since: st.ModTime()}
			prev, known := a.sizes[path]
			a.sizes[path] = p.Size

			if done, ok := completed[filepath.Clean(path)]; ok {
				if !done.IsZero() {
					p.Since = done
				}
				ready = append(ready, p)
				continue
			}
			if known && prev == p.Size {
				ready = append(ready, p)
				continue
			}
			pending = append(pending, p)
		}
	}
	for path := range a.sizes {
		if !seen[path] {
			delete(a.sizes, path)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].Since.Equal(ready[j].Since) {
			return ready[i].Since.Before(ready[j].Since)
		}
		return ready[i].Path < ready[j].Path
	})
	return ready, pending, nil
}

// completedPlots maps final plot paths to their completion time from logs
// that reached the rename marker.
func (a *Archiver) completedPlots() map[string]time.Time {
	out := make(map[string]time.Time)
	if a.cfg.LogDir == "" {
		return out
	}
	logs, err := a.tracker.Scan(a.cfg.LogDir)
	if err != nil {
		a.logger.Debug("Failed to scan logs", zap.String("log_dir", a.cfg.LogDir), zap.Error(err))
		return out
	}
	for _, p := range logs {
		if p.Complete && p.FinalPath != "" {
			out[filepath.Clean(p.FinalPath)] = p.CompletedAt
		}
	}
	return out
}

func ownedByJob(name string, plotIDs []string) bool {
	for _, id := range plotIDs {
		if strings.Contains(name, id) {
			return true
		}
	}
	return false
}

// busyDirs returns the temp dirs in use by live jobs.
func busyDirs(jobs []*job.Job) map[string]bool {
	out := make(map[string]bool)
	for _, j := range jobs {
		if j.State == job.StateTerminated {
			continue
		}
		for _, d := range j.TmpDirs {
			out[filepath.Clean(d)] = true
		}
	}
	return out
}

// Destinations reports space and round-robin position for every configured
// destination. Query failures leave the space fields zero.
func (a *Archiver) Destinations(ctx context.Context) []Destination {
	out := make([]Destination, 0, len(a.cfg.Destinations))
	for _, d := range a.cfg.Destinations {
		dest := Destination{Path: d, LastUsed: a.usedAt(d)}
		if sp, err := a.space.Space(ctx, d); err == nil {
			dest.Space = sp
		} else {
			dest.Err = err.Error()
		}
		out = append(out, dest)
	}
	return out
}

// Destination is an archive volume as seen by the scheduler.
type Destination struct {
	Path     string `json:"path"`
	Space    Space  `json:"space"`
	LastUsed uint64 `json:"last_used"`
	Err      string `json:"error,omitempty"`
}
