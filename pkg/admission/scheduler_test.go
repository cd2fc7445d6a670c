package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
	"github.com/3leaps/plotherd/pkg/schedule"
)

type fakeSpawner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	next  int
}

func (f *fakeSpawner) Spawn(_ context.Context, argv []string) (Spawned, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Spawned{}, f.err
	}
	f.calls = append(f.calls, argv)
	f.next++
	return Spawned{PID: 1000 + f.next, LogPath: "/logs/fake.log"}, nil
}

// world is a mutable job list that a fake spawner can grow.
type world struct {
	jobs []*job.Job
}

func (w *world) list(context.Context) ([]*job.Job, error) {
	return w.jobs, nil
}

func (w *world) add(tmp, dst string, phase, substep int, started time.Time) {
	w.jobs = append(w.jobs, &job.Job{
		PlotID:    "id",
		TmpDirs:   []string{tmp},
		DstDir:    dst,
		StartTime: started,
		State:     job.StateRunning,
		Progress:  plotlog.Progress{Phase: phase, Substep: substep},
	})
}

func baseConfig() Config {
	return Config{
		TmpDirs:       []string{"/t1", "/t2"},
		DstDirs:       []string{"/d1"},
		GlobalMaxJobs: 8,
		TmpDirMaxJobs: 2,
		DstDirMaxJobs: 8,
		Stagger:       plotlog.Milestone{Phase: 2, Substep: 1},
		Plot:          PlotParams{Executable: "chia", K: 32},
	}
}

func TestMaybeStartNewPlot_EmptyStarts(t *testing.T) {
	w := &world{}
	sp := &fakeSpawner{}
	s := NewScheduler(baseConfig(), w.list, sp)

	d, err := s.MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Started)
	assert.Equal(t, "/t1", d.TmpDir)
	assert.Equal(t, "/d1", d.DstDir)
	assert.Equal(t, 1001, d.PID)
	require.Len(t, sp.calls, 1)
	assert.Equal(t, []string{"chia", "plots", "create", "-k", "32", "-t", "/t1", "-d", "/d1"}, sp.calls[0])
}

func TestMaybeStartNewPlot_GlobalLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.GlobalMaxJobs = 1
	w := &world{}
	sp := &fakeSpawner{}
	s := NewScheduler(cfg, w.list, sp)
	ctx := context.Background()

	d, err := s.MaybeStartNewPlot(ctx)
	require.NoError(t, err)
	require.True(t, d.Started)
	w.add(d.TmpDir, d.DstDir, 0, 0, time.Now())

	d, err = s.MaybeStartNewPlot(ctx)
	require.NoError(t, err)
	assert.False(t, d.Started)
	assert.Equal(t, "global limit", d.WaitReason)
	assert.Len(t, sp.calls, 1)
}

func TestMaybeStartNewPlot_SuspendedJobsCount(t *testing.T) {
	cfg := baseConfig()
	cfg.GlobalMaxJobs = 1
	w := &world{}
	w.add("/t1", "/d1", 3, 0, time.Now())
	w.jobs[0].State = job.StateSuspended

	d, err := NewScheduler(cfg, w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonGlobalLimit, d.WaitReason)
}

func TestMaybeStartNewPlot_GlobalLimitNeverExceeded(t *testing.T) {
	cfg := baseConfig()
	cfg.GlobalMaxJobs = 3
	cfg.TmpDirMaxJobs = 10
	cfg.Stagger = plotlog.Milestone{}
	w := &world{}
	sp := &fakeSpawner{}
	s := NewScheduler(cfg, w.list, sp)

	for i := 0; i < 10; i++ {
		d, err := s.MaybeStartNewPlot(context.Background())
		require.NoError(t, err)
		if d.Started {
			w.add(d.TmpDir, d.DstDir, 0, 0, time.Now())
		}
		assert.LessOrEqual(t, len(w.jobs), cfg.GlobalMaxJobs)
	}
	assert.Len(t, sp.calls, 3)
}

func TestMaybeStartNewPlot_DirLimit(t *testing.T) {
	w := &world{}
	w.add("/t1", "/d1", 4, 0, time.Now())
	w.add("/t1", "/d1", 3, 5, time.Now())
	w.add("/t2", "/d1", 4, 0, time.Now())
	w.add("/t2", "/d1", 3, 0, time.Now())

	d, err := NewScheduler(baseConfig(), w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Started)
	assert.Equal(t, "no eligible tmp dir: /t1 dir limit (2/2); /t2 dir limit (2/2)", d.WaitReason)
}

func TestMaybeStartNewPlot_StaggerPicksAlternative(t *testing.T) {
	w := &world{}
	// t1 has a job still in phase 1: stagger declines it.
	w.add("/t1", "/d1", 1, 3, time.Now())

	d, err := NewScheduler(baseConfig(), w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	require.True(t, d.Started)
	assert.Equal(t, "/t2", d.TmpDir)
}

func TestMaybeStartNewPlot_StaggerReached(t *testing.T) {
	w := &world{}
	w.add("/t1", "/d1", 2, 1, time.Now())

	d, err := NewScheduler(baseConfig(), w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	require.True(t, d.Started)
	assert.Equal(t, "/t1", d.TmpDir, "configured order wins once stagger is met")
}

func TestMaybeStartNewPlot_AllStaggered(t *testing.T) {
	w := &world{}
	w.add("/t1", "/d1", 1, 3, time.Now())
	w.add("/t2", "/d1", 2, 0, time.Now())

	d, err := NewScheduler(baseConfig(), w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Started)
	assert.Equal(t, "no eligible tmp dir: /t1 stagger (1:3 < 2:1); /t2 stagger (2:0 < 2:1)", d.WaitReason)
}

func TestMaybeStartNewPlot_DstSelection(t *testing.T) {
	cfg := baseConfig()
	cfg.DstDirs = []string{"/d1", "/d2"}
	cfg.DstDirMaxJobs = 1
	w := &world{}
	w.add("/t1", "/d1", 3, 0, time.Now())

	d, err := NewScheduler(cfg, w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	require.True(t, d.Started)
	assert.Equal(t, "/t1", d.TmpDir)
	assert.Equal(t, "/d2", d.DstDir)

	w.add("/t2", "/d2", 3, 0, time.Now())
	d, err = NewScheduler(cfg, w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Started)
	assert.Contains(t, d.WaitReason, "no eligible dst dir")
}

func TestMaybeStartNewPlot_NoDstUsesTmp(t *testing.T) {
	cfg := baseConfig()
	cfg.DstDirs = nil
	cfg.Tmp2Dir = "/fast"
	sp := &fakeSpawner{}

	d, err := NewScheduler(cfg, (&world{}).list, sp).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/t1", d.DstDir)
	assert.Contains(t, sp.calls[0], "-2")
}

func TestMaybeStartNewPlot_GlobalStagger(t *testing.T) {
	cfg := baseConfig()
	cfg.GlobalStagger = 30 * time.Minute
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := &world{}
	w.add("/t1", "/d1", 3, 0, now.Add(-10*time.Minute))

	s := NewScheduler(cfg, w.list, &fakeSpawner{}, WithClock(func() time.Time { return now }))
	d, err := s.MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonGlobalStagger, d.WaitReason)

	later := now.Add(time.Hour)
	s = NewScheduler(cfg, w.list, &fakeSpawner{}, WithClock(func() time.Time { return later }))
	d, err = s.MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Started)
}

func TestMaybeStartNewPlot_Deterministic(t *testing.T) {
	w := &world{}
	w.add("/t2", "/d1", 1, 1, time.Now())

	var got []string
	for i := 0; i < 5; i++ {
		d, err := NewScheduler(baseConfig(), w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
		require.NoError(t, err)
		got = append(got, d.TmpDir)
	}
	assert.Equal(t, []string{"/t1", "/t1", "/t1", "/t1", "/t1"}, got)
}

func TestMaybeStartNewPlot_SpawnFailure(t *testing.T) {
	cause := errors.New("exec: not found")
	s := NewScheduler(baseConfig(), (&world{}).list, &fakeSpawner{err: cause})

	d, err := s.MaybeStartNewPlot(context.Background())
	require.Error(t, err)
	assert.False(t, d.Started)
	assert.True(t, IsSpawnFailure(err))
	assert.ErrorIs(t, err, cause)

	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/t1", se.TmpDir)
}

func TestMaybeStartNewPlot_ListError(t *testing.T) {
	s := NewScheduler(baseConfig(), func(context.Context) ([]*job.Job, error) {
		return nil, errors.New("boom")
	}, &fakeSpawner{})
	_, err := s.MaybeStartNewPlot(context.Background())
	assert.Error(t, err)
}

func TestCandidateLess(t *testing.T) {
	a := candidate{priority: 0, path: "/b", usage: usage(1, 0, 2)}
	b := candidate{priority: 0, path: "/a", usage: usage(3, 0, 2)}
	c := candidate{priority: 0, path: "/c", usage: usage(3, 0, 1)}
	d := candidate{priority: 1, path: "/0", usage: usage(4, 0, 0)}

	assert.True(t, b.less(a), "further milestone first")
	assert.True(t, c.less(b), "fewer jobs first")
	assert.True(t, a.less(d), "priority dominates")
	assert.False(t, a.less(a))
}

func TestMaybeStartNewPlot_Tmp2Limit(t *testing.T) {
	cfg := baseConfig()
	cfg.Tmp2Dir = "/t2shared"
	cfg.Tmp2MaxJobs = 1
	w := &world{}
	w.add("/t1", "/d1", 1, 1, time.Now())
	w.jobs[0].TmpDirs = []string{"/t1", "/t2shared"}
	sp := &fakeSpawner{}

	d, err := NewScheduler(cfg, w.list, sp).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Started)
	assert.Equal(t, "no eligible tmp2 dir: /t2shared dir limit (1/1)", d.WaitReason)
	assert.Empty(t, sp.calls)
}

func TestMaybeStartNewPlot_Tmp2LimitNeverExceeded(t *testing.T) {
	cfg := baseConfig()
	cfg.Tmp2Dir = "/t2shared"
	cfg.Tmp2MaxJobs = 3
	cfg.TmpDirs = []string{"/t1", "/t2", "/t3", "/t4"}
	cfg.Stagger = plotlog.Milestone{}
	w := &world{}
	sp := &fakeSpawner{}
	s := NewScheduler(cfg, w.list, sp)

	for i := 0; i < 6; i++ {
		d, err := s.MaybeStartNewPlot(context.Background())
		require.NoError(t, err)
		if d.Started {
			w.add(d.TmpDir, d.DstDir, 1, 0, time.Now())
			w.jobs[len(w.jobs)-1].TmpDirs = []string{d.TmpDir, cfg.Tmp2Dir}
			assert.Contains(t, d.Argv, "/t2shared")
		}
	}
	assert.Len(t, w.jobs, 3)
}

func TestMaybeStartNewPlot_Tmp2DefaultsToGlobalLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.Tmp2Dir = "/t2shared"
	cfg.GlobalMaxJobs = 2
	w := &world{}
	w.add("/t1", "/d1", 3, 0, time.Now())
	w.jobs[0].TmpDirs = []string{"/t1", "/t2shared"}

	d, err := NewScheduler(cfg, w.list, &fakeSpawner{}).MaybeStartNewPlot(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Started)
}

func TestPick_ConfiguredOrderDecides(t *testing.T) {
	sched := schedule.Schedule{
		"/t1": {Furthest: plotlog.Milestone{Phase: 2, Substep: 1}, Jobs: 1},
		"/t2": {Furthest: plotlog.Milestone{Phase: 4}, Jobs: 1},
	}
	stagger := plotlog.Milestone{Phase: 2, Substep: 1}

	dir, reasons := pick([]string{"/t1", "/t2"}, sched, 2, stagger)
	assert.Equal(t, "/t1", dir)
	assert.Nil(t, reasons)

	dir, _ = pick([]string{"/t2", "/t1"}, sched, 2, stagger)
	assert.Equal(t, "/t2", dir)
}
