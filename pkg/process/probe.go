package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// MatchFunc selects which processes a SystemProbe inspects in full.
type MatchFunc func(name string, cmdline []string) bool

// SystemProbe implements Probe on top of the host process table.
//
// Enumeration is cheap (name and command line only); the remaining fields
// are read only for processes accepted by Match.
type SystemProbe struct {
	Match MatchFunc
}

var _ Probe = (*SystemProbe)(nil)

// NewSystemProbe returns a probe that fully inspects processes accepted by match.
// A nil match inspects every process.
func NewSystemProbe(match MatchFunc) *SystemProbe {
	return &SystemProbe{Match: match}
}

func (p *SystemProbe) List(ctx context.Context) ([]Info, error) {
	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Info, 0, 16)
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cmdline, err := proc.CmdlineSliceWithContext(ctx)
		if err != nil || len(cmdline) == 0 {
			continue
		}
		name, _ := proc.NameWithContext(ctx)
		if p.Match != nil && !p.Match(name, cmdline) {
			continue
		}
		info, err := inspect(ctx, proc, name, cmdline)
		if err != nil {
			// Exited between enumeration and inspection.
			continue
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (p *SystemProbe) Get(ctx context.Context, pid int) (Info, error) {
	proc, err := gopsprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gopsprocess.ErrorProcessNotRunning) {
			return Info{}, fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
		}
		return Info{}, fmt.Errorf("pid %d: %w", pid, err)
	}
	cmdline, err := proc.CmdlineSliceWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	}
	name, _ := proc.NameWithContext(ctx)
	info, err := inspect(ctx, proc, name, cmdline)
	if err != nil {
		return Info{}, fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	}
	return info, nil
}

func inspect(ctx context.Context, proc *gopsprocess.Process, name string, cmdline []string) (Info, error) {
	createMs, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		PID:        int(proc.Pid),
		Name:       name,
		Cmdline:    cmdline,
		CreateTime: time.UnixMilli(createMs),
		Status:     StatusUnknown,
	}

	if ppid, err := proc.PpidWithContext(ctx); err == nil {
		info.PPID = int(ppid)
	}
	if times, err := proc.TimesWithContext(ctx); err == nil && times != nil {
		info.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))
	}
	if st, err := proc.StatusWithContext(ctx); err == nil {
		info.Status = mapStatus(st)
	}
	if files, err := proc.OpenFilesWithContext(ctx); err == nil {
		for _, f := range files {
			if f.Path != "" {
				info.OpenFiles = append(info.OpenFiles, f.Path)
			}
		}
	}
	return info, nil
}

func mapStatus(st []string) Status {
	for _, s := range st {
		switch s {
		case gopsprocess.Stop:
			return StatusStopped
		case gopsprocess.Zombie:
			return StatusZombie
		case gopsprocess.Running, gopsprocess.Sleep, gopsprocess.Idle, gopsprocess.Wait, gopsprocess.Lock:
			return StatusRunning
		}
	}
	return StatusUnknown
}
