//go:build !unix

package process

import (
	"context"
	"errors"
	"fmt"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// HandleControl implements Control through gopsutil process handles.
// Process groups are not signalled on these platforms.
type HandleControl struct{}

var _ Control = HandleControl{}

func NewControl() Control {
	return HandleControl{}
}

func (HandleControl) Pause(ctx context.Context, pid int) error {
	return withProcess(ctx, pid, func(p *gopsprocess.Process) error { return p.SuspendWithContext(ctx) })
}

func (HandleControl) Continue(ctx context.Context, pid int) error {
	return withProcess(ctx, pid, func(p *gopsprocess.Process) error { return p.ResumeWithContext(ctx) })
}

func (HandleControl) Terminate(ctx context.Context, pid int) error {
	return withProcess(ctx, pid, func(p *gopsprocess.Process) error { return p.TerminateWithContext(ctx) })
}

func (HandleControl) Kill(ctx context.Context, pid int) error {
	return withProcess(ctx, pid, func(p *gopsprocess.Process) error { return p.KillWithContext(ctx) })
}

func (HandleControl) IsAlive(ctx context.Context, pid int) bool {
	ok, err := gopsprocess.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}

func withProcess(ctx context.Context, pid int, fn func(*gopsprocess.Process) error) error {
	p, err := gopsprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gopsprocess.ErrorProcessNotRunning) {
			return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
		}
		return fmt.Errorf("pid %d: %w", pid, err)
	}
	if err := fn(p); err != nil {
		return fmt.Errorf("pid %d: %w", pid, err)
	}
	return nil
}
