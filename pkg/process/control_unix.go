//go:build unix

package process

import (
	"context"
	"errors"
	"fmt"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// SignalControl implements Control with POSIX signals.
//
// When the target leads its own process group (workers spawned by this
// tool always do) the signal is delivered to the whole group so helper
// children are paused together with the worker.
type SignalControl struct{}

var _ Control = SignalControl{}

func NewControl() Control {
	return SignalControl{}
}

func (SignalControl) Pause(_ context.Context, pid int) error {
	return signal(pid, unix.SIGSTOP)
}

func (SignalControl) Continue(_ context.Context, pid int) error {
	return signal(pid, unix.SIGCONT)
}

func (SignalControl) Terminate(_ context.Context, pid int) error {
	return signal(pid, unix.SIGTERM)
}

func (SignalControl) Kill(_ context.Context, pid int) error {
	return signal(pid, unix.SIGKILL)
}

func (SignalControl) IsAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	// signal 0 checks for existence without delivering anything.
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	proc, err := gopsprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	st, err := proc.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return mapStatus(st) != StatusZombie
}

func signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	target := pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		target = -pid
	}
	if err := unix.Kill(target, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
		}
		return fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), pid, err)
	}
	return nil
}
