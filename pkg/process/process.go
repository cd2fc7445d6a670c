// Package process inspects and signals worker processes on the local host.
//
// The package is split into two capabilities:
//
//   - Probe: read-only enumeration of the process table.
//   - Control: pause, continue, terminate and liveness checks.
//
// Both are interfaces so scheduling code can be exercised against fakes.
package process

import (
	"context"
	"errors"
	"time"
)

// ErrProcessGone indicates the referenced PID no longer exists.
var ErrProcessGone = errors.New("process gone")

// Status is the coarse scheduling state reported by the OS.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusZombie  Status = "zombie"
	StatusUnknown Status = "unknown"
)

// Info is a point-in-time snapshot of one process table entry.
type Info struct {
	PID        int
	PPID       int
	Name       string
	Cmdline    []string
	CreateTime time.Time
	CPUTime    time.Duration
	Status     Status

	// OpenFiles lists paths of regular files the process holds open.
	// Best effort: empty when the platform or permissions do not allow it.
	OpenFiles []string
}

// Probe enumerates processes.
type Probe interface {
	// List returns a snapshot of every process visible to the caller.
	// Entries that vanish while being read are skipped.
	List(ctx context.Context) ([]Info, error)

	// Get returns a snapshot of a single process.
	// Returns ErrProcessGone if the PID does not exist.
	Get(ctx context.Context, pid int) (Info, error)
}

// Control sends lifecycle signals to processes.
type Control interface {
	// Pause stops the process (and its group when it leads one).
	Pause(ctx context.Context, pid int) error

	// Continue resumes a paused process.
	Continue(ctx context.Context, pid int) error

	// Terminate asks the process to exit.
	Terminate(ctx context.Context, pid int) error

	// Kill forcibly ends the process.
	Kill(ctx context.Context, pid int) error

	// IsAlive reports whether the PID still exists and is not a zombie.
	IsAlive(ctx context.Context, pid int) bool
}
