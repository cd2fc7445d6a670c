// Package processtest provides an in-memory process table for tests.
package processtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/3leaps/plotherd/pkg/process"
)

// Signal records one Control call made against the fake table.
type Signal struct {
	Op  string // pause | continue | terminate | kill
	PID int
}

// Table is a fake process table implementing both process.Probe and
// process.Control. Zero value is ready to use.
type Table struct {
	mu      sync.Mutex
	procs   map[int]process.Info
	signals []Signal

	// IgnoreTerminate keeps a process alive after Terminate; only Kill removes it.
	IgnoreTerminate bool

	// ListErr, when set, is returned from List.
	ListErr error
}

var (
	_ process.Probe   = (*Table)(nil)
	_ process.Control = (*Table)(nil)
)

func NewTable(infos ...process.Info) *Table {
	t := &Table{}
	for _, info := range infos {
		t.Add(info)
	}
	return t
}

// Add inserts or replaces a process.
func (t *Table) Add(info process.Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.procs == nil {
		t.procs = make(map[int]process.Info)
	}
	if info.Status == "" {
		info.Status = process.StatusRunning
	}
	t.procs[info.PID] = info
}

// Remove drops a process as if it exited.
func (t *Table) Remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

// Signals returns a copy of every Control call in order.
func (t *Table) Signals() []Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Signal, len(t.signals))
	copy(out, t.signals)
	return out
}

func (t *Table) List(_ context.Context) ([]process.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ListErr != nil {
		return nil, t.ListErr
	}
	out := make([]process.Info, 0, len(t.procs))
	for _, info := range t.procs {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (t *Table) Get(_ context.Context, pid int) (process.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.procs[pid]
	if !ok {
		return process.Info{}, fmt.Errorf("pid %d: %w", pid, process.ErrProcessGone)
	}
	return info, nil
}

func (t *Table) Pause(_ context.Context, pid int) error {
	return t.apply("pause", pid, func(info *process.Info) bool {
		info.Status = process.StatusStopped
		return true
	})
}

func (t *Table) Continue(_ context.Context, pid int) error {
	return t.apply("continue", pid, func(info *process.Info) bool {
		info.Status = process.StatusRunning
		return true
	})
}

func (t *Table) Terminate(_ context.Context, pid int) error {
	return t.apply("terminate", pid, func(*process.Info) bool {
		return t.IgnoreTerminate
	})
}

func (t *Table) Kill(_ context.Context, pid int) error {
	return t.apply("kill", pid, func(*process.Info) bool { return false })
}

func (t *Table) IsAlive(_ context.Context, pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[pid]
	return ok
}

// apply records the call and mutates the entry; fn returning false removes it.
func (t *Table) apply(op string, pid int, fn func(*process.Info) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("pid %d: %w", pid, process.ErrProcessGone)
	}
	t.signals = append(t.signals, Signal{Op: op, PID: pid})
	if fn(&info) {
		t.procs[pid] = info
	} else {
		delete(t.procs, pid)
	}
	return nil
}

// Len returns the number of live processes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}
