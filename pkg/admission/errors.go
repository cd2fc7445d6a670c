package admission

import (
	"errors"
	"fmt"
)

// ErrSpawnFailure indicates the worker process could not be started.
var ErrSpawnFailure = errors.New("spawn failure")

// SpawnError describes a failed worker start. The tick that produced it
// started nothing.
type SpawnError struct {
	TmpDir string
	DstDir string
	Argv   []string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker (tmp=%s dst=%s): %v", e.TmpDir, e.DstDir, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailure, e.Err}
}
