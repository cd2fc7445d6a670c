package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace indicates the destination ran out of space mid-transfer.
	// The destination is skipped for the rest of the tick.
	ErrNoSpace = errors.New("no space left on destination")

	// ErrTransferFailure indicates a plot could not be archived this tick.
	ErrTransferFailure = errors.New("transfer failure")
)

// TransferError describes a failed move. The source plot is left in place.
type TransferError struct {
	Src string
	Dst string
	Op  string // rename | copy | verify | cleanup
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("archive %s -> %s: %s: %v", e.Src, e.Dst, e.Op, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailure, e.Err}
}

// SizeMismatchError indicates the copied file does not match the source size.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected=%d got=%d", e.Path, e.Expected, e.Got)
}

// IsNoSpace reports whether err is or wraps ErrNoSpace.
func IsNoSpace(err error) bool {
	return errors.Is(err, ErrNoSpace)
}
