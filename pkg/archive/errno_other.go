//go:build !unix

package archive

import (
	"errors"
	"os"
	"syscall"
)

// Any rename failure falls back to copying.
func isCrossDevice(err error) bool {
	var le *os.LinkError
	return errors.As(err, &le)
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
