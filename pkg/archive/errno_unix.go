//go:build unix

package archive

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}

func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC)
}
