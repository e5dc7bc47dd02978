//go:build !windows

package installer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isBusy reports whether err means another process holds the file
func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EWOULDBLOCK)
}
