//go:build windows

package installer

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isBusy reports whether err means another process holds the file
func isBusy(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
