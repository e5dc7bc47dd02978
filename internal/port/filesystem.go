package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// TempFile is an open transfer target.
type TempFile interface {
	io.Writer
	// Sync flushes written data to stable storage
	Sync() error
	Close() error
}

// FileSystem defines the filesystem operations used by the installer
type FileSystem interface {
	// EnsureDir creates dir and its parents
	EnsureDir(dir string) error

	// OpenTemp opens a temp file for writing. With appendMode the file is
	// opened for append (created if missing); otherwise it is truncated.
	OpenTemp(path string, appendMode bool) (TempFile, error)

	// TempFileInfo returns size and modification time of a temp file.
	// Returns an error satisfying os.IsNotExist if the file does not exist.
	TempFileInfo(path string) (int64, time.Time, error)

	// Truncate shortens a temp file to size bytes
	Truncate(path string, size int64) error

	// Commit atomically replaces finalPath with tempPath, deleting any
	// pre-existing final file first
	Commit(tempPath, finalPath string) error

	// Open opens a file for reading
	Open(path string) (io.ReadCloser, error)

	// Remove deletes a file; a missing file is not an error
	Remove(path string) error

	// FileExists checks if a file exists
	FileExists(path string) bool

	// ProbeLocked reports whether another process holds the file open exclusively
	ProbeLocked(path string) (bool, error)

	// RemoveTempFiles recursively deletes transfer temp files under root.
	// Returns the number of files deleted
	RemoveTempFiles(root string) (int, error)

	// CleanOldTempFiles deletes temp files under root older than the given age
	CleanOldTempFiles(root string, olderThan time.Duration, skip func(path string) bool) (int, error)

	// HasRegularFiles reports whether root contains any non-temp file
	HasRegularFiles(root string) (bool, error)

	// RemoveEmptyTree removes root if it contains only empty directories
	RemoveEmptyTree(root string) error

	// GetDiskUsage returns disk usage statistics for the volume holding path
	GetDiskUsage(path string) (*DiskUsage, error)
}
