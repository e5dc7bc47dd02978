package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

// Manager handles local filesystem operations
type Manager struct{}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager() *Manager {
	return &Manager{}
}

// EnsureDir ensures a directory and its parents exist
func (m *Manager) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// OpenTemp opens a transfer temp file, appending when resuming
func (m *Manager) OpenTemp(path string, appendMode bool) (port.TempFile, error) {
	if err := m.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create parent dir: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if appendMode {
			return nil, fmt.Errorf("failed to open temp file for resume: %w", err)
		}
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return f, nil
}

// TempFileInfo returns size and modification time of a temp file
// Returns error if file does not exist
func (m *Manager) TempFileInfo(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	if info.IsDir() {
		return 0, time.Time{}, fmt.Errorf("temp path %s is a directory", path)
	}
	return info.Size(), info.ModTime(), nil
}

// Truncate shortens the file at path to size bytes
func (m *Manager) Truncate(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	return nil
}

// Commit replaces finalPath with tempPath
func (m *Manager) Commit(tempPath, finalPath string) error {
	if err := m.Remove(finalPath); err != nil {
		return fmt.Errorf("failed to delete existing file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Open opens a file for reading
func (m *Manager) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Remove deletes a file
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ProbeLocked checks whether the file can be opened exclusively
func (m *Manager) ProbeLocked(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	return probeLocked(path)
}

func isTempFile(path string) bool {
	return strings.HasSuffix(path, domain.TempSuffix)
}

// RemoveTempFiles removes all temp files under root
func (m *Manager) RemoveTempFiles(root string) (int, error) {
	return m.CleanOldTempFiles(root, 0, nil)
}

// CleanOldTempFiles removes temp files older than the specified duration.
// Files for which skip returns true are left alone.
func (m *Manager) CleanOldTempFiles(root string, olderThan time.Duration, skip func(path string) bool) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isTempFile(path) {
			return nil
		}
		if skip != nil && skip(path) {
			return nil
		}
		if olderThan > 0 {
			info, infoErr := d.Info()
			if infoErr != nil || !info.ModTime().Before(threshold) {
				return nil
			}
		}
		if removeErr := os.Remove(path); removeErr == nil {
			count++
		}
		return nil
	})
	return count, err
}

// HasRegularFiles reports whether root holds any file that is not a temp file
func (m *Manager) HasRegularFiles(root string) (bool, error) {
	found := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && !isTempFile(path) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found, err
}

// RemoveEmptyTree removes empty directories under root, then root itself
// if nothing is left. Files are never deleted.
func (m *Manager) RemoveEmptyTree(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	_, err := removeEmptyDirs(root)
	return err
}

func removeEmptyDirs(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}

	empty := true
	for _, entry := range entries {
		if !entry.IsDir() {
			empty = false
			continue
		}
		childEmpty, err := removeEmptyDirs(filepath.Join(dir, entry.Name()))
		if err != nil {
			return false, err
		}
		if !childEmpty {
			empty = false
		}
	}

	if !empty {
		return false, nil
	}
	if err := os.Remove(dir); err != nil {
		return false, err
	}
	return true, nil
}
