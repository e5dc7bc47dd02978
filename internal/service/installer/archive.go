package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

const (
	extractAttempts    = 3
	extractBackoffStep = 500 * time.Millisecond
	deleteAttempts     = 3
	deleteBackoffStep  = 200 * time.Millisecond
)

// ExtractProgressFunc is called after each archive entry is written
type ExtractProgressFunc func(done, total int, name string)

// ArchiveInstaller extracts completed zip modules into their destination
type ArchiveInstaller struct {
	fs     port.FileSystem
	logger *zap.Logger
	sleep  sleepFunc
}

// NewArchiveInstaller creates an archive installer
func NewArchiveInstaller(fs port.FileSystem, logger *zap.Logger) *ArchiveInstaller {
	return &ArchiveInstaller{fs: fs, logger: logger, sleep: sleepCtx}
}

// Install extracts archivePath into destDir and deletes the archive. It
// returns the path of the first extracted file, or destDir for an archive
// without files, so callers can later tell whether the extraction is still
// on disk. A locked archive is retried as a whole with linear backoff; any
// other failure is returned as an *domain.ExtractionError.
func (a *ArchiveInstaller) Install(sess *Session, moduleID, archivePath, destDir string, onEntry ExtractProgressFunc) (string, error) {
	ctx := sess.Context()

	var lastErr error
	for attempt := 1; attempt <= extractAttempts; attempt++ {
		if err := sess.Err(); err != nil {
			return "", err
		}

		marker, err := a.attempt(sess, archivePath, destDir, onEntry)
		if err == nil {
			a.deleteArchive(ctx, moduleID, archivePath)
			return marker, nil
		}
		if domain.IsCancelled(err) {
			return "", err
		}

		category := classifyExtraction(err)
		if category != domain.ExtractionLocked {
			return "", &domain.ExtractionError{ModuleID: moduleID, Category: category, Path: failedPath(err), Err: err}
		}

		lastErr = err
		if attempt < extractAttempts {
			delay := time.Duration(attempt) * extractBackoffStep
			a.logger.Warn("Archive locked, retrying extraction",
				zap.String("module", moduleID),
				zap.String("archive", archivePath),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay))
			if err := a.sleep(ctx, delay); err != nil {
				if cerr := sess.Err(); cerr != nil {
					return "", cerr
				}
				return "", err
			}
		}
	}

	return "", &domain.ExtractionError{
		ModuleID: moduleID,
		Category: domain.ExtractionLocked,
		Path:     archivePath,
		Err:      lastErr,
	}
}

// attempt probes the lock and extracts every entry once. It returns the
// path of the first regular file written, or destDir when there is none.
func (a *ArchiveInstaller) attempt(sess *Session, archivePath, destDir string, onEntry ExtractProgressFunc) (string, error) {
	locked, err := a.fs.ProbeLocked(archivePath)
	if err != nil {
		return "", &fs.PathError{Op: "probe", Path: archivePath, Err: err}
	}
	if locked {
		return "", &fs.PathError{Op: "probe", Path: archivePath, Err: domain.ErrArchiveLocked}
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		if isBusy(err) {
			return "", &fs.PathError{Op: "open", Path: archivePath, Err: domain.ErrArchiveLocked}
		}
		return "", err
	}
	defer r.Close()

	if err := a.fs.EnsureDir(destDir); err != nil {
		return "", err
	}

	marker := ""
	total := len(r.File)
	for i, f := range r.File {
		if err := sess.Err(); err != nil {
			return "", err
		}
		written, err := extractEntry(f, destDir)
		if err != nil {
			return "", err
		}
		if marker == "" {
			marker = written
		}
		if onEntry != nil {
			onEntry(i+1, total, f.Name)
		}
	}
	if marker == "" {
		marker = destDir
	}
	return marker, nil
}

// extractEntry writes f under destDir and returns the file it wrote, or ""
// for directories and skipped links.
func extractEntry(f *zip.File, destDir string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !isWithin(destDir, target) {
		return "", &fs.PathError{Op: "extract", Path: f.Name, Err: domain.ErrPathTraversal}
	}

	mode := f.Mode()
	if mode.IsDir() {
		return "", os.MkdirAll(target, 0755)
	}
	if mode&os.ModeSymlink != 0 {
		// Links inside installer archives are not followed or created
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}

	src, err := f.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	perm := mode.Perm() | 0200
	if mode.Perm() == 0 {
		perm = 0644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return target, dst.Close()
}

// deleteArchive removes the extracted archive; failure is logged only
func (a *ArchiveInstaller) deleteArchive(ctx context.Context, moduleID, archivePath string) {
	var err error
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		if err = a.fs.Remove(archivePath); err == nil {
			return
		}
		if attempt < deleteAttempts {
			if a.sleep(ctx, time.Duration(attempt)*deleteBackoffStep) != nil {
				break
			}
		}
	}
	a.logger.Warn("Failed to delete extracted archive",
		zap.String("module", moduleID),
		zap.String("archive", archivePath),
		zap.Error(err))
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// classifyExtraction maps an extraction failure to a user-facing category
func classifyExtraction(err error) domain.ExtractionCategory {
	switch {
	case errors.Is(err, domain.ErrArchiveLocked):
		return domain.ExtractionLocked
	case errors.Is(err, domain.ErrPathTraversal),
		errors.Is(err, zip.ErrFormat),
		errors.Is(err, zip.ErrChecksum),
		errors.Is(err, zip.ErrAlgorithm),
		errors.Is(err, io.ErrUnexpectedEOF):
		return domain.ExtractionCorruptArchive
	case errors.Is(err, fs.ErrPermission):
		return domain.ExtractionPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return domain.ExtractionPathNotFound
	case isBusy(err):
		return domain.ExtractionFileInUse
	default:
		return domain.ExtractionUnknown
	}
}

func failedPath(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Path
	}
	return ""
}
