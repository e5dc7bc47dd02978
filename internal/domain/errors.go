package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("access forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// Install lifecycle errors
	ErrCancelled              = errors.New("install cancelled")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoModules              = errors.New("app has no modules")

	// Transfer errors
	ErrSizeMismatch     = errors.New("downloaded size does not match expected size")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Extraction errors
	ErrArchiveLocked = errors.New("archive is locked by another process")
	ErrPathTraversal = errors.New("archive entry escapes destination directory")

	// Dependency installer errors
	ErrInstallerNotFound    = errors.New("no installer executable found")
	ErrInstallerTimeout     = errors.New("installer timed out")
	ErrElevationDeclined    = errors.New("elevation was declined")
	ErrElevationNotPossible = errors.New("elevation is not available")

	// Post-install soft failures
	ErrStructureInvalid   = errors.New("install structure validation failed")
	ErrRegistrationFailed = errors.New("os registration failed")
)

// IsCancelled reports whether err stems from a user-initiated cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// SkippableError represents an error that can be logged and skipped.
// Processing can continue with the next step when this error occurs.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// TransferError describes a network or disk failure while streaming a module.
type TransferError struct {
	ModuleID string
	Op       string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %s: %v", e.ModuleID, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransientTransferError wraps err as a retryable TransferError. A
// RetryAfter hint carried by err is kept.
func NewTransientTransferError(moduleID, op string, err error) error {
	after, _ := GetRetryAfter(err)
	return NewRetryableError(&TransferError{ModuleID: moduleID, Op: op, Err: err}, after)
}

// NewPermanentTransferError wraps err as a TransferError that is not retried.
func NewPermanentTransferError(moduleID, op string, err error) error {
	return &TransferError{ModuleID: moduleID, Op: op, Err: err}
}

// ExtractionCategory is the user-facing classification of an extraction failure.
type ExtractionCategory string

const (
	ExtractionLocked           ExtractionCategory = "locked"
	ExtractionPermissionDenied ExtractionCategory = "permission_denied"
	ExtractionPathNotFound     ExtractionCategory = "path_not_found"
	ExtractionFileInUse        ExtractionCategory = "file_in_use"
	ExtractionCorruptArchive   ExtractionCategory = "corrupt_archive"
	ExtractionUnknown          ExtractionCategory = "unknown"
)

// Message returns a short user-facing description of the category.
func (c ExtractionCategory) Message() string {
	switch c {
	case ExtractionLocked:
		return "the archive is locked by another process"
	case ExtractionPermissionDenied:
		return "permission denied while writing files"
	case ExtractionPathNotFound:
		return "a required directory could not be found"
	case ExtractionFileInUse:
		return "a file is in use by another process"
	case ExtractionCorruptArchive:
		return "the archive is damaged"
	default:
		return "the archive could not be extracted"
	}
}

// ExtractionError is a fatal extraction failure for one module.
type ExtractionError struct {
	ModuleID string
	Category ExtractionCategory
	Path     string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("extract %s: %s (%s): %v", e.ModuleID, e.Category.Message(), e.Path, e.Err)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.ModuleID, e.Category.Message(), e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// DependencyInstallError reports a failed silent install of a bundled dependency.
type DependencyInstallError struct {
	Dependency string
	ExitCode   int
	Err        error
}

func (e *DependencyInstallError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
}

func (e *DependencyInstallError) Unwrap() error {
	return e.Err
}

// InstallError is returned to callers when an app install does not complete.
type InstallError struct {
	AppID string
	State InstallState
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s %s: %v", e.AppID, e.State, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
