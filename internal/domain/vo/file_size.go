package vo

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FileSize represents a file size value object.
// It provides type-safe operations and human-readable formatting.
type FileSize struct {
	bytes int64
}

const (
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
)

var (
	ErrNegativeSize = errors.New("file size cannot be negative")
)

// NewFileSize creates a new FileSize value object.
func NewFileSize(bytes int64) (FileSize, error) {
	if bytes < 0 {
		return FileSize{}, ErrNegativeSize
	}
	return FileSize{bytes: bytes}, nil
}

// FileSizeFromKB creates a FileSize from a kilobyte count as used in config.
func FileSizeFromKB(kb int) FileSize {
	if kb < 0 {
		kb = 0
	}
	return FileSize{bytes: int64(kb) * KB}
}

// Bytes returns the size in bytes.
func (fs FileSize) Bytes() int64 {
	return fs.bytes
}

// IsZero returns true if the size is zero.
func (fs FileSize) IsZero() bool {
	return fs.bytes == 0
}

// String returns a human-readable string representation.
func (fs FileSize) String() string {
	return humanize.IBytes(uint64(fs.bytes))
}

// FormatSize renders a byte count, or "unknown" for negative values.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatProgressSize renders "done / total", omitting the total when unknown.
func FormatProgressSize(done, total int64) string {
	if total <= 0 {
		return FormatSize(done)
	}
	return fmt.Sprintf("%s / %s", FormatSize(done), FormatSize(total))
}

// FormatSpeed renders a transfer rate in bytes per second.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatETA renders a remaining-time estimate rounded to whole seconds.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return "<1s"
	}
	return d.Round(time.Second).String()
}
