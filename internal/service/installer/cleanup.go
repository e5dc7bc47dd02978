package installer

import (
	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

// CleanupReport describes what cleanup removed
type CleanupReport struct {
	TempFilesRemoved int
	TempFilesKept    bool
	RootRemoved      bool
}

// CleanupCoordinator removes transient artifacts after a failed or
// cancelled install. Completed modules are never touched.
type CleanupCoordinator struct {
	fs              port.FileSystem
	logger          *zap.Logger
	preservePartial bool
}

// NewCleanupCoordinator creates a cleanup coordinator. With preservePartial,
// temp files survive a cancellation so the next attempt can resume them.
func NewCleanupCoordinator(fs port.FileSystem, logger *zap.Logger, preservePartial bool) *CleanupCoordinator {
	return &CleanupCoordinator{fs: fs, logger: logger, preservePartial: preservePartial}
}

// Cleanup removes temp files under the install root and, if no module was
// downloaded and nothing else remains, the install root itself.
func (c *CleanupCoordinator) Cleanup(app *domain.App, cause error) CleanupReport {
	var report CleanupReport
	root := app.InstallRoot

	if domain.IsCancelled(cause) && c.preservePartial {
		report.TempFilesKept = true
		c.logger.Info("Preserving partial downloads after cancellation", zap.String("root", root))
	} else {
		n, err := c.fs.RemoveTempFiles(root)
		report.TempFilesRemoved = n
		if err != nil {
			c.logger.Warn("Failed to remove temp files", zap.String("root", root), zap.Error(err))
		}
	}

	if app.AnyDownloaded() {
		c.logger.Info("Keeping install directory with completed modules", zap.String("root", root))
		return report
	}

	hasFiles, err := c.fs.HasRegularFiles(root)
	if err != nil {
		c.logger.Warn("Failed to inspect install directory", zap.String("root", root), zap.Error(err))
		return report
	}
	if hasFiles {
		c.logger.Info("Install directory holds other files, keeping it", zap.String("root", root))
		return report
	}

	if err := c.fs.RemoveEmptyTree(root); err != nil {
		c.logger.Warn("Failed to remove install directory", zap.String("root", root), zap.Error(err))
		return report
	}
	report.RootRemoved = !c.fs.FileExists(root)
	if report.RootRemoved {
		c.logger.Info("Removed empty install directory", zap.String("root", root))
	}
	return report
}
