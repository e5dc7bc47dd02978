package port

import (
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// InstallRepository persists install runs and per-module bookkeeping
type InstallRepository interface {
	// CreateRun records a new install run
	CreateRun(run *domain.InstallRun) error

	// UpdateRun stores the current state, module and error of a run
	UpdateRun(run *domain.InstallRun) error

	// GetRun retrieves a run by id
	GetRun(id string) (*domain.InstallRun, error)

	// ListRuns returns the most recent runs, newest first
	ListRuns(limit int) ([]*domain.InstallRun, error)

	// MarkModuleDownloaded records that a module finished installing
	MarkModuleDownloaded(appID, moduleID, installPath string) error

	// DownloadedModules returns module id -> install path for an app
	DownloadedModules(appID string) (map[string]string, error)

	// ActiveRoots returns the install roots of runs that are not finished
	ActiveRoots() ([]string, error)

	// CleanupOldRuns deletes finished runs older than the given age
	CleanupOldRuns(olderThan time.Duration) (int, error)

	// Ping checks storage connectivity
	Ping() error

	Close() error
}
