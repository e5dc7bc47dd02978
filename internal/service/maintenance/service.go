package maintenance

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/port"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// Config contains maintenance service configuration
type Config struct {
	// BaseDir is swept for orphaned temp files
	BaseDir string

	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// TempFileMaxAge is the maximum age of temp files outside active installs
	TempFileMaxAge time.Duration

	// RunRetention is how long finished runs stay in the store
	RunRetention time.Duration

	// StatusRetention is how long finished runs stay in the tracker
	StatusRetention time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CleanupInterval: time.Hour,
		TempFileMaxAge:  24 * time.Hour,
		RunRetention:    30 * 24 * time.Hour,
		StatusRetention: 24 * time.Hour,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config  *Config
	runs    port.InstallRepository
	fs      port.FileSystem
	tracker *installer.Tracker
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. tracker may be nil.
func New(cfg *Config, runs port.InstallRepository, fs port.FileSystem, tracker *installer.Tracker, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d := DefaultConfig()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = d.CleanupInterval
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = d.TempFileMaxAge
	}
	if cfg.RunRetention == 0 {
		cfg.RunRetention = d.RunRetention
	}
	if cfg.StatusRetention == 0 {
		cfg.StatusRetention = d.StatusRetention
	}

	return &Service{
		config:  cfg,
		runs:    runs,
		fs:      fs,
		tracker: tracker,
		logger:  logger,
	}
}

// Start runs maintenance until ctx is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.String("base_dir", s.config.BaseDir),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// RunOnce performs every cleanup task immediately
func (s *Service) RunOnce() {
	s.cleanupTempFiles()
	s.cleanupOldRuns()
	s.pruneStatuses()
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	s.RunOnce()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// cleanupTempFiles removes stale temp files that no running install owns
func (s *Service) cleanupTempFiles() {
	if s.config.BaseDir == "" {
		return
	}
	active := s.activeRoots()

	count, err := s.fs.CleanOldTempFiles(s.config.BaseDir, s.config.TempFileMaxAge, func(path string) bool {
		for _, root := range active {
			if within(root, path) {
				return true
			}
		}
		return false
	})
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up old temp files", zap.Int("count", count))
	}
}

// activeRoots merges the roots of installs running in this process with
// unfinished runs recorded by other processes
func (s *Service) activeRoots() []string {
	var roots []string
	if s.runs != nil {
		stored, err := s.runs.ActiveRoots()
		if err != nil {
			s.logger.Warn("failed to load active install roots", zap.Error(err))
		}
		roots = append(roots, stored...)
	}
	if s.tracker != nil {
		for _, st := range s.tracker.List() {
			if st.FinishedAt == nil && st.InstallRoot != "" {
				roots = append(roots, st.InstallRoot)
			}
		}
	}
	return roots
}

func (s *Service) cleanupOldRuns() {
	if s.runs == nil {
		return
	}
	cleared, err := s.runs.CleanupOldRuns(s.config.RunRetention)
	if err != nil {
		s.logger.Error("failed to cleanup old install runs", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up old install runs", zap.Int("count", cleared))
	}
}

func (s *Service) pruneStatuses() {
	if s.tracker == nil {
		return
	}
	if n := s.tracker.PruneFinished(s.config.StatusRetention); n > 0 {
		s.logger.Debug("pruned finished install statuses", zap.Int("count", n))
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
