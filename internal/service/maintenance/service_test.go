package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/adapter/filesystem"
	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// mockInstallRepository implements port.InstallRepository for testing
type mockInstallRepository struct {
	mu            sync.Mutex
	activeRoots   []string
	cleanupCount  int
	cleanupCalled int
	cleanupAge    time.Duration
}

func (m *mockInstallRepository) CreateRun(run *domain.InstallRun) error { return nil }
func (m *mockInstallRepository) UpdateRun(run *domain.InstallRun) error { return nil }
func (m *mockInstallRepository) GetRun(id string) (*domain.InstallRun, error) {
	return nil, domain.ErrNotFound
}
func (m *mockInstallRepository) ListRuns(limit int) ([]*domain.InstallRun, error) { return nil, nil }
func (m *mockInstallRepository) MarkModuleDownloaded(appID, moduleID, installPath string) error {
	return nil
}
func (m *mockInstallRepository) DownloadedModules(appID string) (map[string]string, error) {
	return nil, nil
}
func (m *mockInstallRepository) ActiveRoots() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRoots, nil
}
func (m *mockInstallRepository) CleanupOldRuns(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalled++
	m.cleanupAge = olderThan
	return m.cleanupCount, nil
}
func (m *mockInstallRepository) Ping() error  { return nil }
func (m *mockInstallRepository) Close() error { return nil }

func writeOldFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestService_New(t *testing.T) {
	s := New(nil, &mockInstallRepository{}, filesystem.NewManager(), nil, zap.NewNop())
	if s.config.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", s.config.CleanupInterval, time.Hour)
	}
	if s.config.RunRetention != 30*24*time.Hour {
		t.Errorf("RunRetention = %v", s.config.RunRetention)
	}

	s = New(&Config{TempFileMaxAge: time.Minute}, nil, filesystem.NewManager(), nil, zap.NewNop())
	if s.config.TempFileMaxAge != time.Minute || s.config.StatusRetention != 24*time.Hour {
		t.Errorf("config = %+v", s.config)
	}
}

func TestService_SweepsOrphanedTempFiles(t *testing.T) {
	base := t.TempDir()
	orphan := filepath.Join(base, "OldGame", "data.pak.tmp")
	fresh := filepath.Join(base, "NewGame", "data.pak.tmp")
	active := filepath.Join(base, "Running", "videos", "intro.mp4.tmp")
	tracked := filepath.Join(base, "Tracked", "core.zip.tmp")
	final := filepath.Join(base, "OldGame", "core.pak")

	writeOldFile(t, orphan, 48*time.Hour)
	writeOldFile(t, fresh, time.Minute)
	writeOldFile(t, active, 48*time.Hour)
	writeOldFile(t, tracked, 48*time.Hour)
	writeOldFile(t, final, 48*time.Hour)

	repo := &mockInstallRepository{activeRoots: []string{filepath.Join(base, "Running")}}
	tracker := installer.NewTracker()
	app := &domain.App{ID: "tracked", InstallRoot: filepath.Join(base, "Tracked")}
	tracker.Register(domain.NewInstallRun(app), installer.NewSession(context.Background()))

	s := New(&Config{BaseDir: base, TempFileMaxAge: 24 * time.Hour}, repo, filesystem.NewManager(), tracker, zap.NewNop())
	s.RunOnce()

	if exists(orphan) {
		t.Error("orphaned temp file should be removed")
	}
	if !exists(fresh) {
		t.Error("recent temp file should be kept")
	}
	if !exists(active) {
		t.Error("temp file of an unfinished stored run should be kept")
	}
	if !exists(tracked) {
		t.Error("temp file of a running install should be kept")
	}
	if !exists(final) {
		t.Error("non-temp files must never be removed")
	}
}

func TestService_CleanupOldRunsAndStatuses(t *testing.T) {
	repo := &mockInstallRepository{cleanupCount: 4}
	tracker := installer.NewTracker()

	run := domain.NewInstallRun(&domain.App{ID: "game", InstallRoot: "/apps/game"})
	tracker.Register(run, nil)
	_ = run.Fail(domain.ErrCancelled)
	longAgo := time.Now().Add(-48 * time.Hour)
	run.FinishedAt = &longAgo
	tracker.UpdateRun(run)

	s := New(&Config{RunRetention: 72 * time.Hour}, repo, filesystem.NewManager(), tracker, zap.NewNop())
	s.RunOnce()

	repo.mu.Lock()
	called, age := repo.cleanupCalled, repo.cleanupAge
	repo.mu.Unlock()
	if called != 1 || age != 72*time.Hour {
		t.Errorf("CleanupOldRuns called %d times with %v", called, age)
	}
	if len(tracker.List()) != 0 {
		t.Error("finished status should be pruned")
	}
}

func TestService_StartStop(t *testing.T) {
	repo := &mockInstallRepository{}
	s := New(&Config{CleanupInterval: 10 * time.Millisecond}, repo, filesystem.NewManager(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	repo.mu.Lock()
	called := repo.cleanupCalled
	repo.mu.Unlock()
	if called < 2 {
		t.Errorf("CleanupOldRuns called %d times, want at least 2", called)
	}
}

func TestService_DoubleStart(t *testing.T) {
	s := New(nil, &mockInstallRepository{}, filesystem.NewManager(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = s.Start(ctx)
	}()
	<-started

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if running || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
}
