package installer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/adapter/filesystem"
	"github.com/vertextoedge/app-installer/internal/domain"
)

func cleanupApp(t *testing.T) *domain.App {
	t.Helper()
	root := filepath.Join(t.TempDir(), "game")
	return &domain.App{ID: "game", InstallRoot: root, Modules: []*domain.Module{
		{ID: "core", URL: "https://cdn.example.com/core.zip"},
		{ID: "intro", URL: "https://cdn.example.com/intro.mp4", Type: domain.ModuleTypeVideo},
	}}
}

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCleanup_NothingDownloadedRemovesRoot(t *testing.T) {
	app := cleanupApp(t)
	writeFile(t, app.TempPath(app.Modules[0]), "partial")
	writeFile(t, app.TempPath(app.Modules[1]), "partial")

	c := NewCleanupCoordinator(filesystem.NewManager(), zap.NewNop(), true)
	report := c.Cleanup(app, errors.New("network unreachable"))

	if report.TempFilesRemoved != 2 || !report.RootRemoved {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(app.InstallRoot); !os.IsNotExist(err) {
		t.Error("install root should be gone")
	}
}

func TestCleanup_KeepsCompletedModules(t *testing.T) {
	app := cleanupApp(t)
	writeFile(t, filepath.Join(app.InstallRoot, "bin", "game.exe"), "MZ")
	app.Modules[0].MarkDownloaded(app.InstallRoot)
	writeFile(t, app.TempPath(app.Modules[1]), "partial")

	c := NewCleanupCoordinator(filesystem.NewManager(), zap.NewNop(), false)
	report := c.Cleanup(app, errors.New("retries exhausted"))

	if report.TempFilesRemoved != 1 || report.RootRemoved {
		t.Errorf("report = %+v", report)
	}
	if len(listTempFiles(t, app.InstallRoot)) != 0 {
		t.Error("temp files left behind")
	}
	if _, err := os.Stat(filepath.Join(app.InstallRoot, "bin", "game.exe")); err != nil {
		t.Error("extracted file of completed module was removed")
	}
}

func TestCleanup_CancelPreservesPartial(t *testing.T) {
	app := cleanupApp(t)
	temp := app.TempPath(app.Modules[1])
	writeFile(t, temp, "partial")

	c := NewCleanupCoordinator(filesystem.NewManager(), zap.NewNop(), true)
	report := c.Cleanup(app, domain.ErrCancelled)

	if !report.TempFilesKept || report.TempFilesRemoved != 0 || report.RootRemoved {
		t.Errorf("report = %+v", report)
	}
	if fileSize(temp) != int64(len("partial")) {
		t.Error("partial download was not preserved")
	}
}

func TestCleanup_CancelWithoutPreserve(t *testing.T) {
	app := cleanupApp(t)
	writeFile(t, app.TempPath(app.Modules[0]), "partial")

	c := NewCleanupCoordinator(filesystem.NewManager(), zap.NewNop(), false)
	report := c.Cleanup(app, domain.ErrCancelled)

	if report.TempFilesKept || report.TempFilesRemoved != 1 || !report.RootRemoved {
		t.Errorf("report = %+v", report)
	}
}

func TestCleanup_KeepsForeignFiles(t *testing.T) {
	app := cleanupApp(t)
	writeFile(t, filepath.Join(app.InstallRoot, "saves", "slot1.sav"), "progress")
	writeFile(t, app.TempPath(app.Modules[0]), "partial")
	if err := os.MkdirAll(filepath.Join(app.InstallRoot, "empty", "nested"), 0755); err != nil {
		t.Fatal(err)
	}

	c := NewCleanupCoordinator(filesystem.NewManager(), zap.NewNop(), false)
	report := c.Cleanup(app, errors.New("boom"))

	if report.RootRemoved {
		t.Error("root with user files must not be removed")
	}
	if _, err := os.Stat(filepath.Join(app.InstallRoot, "saves", "slot1.sav")); err != nil {
		t.Error("user file removed")
	}
}

func TestCleanup_MissingRoot(t *testing.T) {
	app := cleanupApp(t)

	c := NewCleanupCoordinator(filesystem.NewManager(), zap.NewNop(), false)
	report := c.Cleanup(app, errors.New("disk full"))

	if report.TempFilesRemoved != 0 {
		t.Errorf("report = %+v", report)
	}
}
