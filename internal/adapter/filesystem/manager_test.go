package filesystem

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestOpenTemp_AppendAndTruncate(t *testing.T) {
	m := NewManager()
	path := filepath.Join(t.TempDir(), "nested", "module.zip.tmp")

	f, err := m.OpenTemp(path, false)
	if err != nil {
		t.Fatalf("OpenTemp() error = %v", err)
	}
	_, _ = io.WriteString(f, "hello")
	f.Close()

	f, err = m.OpenTemp(path, true)
	if err != nil {
		t.Fatalf("OpenTemp(append) error = %v", err)
	}
	_, _ = io.WriteString(f, " world")
	f.Close()

	size, _, err := m.TempFileInfo(path)
	if err != nil {
		t.Fatalf("TempFileInfo() error = %v", err)
	}
	if size != 11 {
		t.Errorf("size after append = %d, want 11", size)
	}

	f, err = m.OpenTemp(path, false)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	size, _, _ = m.TempFileInfo(path)
	if size != 0 {
		t.Errorf("size after truncate = %d, want 0", size)
	}
}

func TestTempFileInfo_Missing(t *testing.T) {
	m := NewManager()
	_, _, err := m.TempFileInfo(filepath.Join(t.TempDir(), "absent.tmp"))
	if !os.IsNotExist(err) {
		t.Errorf("TempFileInfo() error = %v, want not-exist", err)
	}
}

func TestCommit_ReplacesExistingFinal(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	final := filepath.Join(dir, "app.exe")
	temp := final + ".tmp"
	writeFile(t, final, "stale")
	writeFile(t, temp, "fresh")

	if err := m.Commit(temp, final); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	data, _ := os.ReadFile(final)
	if string(data) != "fresh" {
		t.Errorf("final content = %q, want fresh", data)
	}
	if m.FileExists(temp) {
		t.Error("temp file still exists after commit")
	}
}

func TestTruncate(t *testing.T) {
	m := NewManager()
	temp := filepath.Join(t.TempDir(), "core.zip.tmp")
	writeFile(t, temp, "payload+junk")

	if err := m.Truncate(temp, 7); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	data, _ := os.ReadFile(temp)
	if string(data) != "payload" {
		t.Errorf("content = %q, want payload", data)
	}
	if err := m.Truncate(filepath.Join(t.TempDir(), "absent.tmp"), 0); err == nil {
		t.Error("Truncate() of a missing file should fail")
	}
}

func TestRemoveTempFiles(t *testing.T) {
	m := NewManager()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.zip.tmp"), "x")
	writeFile(t, filepath.Join(root, "videos", "intro.mp4.tmp"), "x")
	writeFile(t, filepath.Join(root, "keep.dat"), "x")

	n, err := m.RemoveTempFiles(root)
	if err != nil {
		t.Fatalf("RemoveTempFiles() error = %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d files, want 2", n)
	}
	if !m.FileExists(filepath.Join(root, "keep.dat")) {
		t.Error("non-temp file was removed")
	}

	n, err = m.RemoveTempFiles(filepath.Join(root, "missing"))
	if err != nil || n != 0 {
		t.Errorf("RemoveTempFiles(missing) = %d, %v", n, err)
	}
}

func TestCleanOldTempFiles_AgeAndSkip(t *testing.T) {
	m := NewManager()
	root := t.TempDir()
	oldTemp := filepath.Join(root, "old.tmp")
	newTemp := filepath.Join(root, "new.tmp")
	skipped := filepath.Join(root, "active", "busy.tmp")
	writeFile(t, oldTemp, "x")
	writeFile(t, newTemp, "x")
	writeFile(t, skipped, "x")

	past := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(oldTemp, past, past)
	_ = os.Chtimes(skipped, past, past)

	n, err := m.CleanOldTempFiles(root, time.Hour, func(p string) bool {
		return filepath.Base(filepath.Dir(p)) == "active"
	})
	if err != nil {
		t.Fatalf("CleanOldTempFiles() error = %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if m.FileExists(oldTemp) {
		t.Error("old temp file should be removed")
	}
	if !m.FileExists(newTemp) || !m.FileExists(skipped) {
		t.Error("recent or skipped temp file was removed")
	}
}

func TestHasRegularFiles(t *testing.T) {
	m := NewManager()
	root := t.TempDir()

	has, err := m.HasRegularFiles(root)
	if err != nil || has {
		t.Fatalf("empty root: HasRegularFiles() = %v, %v", has, err)
	}

	writeFile(t, filepath.Join(root, "sub", "x.tmp"), "x")
	if has, _ := m.HasRegularFiles(root); has {
		t.Error("temp files must not count as regular files")
	}

	writeFile(t, filepath.Join(root, "sub", "data.bin"), "x")
	if has, _ := m.HasRegularFiles(root); !has {
		t.Error("HasRegularFiles() = false, want true")
	}
}

func TestRemoveEmptyTree(t *testing.T) {
	m := NewManager()

	t.Run("removes empty tree", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "app")
		if err := os.MkdirAll(filepath.Join(root, "videos", "deep"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := m.RemoveEmptyTree(root); err != nil {
			t.Fatalf("RemoveEmptyTree() error = %v", err)
		}
		if m.FileExists(root) {
			t.Error("root should be removed")
		}
	})

	t.Run("keeps files", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "app")
		writeFile(t, filepath.Join(root, "keep.txt"), "x")
		if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := m.RemoveEmptyTree(root); err != nil {
			t.Fatalf("RemoveEmptyTree() error = %v", err)
		}
		if !m.FileExists(filepath.Join(root, "keep.txt")) {
			t.Error("file was removed")
		}
		if m.FileExists(filepath.Join(root, "empty")) {
			t.Error("empty subdirectory should be removed")
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if err := m.RemoveEmptyTree(filepath.Join(t.TempDir(), "nope")); err != nil {
			t.Errorf("RemoveEmptyTree() error = %v", err)
		}
	})
}

func TestProbeLocked_Unlocked(t *testing.T) {
	m := NewManager()
	path := filepath.Join(t.TempDir(), "a.zip")
	writeFile(t, path, "PK")

	locked, err := m.ProbeLocked(path)
	if err != nil {
		t.Fatalf("ProbeLocked() error = %v", err)
	}
	if locked {
		t.Error("ProbeLocked() = true, want false")
	}

	if _, err := m.ProbeLocked(filepath.Join(t.TempDir(), "missing.zip")); !os.IsNotExist(err) {
		t.Errorf("ProbeLocked(missing) error = %v, want not-exist", err)
	}
}

func TestGetDiskUsage(t *testing.T) {
	m := NewManager()
	usage, err := m.GetDiskUsage(filepath.Join(t.TempDir(), "not", "yet", "created"))
	if err != nil {
		t.Fatalf("GetDiskUsage() error = %v", err)
	}
	if usage.Total == 0 {
		t.Error("Total = 0")
	}
	if usage.Free > usage.Total {
		t.Errorf("Free %d > Total %d", usage.Free, usage.Total)
	}
}
