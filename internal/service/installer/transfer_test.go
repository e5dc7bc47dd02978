package installer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
)

const moduleURL = "https://cdn.example.com/app/core.bin"

func transferRequest(dir string, size int64) TransferRequest {
	final := filepath.Join(dir, "core.bin")
	return TransferRequest{
		ModuleID:     "core",
		FileName:     "core.bin",
		URL:          moduleURL,
		TempPath:     final + domain.TempSuffix,
		FinalPath:    final,
		ExpectedSize: size,
	}
}

func TestTransfer_Fresh(t *testing.T) {
	data := payload(10_000)
	src := newFakeSource()
	src.add(moduleURL, data)
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))

	var updates []domain.TransferProgress
	res, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, func(p domain.TransferProgress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	if res.Size != int64(len(data)) || res.ResumedFrom != 0 {
		t.Errorf("result = %+v", res)
	}
	got, _ := os.ReadFile(req.FinalPath)
	if !bytes.Equal(got, data) {
		t.Error("final file content differs from payload")
	}
	if _, err := os.Stat(req.TempPath); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}
	if calls := src.openCalls(moduleURL); len(calls) != 1 || calls[0].Offset != 0 {
		t.Errorf("opens = %+v, want one at offset 0", calls)
	}
	if len(updates) < 2 {
		t.Fatalf("got %d progress updates, want checkpoints plus completion", len(updates))
	}
	last := updates[len(updates)-1]
	if last.BytesDownloaded != int64(len(data)) || last.Fraction() != 1 {
		t.Errorf("last update = %+v", last)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].BytesDownloaded < updates[i-1].BytesDownloaded {
			t.Errorf("progress went backwards at update %d", i)
		}
	}
}

func TestTransfer_ResumeFromPartialTemp(t *testing.T) {
	data := payload(10_000)
	const already = 3_333
	src := newFakeSource()
	src.add(moduleURL, data)
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))

	if err := os.WriteFile(req.TempPath, data[:already], 0644); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	calls := src.openCalls(moduleURL)
	if len(calls) != 1 || calls[0].Offset != already {
		t.Errorf("opens = %+v, want one ranged request at %d", calls, already)
	}
	if res.ResumedFrom != already || res.Streamed != int64(len(data)-already) {
		t.Errorf("result = %+v", res)
	}
	got, _ := os.ReadFile(req.FinalPath)
	if int64(len(got)) != int64(len(data)) || !bytes.Equal(got, data) {
		t.Errorf("final size = %d, want %d with identical content", len(got), len(data))
	}
}

func TestTransfer_CompleteTempSkipsStreaming(t *testing.T) {
	data := payload(4_096)
	src := newFakeSource()
	src.add(moduleURL, data)
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))

	if err := os.WriteFile(req.TempPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if calls := src.openCalls(moduleURL); len(calls) != 0 {
		t.Errorf("opens = %+v, want none", calls)
	}
	if fileSize(req.FinalPath) != int64(len(data)) {
		t.Error("temp file was not renamed to the final name")
	}
}

func TestTransfer_OversizedTempRenamedDirectly(t *testing.T) {
	data := payload(4_096)
	sum := sha256.Sum256(data)
	src := newFakeSource()
	src.add(moduleURL, data)
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))
	req.Checksum = hex.EncodeToString(sum[:])

	if err := os.WriteFile(req.TempPath, append(append([]byte{}, data...), 'x', 'y'), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if calls := src.openCalls(moduleURL); len(calls) != 0 {
		t.Errorf("opens = %+v, want none", calls)
	}
	if res.Size != int64(len(data)) || res.Streamed != 0 {
		t.Errorf("result = %+v", res)
	}
	got, _ := os.ReadFile(req.FinalPath)
	if !bytes.Equal(got, data) {
		t.Errorf("final size = %d, want %d with identical content", len(got), len(data))
	}
	if _, err := os.Stat(req.TempPath); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}
}

func TestTransfer_StaleTempDiscarded(t *testing.T) {
	tests := []struct {
		name      string
		noRanges  bool
		savedETag string
		etag      string
		wantFrom  int64
	}{
		{name: "matching etag resumes", savedETag: `"v1"`, etag: `"v1"`, wantFrom: 2_000},
		{name: "etag changed", savedETag: `"v1"`, etag: `"v2"`, wantFrom: 0},
		{name: "no saved etag resumes", etag: `"v2"`, wantFrom: 2_000},
		{name: "server cannot resume", noRanges: true, wantFrom: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := payload(6_000)
			src := newFakeSource()
			src.noRanges = tt.noRanges
			src.etag = tt.etag
			src.add(moduleURL, data)
			engine := newTestEngine(src, newTestFS(), testConfig())
			req := transferRequest(t.TempDir(), int64(len(data)))

			partial := bytes.Repeat([]byte{'z'}, 2_000)
			if tt.wantFrom > 0 {
				partial = data[:2_000]
			}
			if err := os.WriteFile(req.TempPath, partial, 0644); err != nil {
				t.Fatal(err)
			}
			if tt.savedETag != "" {
				if err := os.WriteFile(etagPath(req.TempPath), []byte(tt.savedETag), 0644); err != nil {
					t.Fatal(err)
				}
			}

			res, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil)
			if err != nil {
				t.Fatalf("Transfer() error = %v", err)
			}
			if calls := src.openCalls(moduleURL); len(calls) != 1 || calls[0].Offset != tt.wantFrom {
				t.Errorf("opens = %+v, want one at offset %d", calls, tt.wantFrom)
			}
			if res.ResumedFrom != tt.wantFrom {
				t.Errorf("ResumedFrom = %d, want %d", res.ResumedFrom, tt.wantFrom)
			}
			got, _ := os.ReadFile(req.FinalPath)
			if !bytes.Equal(got, data) {
				t.Error("final file content differs from payload")
			}
			if _, err := os.Stat(etagPath(req.TempPath)); !os.IsNotExist(err) {
				t.Error("entity tag file should be removed after commit")
			}
		})
	}
}

func TestTransfer_ServerIgnoresRange(t *testing.T) {
	data := payload(8_000)
	src := newFakeSource()
	src.ignoreRange = true
	src.add(moduleURL, data)
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))

	if err := os.WriteFile(req.TempPath, data[:1000], 0644); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if calls := src.openCalls(moduleURL); len(calls) != 1 || calls[0].Offset != 1000 {
		t.Errorf("opens = %+v, want one ranged request at 1000", calls)
	}
	if res.ResumedFrom != 0 || res.Streamed != int64(len(data)) {
		t.Errorf("result = %+v, want a restart from zero", res)
	}
	got, _ := os.ReadFile(req.FinalPath)
	if !bytes.Equal(got, data) {
		t.Errorf("final size = %d, want %d", len(got), len(data))
	}
}

func TestTransfer_ResumeDisabled(t *testing.T) {
	data := payload(5_000)
	src := newFakeSource()
	src.add(moduleURL, data)
	cfg := testConfig()
	cfg.EnableResume = false
	engine := newTestEngine(src, newTestFS(), cfg)
	req := transferRequest(t.TempDir(), int64(len(data)))

	if err := os.WriteFile(req.TempPath, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if calls := src.openCalls(moduleURL); len(calls) != 1 || calls[0].Offset != 0 {
		t.Errorf("opens = %+v, want a fresh request", calls)
	}
	got, _ := os.ReadFile(req.FinalPath)
	if !bytes.Equal(got, data) {
		t.Error("stale temp content leaked into final file")
	}
}

func TestTransfer_CutConnectionKeepsPartialTemp(t *testing.T) {
	data := payload(10_000)
	src := newFakeSource()
	src.add(moduleURL, data)
	src.cutAfter[moduleURL] = 4_000
	src.cutCount[moduleURL] = 1
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))
	sess := NewSession(context.Background())

	_, err := engine.Transfer(context.Background(), sess, req, nil)
	if !domain.IsRetryable(err) || !errors.Is(err, errCut) {
		t.Fatalf("Transfer() error = %v, want retryable cut", err)
	}
	if fileSize(req.TempPath) != 4_000 {
		t.Errorf("temp size = %d, want 4000", fileSize(req.TempPath))
	}

	if _, err := engine.Transfer(context.Background(), sess, req, nil); err != nil {
		t.Fatalf("second Transfer() error = %v", err)
	}
	calls := src.openCalls(moduleURL)
	if len(calls) != 2 || calls[1].Offset != 4_000 {
		t.Errorf("opens = %+v, want resume at 4000", calls)
	}
	got, _ := os.ReadFile(req.FinalPath)
	if !bytes.Equal(got, data) {
		t.Error("resumed file differs from payload")
	}
}

func TestTransfer_MissingPayloadIsPermanent(t *testing.T) {
	engine := newTestEngine(newFakeSource(), newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), 0)

	_, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Transfer() error = %v, want ErrNotFound", err)
	}
	if domain.IsRetryable(err) {
		t.Error("a missing payload should not be retried")
	}
}

func TestTransfer_CancelPreservesTemp(t *testing.T) {
	data := payload(20_000)
	src := newFakeSource()
	src.add(moduleURL, data)
	sess := NewSession(context.Background())
	src.onRead = func(url string, pos int64) {
		if pos >= 6_000 {
			sess.Cancel()
		}
	}
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))

	_, err := engine.Transfer(context.Background(), sess, req, nil)
	if !domain.IsCancelled(err) {
		t.Fatalf("Transfer() error = %v, want cancellation", err)
	}
	if domain.IsRetryable(err) {
		t.Error("cancellation must not be retryable")
	}
	if size := fileSize(req.TempPath); size <= 0 || size >= int64(len(data)) {
		t.Errorf("temp size = %d, want partial file kept", size)
	}
	if _, err := os.Stat(req.FinalPath); !os.IsNotExist(err) {
		t.Error("final file must not exist after cancellation")
	}
}

func TestTransfer_Checksum(t *testing.T) {
	data := payload(3_000)
	sum := sha256.Sum256(data)

	tests := []struct {
		name     string
		checksum string
		wantErr  error
	}{
		{"match", "sha256:" + hex.EncodeToString(sum[:]), nil},
		{"uppercase algo", "SHA256:" + hex.EncodeToString(sum[:]), nil},
		{"mismatch", "sha256:" + hex.EncodeToString(make([]byte, 32)), domain.ErrChecksumMismatch},
		{"unknown format ignored", "crc32:1234abcd", nil},
		{"bare value ignored", "deadbeef", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.add(moduleURL, data)
			engine := newTestEngine(src, newTestFS(), testConfig())
			req := transferRequest(t.TempDir(), int64(len(data)))
			req.Checksum = tt.checksum

			_, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Transfer() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !domain.IsRetryable(err) {
				t.Fatalf("Transfer() error = %v, want retryable %v", err, tt.wantErr)
			}
			if _, statErr := os.Stat(req.TempPath); !os.IsNotExist(statErr) {
				t.Error("corrupt temp file should be deleted")
			}
			if _, statErr := os.Stat(req.FinalPath); !os.IsNotExist(statErr) {
				t.Error("corrupt file must not be committed")
			}
		})
	}
}

func TestTransfer_AttemptDeadlineIsTransient(t *testing.T) {
	data := payload(50_000)
	src := newFakeSource()
	src.add(moduleURL, data)
	src.delay = 5 * time.Millisecond
	engine := newTestEngine(src, newTestFS(), testConfig())
	req := transferRequest(t.TempDir(), int64(len(data)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := engine.Transfer(ctx, NewSession(context.Background()), req, nil)
	if err == nil {
		t.Fatal("Transfer() error = nil, want deadline")
	}
	if domain.IsCancelled(err) {
		t.Errorf("deadline reported as cancellation: %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Errorf("deadline should be retryable: %v", err)
	}
}

func TestTransfer_BandwidthLimit(t *testing.T) {
	data := payload(6_000)
	src := newFakeSource()
	src.add(moduleURL, data)
	cfg := testConfig()
	cfg.MaxBytesPerSecond = 20_000
	engine := newTestEngine(src, newTestFS(), cfg)
	req := transferRequest(t.TempDir(), int64(len(data)))

	if engine.limiter == nil {
		t.Fatal("limiter not installed")
	}
	if engine.limiter.Burst() < cfg.BufferSize {
		t.Errorf("burst %d smaller than buffer %d", engine.limiter.Burst(), cfg.BufferSize)
	}
	if _, err := engine.Transfer(context.Background(), NewSession(context.Background()), req, nil); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
}

func TestSpeedMeter(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	m := newSpeedMeter(now, 0)

	clock = clock.Add(100 * time.Millisecond)
	if m.update(1_000) {
		t.Error("update before sample interval should be ignored")
	}

	clock = clock.Add(400 * time.Millisecond)
	if !m.update(1_000) {
		t.Fatal("update at 500ms should recompute")
	}
	if m.speed != 2_000 {
		t.Errorf("first sample speed = %v, want 2000", m.speed)
	}

	clock = clock.Add(time.Second)
	m.update(5_000) // instant 4000 B/s
	want := 0.3*4_000 + 0.7*2_000
	if m.speed != want {
		t.Errorf("smoothed speed = %v, want %v", m.speed, want)
	}

	if eta := m.eta(5_000, 5_000+int64(want)*3); eta != 3*time.Second {
		t.Errorf("eta = %v, want 3s", eta)
	}
	if eta := m.eta(10, 0); eta != 0 {
		t.Errorf("eta with unknown total = %v, want 0", eta)
	}
}
