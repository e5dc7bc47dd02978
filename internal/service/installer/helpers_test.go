package installer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/adapter/filesystem"
	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

var errCut = errors.New("connection reset by peer")

type openCall struct {
	URL    string
	Offset int64
}

// fakeSource serves in-memory payloads with injectable failures
type fakeSource struct {
	mu          sync.Mutex
	payloads    map[string][]byte
	openFails   map[string]int   // remaining Open calls that fail
	cutAfter    map[string]int64 // body fails after this many bytes
	cutCount    map[string]int   // remaining bodies that get cut
	ignoreRange bool             // Open answers ranged requests with the whole payload
	noRanges    bool             // Probe reports no range support
	etag        string
	chunk       int
	delay       time.Duration
	onRead      func(url string, pos int64)
	opens       []openCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		payloads:  make(map[string][]byte),
		openFails: make(map[string]int),
		cutAfter:  make(map[string]int64),
		cutCount:  make(map[string]int),
		chunk:     4096,
	}
}

func (s *fakeSource) add(url string, data []byte) {
	s.mu.Lock()
	s.payloads[url] = data
	s.mu.Unlock()
}

func (s *fakeSource) openCalls(url string) []openCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []openCall
	for _, c := range s.opens {
		if c.URL == url {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeSource) Probe(ctx context.Context, url string) (*port.RemoteInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.payloads[url]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &port.RemoteInfo{Size: int64(len(data)), AcceptsRanges: !s.noRanges, ETag: s.etag}, nil
}

func (s *fakeSource) Open(ctx context.Context, url string, offset int64) (*port.RemoteBody, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens = append(s.opens, openCall{URL: url, Offset: offset})

	if s.openFails[url] > 0 {
		s.openFails[url]--
		return nil, errors.New("dial tcp: connection refused")
	}
	data, ok := s.payloads[url]
	if !ok {
		return nil, domain.ErrNotFound
	}

	partial := offset > 0 && !s.ignoreRange
	start := int64(0)
	if partial {
		start = offset
	}
	cut := int64(-1)
	if s.cutCount[url] > 0 {
		s.cutCount[url]--
		cut = s.cutAfter[url]
	}

	body := &fakeBody{
		ctx:    ctx,
		data:   data,
		pos:    start,
		chunk:  s.chunk,
		delay:  s.delay,
		cutAt:  cut,
		url:    url,
		onRead: s.onRead,
	}
	return &port.RemoteBody{Body: body, Partial: partial, Length: int64(len(data)) - start}, nil
}

type fakeBody struct {
	ctx    context.Context
	data   []byte
	pos    int64
	chunk  int
	delay  time.Duration
	cutAt  int64
	url    string
	onRead func(url string, pos int64)
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if b.cutAt >= 0 && b.pos >= b.cutAt {
		return 0, errCut
	}
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	end := b.pos + int64(b.chunk)
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	if b.cutAt >= 0 && end > b.cutAt {
		end = b.cutAt
	}
	if limit := b.pos + int64(len(p)); end > limit {
		end = limit
	}

	n := copy(p, b.data[b.pos:end])
	b.pos += int64(n)
	if b.onRead != nil {
		b.onRead(b.url, b.pos)
	}
	return n, nil
}

func (b *fakeBody) Close() error { return nil }

// fakeRunner records launched installers
type fakeRunner struct {
	mu     sync.Mutex
	calls  []port.Command
	result *port.ProcessResult
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, cmd port.Command) (*port.ProcessResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	if r.err != nil {
		return r.result, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &port.ProcessResult{ExitCode: 0}, nil
}

// memRepo is an in-memory port.InstallRepository
type memRepo struct {
	mu      sync.Mutex
	runs    map[string]domain.InstallRun
	states  []domain.InstallState
	modules map[string]map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{runs: make(map[string]domain.InstallRun), modules: make(map[string]map[string]string)}
}

func (r *memRepo) CreateRun(run *domain.InstallRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRepo) UpdateRun(run *domain.InstallRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	r.states = append(r.states, run.State)
	return nil
}

func (r *memRepo) GetRun(id string) (*domain.InstallRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (r *memRepo) ListRuns(limit int) ([]*domain.InstallRun, error) { return nil, nil }

func (r *memRepo) MarkModuleDownloaded(appID, moduleID, installPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modules[appID] == nil {
		r.modules[appID] = make(map[string]string)
	}
	r.modules[appID][moduleID] = installPath
	return nil
}

func (r *memRepo) DownloadedModules(appID string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for k, v := range r.modules[appID] {
		out[k] = v
	}
	return out, nil
}

func (r *memRepo) ActiveRoots() ([]string, error)                      { return nil, nil }
func (r *memRepo) CleanupOldRuns(olderThan time.Duration) (int, error) { return 0, nil }
func (r *memRepo) Ping() error                                         { return nil }
func (r *memRepo) Close() error                                        { return nil }

// testFS wraps the real filesystem adapter with injectable failures
type testFS struct {
	*filesystem.Manager
	mu          sync.Mutex
	lockedFor   int // ProbeLocked reports locked this many times
	removeFails int // Remove fails this many times
	free        uint64
}

func newTestFS() *testFS {
	return &testFS{Manager: filesystem.NewManager()}
}

func (f *testFS) ProbeLocked(path string) (bool, error) {
	f.mu.Lock()
	if f.lockedFor > 0 {
		f.lockedFor--
		f.mu.Unlock()
		return true, nil
	}
	f.mu.Unlock()
	return f.Manager.ProbeLocked(path)
}

func (f *testFS) Remove(path string) error {
	f.mu.Lock()
	if f.removeFails > 0 {
		f.removeFails--
		f.mu.Unlock()
		return errors.New("sharing violation")
	}
	f.mu.Unlock()
	return f.Manager.Remove(path)
}

func (f *testFS) GetDiskUsage(path string) (*port.DiskUsage, error) {
	if f.free > 0 {
		return &port.DiskUsage{Total: f.free * 2, Free: f.free}, nil
	}
	return f.Manager.GetDiskUsage(path)
}

// recordSleeps replaces a sleepFunc with one that records and returns at once
func recordSleeps(sleeps *[]time.Duration, mu *sync.Mutex) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*sleeps = append(*sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range slices.Sorted(maps.Keys(files)) {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(f, files[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func listTempFiles(t *testing.T, root string) []string {
	t.Helper()
	var temps []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, domain.TempSuffix) {
			temps = append(temps, path)
		}
		return nil
	})
	return temps
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferSize = 1024
	cfg.CheckpointBytes = 2048
	cfg.AttemptTimeout = 0
	return cfg
}

func newTestEngine(src port.Source, fs port.FileSystem, cfg Config) *TransferEngine {
	return NewTransferEngine(src, fs, zap.NewNop(), cfg)
}
