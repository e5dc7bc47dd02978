package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/logger"
	"github.com/vertextoedge/app-installer/internal/port"
)

const (
	speedSampleInterval = 500 * time.Millisecond
	speedSmoothing      = 0.3
)

// TransferRequest describes one module transfer
type TransferRequest struct {
	ModuleID     string
	FileName     string
	URL          string
	TempPath     string
	FinalPath    string
	ExpectedSize int64
	Checksum     string
}

// TransferResult is the outcome of a successful transfer
type TransferResult struct {
	Size        int64
	ResumedFrom int64
	Streamed    int64
}

// ProgressFunc receives transfer snapshots at byte-count checkpoints
type ProgressFunc func(domain.TransferProgress)

// TransferEngine performs resumable single-stream module downloads
type TransferEngine struct {
	source  port.Source
	fs      port.FileSystem
	logger  *zap.Logger
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

// NewTransferEngine creates a transfer engine. A positive MaxBytesPerSecond
// installs a bandwidth limiter shared by every transfer of this engine.
func NewTransferEngine(source port.Source, fs port.FileSystem, logger *zap.Logger, cfg Config) *TransferEngine {
	cfg = cfg.withDefaults()
	e := &TransferEngine{
		source: source,
		fs:     fs,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	if cfg.MaxBytesPerSecond > 0 {
		burst := int(cfg.MaxBytesPerSecond)
		if burst < cfg.BufferSize {
			burst = cfg.BufferSize
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxBytesPerSecond), burst)
	}
	return e
}

// Transfer downloads req.URL into req.TempPath, resuming from an existing
// temp file when enabled, and renames it to req.FinalPath on success.
func (e *TransferEngine) Transfer(ctx context.Context, sess *Session, req TransferRequest, onProgress ProgressFunc) (*TransferResult, error) {
	if err := e.interrupted(ctx, sess, req.ModuleID); err != nil {
		return nil, err
	}

	info, err := e.source.Probe(ctx, req.URL)
	if err != nil {
		return nil, e.transient(ctx, sess, req, "probe", err)
	}
	total := info.Size
	if total < 0 {
		total = req.ExpectedSize
	} else if req.ExpectedSize > 0 && total != req.ExpectedSize {
		e.logger.Warn("Remote size differs from catalog size",
			zap.String("module", req.ModuleID),
			zap.Int64("remote", total),
			zap.Int64("catalog", req.ExpectedSize))
	}

	offset := e.resumeOffset(req, info, total)
	progress := domain.TransferProgress{
		ModuleID:        req.ModuleID,
		FileName:        req.FileName,
		BytesDownloaded: offset,
		TotalBytes:      total,
	}

	if offset > 0 && total > 0 && offset >= total {
		if offset > total {
			e.logger.Warn("Temp file longer than payload, trimming",
				zap.String("module", req.ModuleID),
				zap.Int64("size", offset),
				zap.Int64("total", total))
			if err := e.fs.Truncate(req.TempPath, total); err != nil {
				return nil, e.transient(ctx, sess, req, "truncate", err)
			}
			offset = total
			progress.BytesDownloaded = total
		}
		e.logger.Info("Temp file already complete, skipping transfer",
			zap.String("module", req.ModuleID),
			zap.Int64("size", offset))
		progress.Status = "Download complete"
		if onProgress != nil {
			onProgress(progress)
		}
		if err := e.finish(ctx, sess, req, offset, total); err != nil {
			return nil, err
		}
		return &TransferResult{Size: offset, ResumedFrom: offset}, nil
	}

	if info.ETag != "" {
		e.saveETag(req, info.ETag)
	}

	body, err := e.source.Open(ctx, req.URL, offset)
	if err != nil {
		return nil, e.transient(ctx, sess, req, "open", err)
	}
	defer body.Body.Close()

	if offset > 0 && !body.Partial {
		e.logger.Warn("Server ignored range request, restarting from zero",
			zap.String("module", req.ModuleID),
			zap.Int64("offset", offset))
		offset = 0
		progress.BytesDownloaded = 0
	}
	if offset > 0 {
		e.logger.Info("Resuming download",
			zap.String("module", req.ModuleID),
			zap.Int64("from_byte", offset),
			zap.String("url", logger.RedactURL(req.URL)))
	}

	f, err := e.fs.OpenTemp(req.TempPath, offset > 0)
	if err != nil {
		return nil, e.transient(ctx, sess, req, "open temp", err)
	}

	written, err := e.stream(ctx, sess, f, body.Body, &progress, onProgress)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, e.transient(ctx, sess, req, "sync", err)
	}
	if err := f.Close(); err != nil {
		return nil, e.transient(ctx, sess, req, "close", err)
	}

	size := offset + written
	if err := e.finish(ctx, sess, req, size, total); err != nil {
		return nil, err
	}

	progress.Status = "Download complete"
	if onProgress != nil {
		onProgress(progress)
	}
	return &TransferResult{Size: size, ResumedFrom: offset, Streamed: written}, nil
}

// resumeOffset returns the length of a usable temp file, or 0. A temp file
// is dropped when the remote payload changed since it was started or when
// the server cannot continue it with a ranged request.
func (e *TransferEngine) resumeOffset(req TransferRequest, info *port.RemoteInfo, total int64) int64 {
	if !e.cfg.EnableResume {
		e.discardTemp(req)
		return 0
	}
	size, _, err := e.fs.TempFileInfo(req.TempPath)
	if err != nil || size == 0 {
		return 0
	}

	if saved := e.loadETag(req); saved != "" && info.ETag != "" && saved != info.ETag {
		e.logger.Info("Remote payload changed, restarting download",
			zap.String("module", req.ModuleID),
			zap.String("etag", info.ETag),
			zap.String("partial_etag", saved))
		e.discardTemp(req)
		return 0
	}
	if !info.AcceptsRanges && (total <= 0 || size < total) {
		e.logger.Info("Server cannot resume, restarting download",
			zap.String("module", req.ModuleID),
			zap.Int64("partial", size))
		e.discardTemp(req)
		return 0
	}
	return size
}

// discardTemp removes the temp file and its saved entity tag
func (e *TransferEngine) discardTemp(req TransferRequest) {
	for _, path := range []string{req.TempPath, etagPath(req.TempPath)} {
		if err := e.fs.Remove(path); err != nil {
			e.logger.Warn("Failed to remove stale temp file", zap.String("path", path), zap.Error(err))
		}
	}
}

// etagPath names the file holding the entity tag a temp file was started
// from. It carries the temp suffix so cleanup treats it like the temp file.
func etagPath(tempPath string) string {
	return strings.TrimSuffix(tempPath, domain.TempSuffix) + ".etag" + domain.TempSuffix
}

func (e *TransferEngine) loadETag(req TransferRequest) string {
	f, err := e.fs.Open(etagPath(req.TempPath))
	if err != nil {
		return ""
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, 1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (e *TransferEngine) saveETag(req TransferRequest, etag string) {
	f, err := e.fs.OpenTemp(etagPath(req.TempPath), false)
	if err == nil {
		_, err = io.WriteString(f, etag)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		e.logger.Debug("Failed to save entity tag", zap.String("module", req.ModuleID), zap.Error(err))
	}
}

// stream copies body into f, checking cancellation before every write and
// honoring pause at byte-count checkpoints
func (e *TransferEngine) stream(ctx context.Context, sess *Session, f io.Writer, body io.Reader, progress *domain.TransferProgress, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, e.cfg.BufferSize)
	meter := newSpeedMeter(e.now, progress.BytesDownloaded)

	var written, sinceCheckpoint int64
	for {
		if err := e.interrupted(ctx, sess, progress.ModuleID); err != nil {
			return written, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if e.limiter != nil {
				if err := e.limiter.WaitN(ctx, n); err != nil {
					return written, e.interruptedOr(ctx, sess, err, progress.ModuleID, "throttle")
				}
			}
			if err := e.interrupted(ctx, sess, progress.ModuleID); err != nil {
				return written, err
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return written, domain.NewTransientTransferError(progress.ModuleID, "write", err)
			}

			written += int64(n)
			sinceCheckpoint += int64(n)
			progress.BytesDownloaded += int64(n)
			if meter.update(progress.BytesDownloaded) {
				progress.Speed = meter.speed
				progress.ETA = meter.eta(progress.BytesDownloaded, progress.TotalBytes)
			}

			if sinceCheckpoint >= e.cfg.CheckpointBytes {
				sinceCheckpoint = 0
				progress.Status = "Downloading"
				if onProgress != nil {
					onProgress(*progress)
				}
				if err := sess.Wait(ctx); err != nil {
					return written, e.interruptedOr(ctx, sess, err, progress.ModuleID, "pause")
				}
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, e.interruptedOr(ctx, sess, readErr, progress.ModuleID, "read")
		}
	}
}

// finish verifies the completed temp file and commits it
func (e *TransferEngine) finish(ctx context.Context, sess *Session, req TransferRequest, size, total int64) error {
	if err := e.interrupted(ctx, sess, req.ModuleID); err != nil {
		return err
	}

	if total > 0 && size != total {
		if size > total {
			e.discardTemp(req)
		}
		return domain.NewTransientTransferError(req.ModuleID, "verify",
			fmt.Errorf("%w: got %d bytes, want %d", domain.ErrSizeMismatch, size, total))
	}

	if err := verifyChecksum(e.fs, req.TempPath, req.Checksum); err != nil {
		if errors.Is(err, domain.ErrChecksumMismatch) {
			e.discardTemp(req)
		}
		return domain.NewTransientTransferError(req.ModuleID, "checksum", err)
	}

	if err := e.fs.Commit(req.TempPath, req.FinalPath); err != nil {
		return domain.NewTransientTransferError(req.ModuleID, "commit", err)
	}
	_ = e.fs.Remove(etagPath(req.TempPath))
	return nil
}

// interrupted reports session cancellation or the end of ctx
func (e *TransferEngine) interrupted(ctx context.Context, sess *Session, moduleID string) error {
	if err := sess.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewTransientTransferError(moduleID, "attempt", err)
	}
	return nil
}

// interruptedOr prefers a cancellation error over err
func (e *TransferEngine) interruptedOr(ctx context.Context, sess *Session, err error, moduleID, op string) error {
	if cerr := sess.Err(); cerr != nil {
		return cerr
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return domain.NewTransientTransferError(moduleID, op, fmt.Errorf("attempt timed out: %w", err))
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
		return domain.NewPermanentTransferError(moduleID, op, err)
	}
	return domain.NewTransientTransferError(moduleID, op, err)
}

func (e *TransferEngine) transient(ctx context.Context, sess *Session, req TransferRequest, op string, err error) error {
	return e.interruptedOr(ctx, sess, err, req.ModuleID, op)
}

// speedMeter keeps an exponential moving average of transfer speed
type speedMeter struct {
	now       func() time.Time
	last      time.Time
	lastBytes int64
	speed     float64
}

func newSpeedMeter(now func() time.Time, startBytes int64) *speedMeter {
	return &speedMeter{now: now, last: now(), lastBytes: startBytes}
}

// update recomputes the speed if at least speedSampleInterval has elapsed
func (m *speedMeter) update(bytes int64) bool {
	t := m.now()
	elapsed := t.Sub(m.last)
	if elapsed < speedSampleInterval {
		return false
	}

	instant := float64(bytes-m.lastBytes) / elapsed.Seconds()
	if m.speed == 0 {
		m.speed = instant
	} else {
		m.speed = speedSmoothing*instant + (1-speedSmoothing)*m.speed
	}
	m.last = t
	m.lastBytes = bytes
	return true
}

// eta estimates the time left at the current speed; zero when unknown
func (m *speedMeter) eta(done, total int64) time.Duration {
	if m.speed <= 0 || total <= 0 || done >= total {
		return 0
	}
	return time.Duration(float64(total-done) / m.speed * float64(time.Second))
}
