package installer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/domain/event"
	"github.com/vertextoedge/app-installer/internal/domain/vo"
	"github.com/vertextoedge/app-installer/internal/logger"
	"github.com/vertextoedge/app-installer/internal/port"
	"github.com/vertextoedge/app-installer/internal/util/ratelimiter"
)

// Dependencies are the collaborators of an Installer. Repository, Validator,
// Registrar, Dispatcher and Tracker are optional.
type Dependencies struct {
	Source     port.Source
	FS         port.FileSystem
	Runner     port.ProcessRunner
	Repository port.InstallRepository
	Validator  port.StructureValidator
	Registrar  port.Registrar
	Dispatcher event.EventDispatcher
	Tracker    *Tracker
	// Gate is shared by every Installer in the process; one is created when nil
	Gate *Gate
}

// Request is one app install
type Request struct {
	App *domain.App
	// Session allows pause and cancel; one is created when nil
	Session    *Session
	OnProgress BasicProgressFunc
	OnDetailed DetailedProgressFunc
}

// Result describes a completed install
type Result struct {
	RunID        string
	State        domain.InstallState
	SoftFailures []error
	Duration     time.Duration
}

// Installer orchestrates download, extraction and post-install steps of apps
type Installer struct {
	cfg        Config
	fs         port.FileSystem
	engine     *TransferEngine
	retrier    *Retrier
	gate       *Gate
	archives   *ArchiveInstaller
	deps       *DependencyInstaller
	cleanup    *CleanupCoordinator
	repo       port.InstallRepository
	validator  port.StructureValidator
	registrar  port.Registrar
	dispatcher event.EventDispatcher
	tracker    *Tracker
	logger     *zap.Logger
	logLimiter *ratelimiter.Limiter
}

// New creates an Installer
func New(cfg Config, d Dependencies, logger *zap.Logger) *Installer {
	cfg = cfg.withDefaults()

	gate := d.Gate
	if gate == nil {
		gate = NewGate(cfg.MaxConcurrent)
	}
	var dispatcher event.EventDispatcher = event.NullDispatcher{}
	if d.Dispatcher != nil {
		dispatcher = d.Dispatcher
	}

	return &Installer{
		cfg:        cfg,
		fs:         d.FS,
		engine:     NewTransferEngine(d.Source, d.FS, logger, cfg),
		retrier:    NewRetrier(cfg.MaxRetryAttempts, cfg.RetryBaseDelay, logger),
		gate:       gate,
		archives:   NewArchiveInstaller(d.FS, logger),
		deps:       NewDependencyInstaller(d.Runner, logger, cfg.DependencyTimeout, cfg.ElevateDependencies),
		cleanup:    NewCleanupCoordinator(d.FS, logger, cfg.PreservePartial),
		repo:       d.Repository,
		validator:  d.Validator,
		registrar:  d.Registrar,
		dispatcher: dispatcher,
		tracker:    d.Tracker,
		logger:     logger,
		logLimiter: ratelimiter.New(cfg.ProgressLogInterval),
	}
}

// Gate returns the concurrency gate used by this installer
func (in *Installer) Gate() *Gate {
	return in.gate
}

// run carries the per-install state through the pipeline
type run struct {
	app     *domain.App
	sess    *Session
	record  *domain.InstallRun
	agg     *Aggregator
	soft    []error
	started time.Time
}

// Prepare validates the request and registers a new run without starting it.
// The returned run id is known before Install begins.
func (in *Installer) Prepare(req Request) (*domain.InstallRun, error) {
	if req.App == nil {
		return nil, fmt.Errorf("%w: app is required", domain.ErrInvalidInput)
	}
	if err := req.App.Validate(); err != nil {
		return nil, &domain.InstallError{AppID: req.App.ID, State: domain.StateIdle, Err: err}
	}
	return domain.NewInstallRun(req.App), nil
}

// Install runs the full pipeline for one app. On failure or cancellation the
// install root is cleaned up and an *domain.InstallError is returned.
func (in *Installer) Install(ctx context.Context, req Request) (*Result, error) {
	record, err := in.Prepare(req)
	if err != nil {
		return nil, err
	}
	return in.InstallRun(ctx, record, req)
}

// InstallRun is Install for a run obtained from Prepare
func (in *Installer) InstallRun(ctx context.Context, record *domain.InstallRun, req Request) (*Result, error) {
	sess := req.Session
	if sess == nil {
		sess = NewSession(ctx)
	}
	defer context.AfterFunc(ctx, sess.Cancel)()

	r := &run{
		app:     req.App,
		sess:    sess,
		record:  record,
		started: time.Now(),
	}
	r.agg = NewAggregator(len(r.app.Modules), req.OnProgress, func(p domain.DetailedProgress) {
		if in.tracker != nil {
			in.tracker.UpdateProgress(record.ID, p)
		}
		if req.OnDetailed != nil {
			req.OnDetailed(p)
		}
	})

	if in.repo != nil {
		if err := in.repo.CreateRun(record); err != nil {
			in.logger.Warn("Failed to record install run", zap.String("run_id", record.ID), zap.Error(err))
		}
	}
	if in.tracker != nil {
		in.tracker.Register(record, sess)
	}

	in.logger.Info("Install started",
		zap.String("run_id", record.ID),
		zap.String("app_id", r.app.ID),
		zap.String("root", r.app.InstallRoot),
		zap.Int("modules", len(r.app.Modules)))

	if err := in.execute(r); err != nil {
		return nil, in.fail(r, err)
	}
	return in.complete(r), nil
}

func (in *Installer) execute(r *run) error {
	in.restoreDownloaded(r.app)

	if err := in.preflight(r.app); err != nil {
		return err
	}
	if err := in.fs.EnsureDir(r.app.InstallRoot); err != nil {
		return fmt.Errorf("failed to create install root: %w", err)
	}

	for i, m := range r.app.OrderedModules() {
		if m.Downloaded {
			in.logger.Info("Module already installed, skipping",
				zap.String("module", m.ID),
				zap.String("path", m.InstallPath))
			r.agg.ModuleDone(i, m, "Already installed")
			continue
		}
		if err := in.installModule(r, i, m); err != nil {
			return err
		}
	}

	if err := in.transition(r, domain.StateInstallingDependencies, ""); err != nil {
		return err
	}
	r.agg.Phase(domain.StateInstallingDependencies, "Installing dependencies")
	soft, err := in.deps.Install(r.sess.Context(), r.app)
	for _, s := range soft {
		in.softFailure(r, "dependency", s)
	}
	if err != nil {
		return err
	}

	if err := in.transition(r, domain.StateValidatingStructure, ""); err != nil {
		return err
	}
	r.agg.Phase(domain.StateValidatingStructure, "Validating installation")
	if in.validator != nil {
		if err := in.validator.Validate(r.sess.Context(), r.app); err != nil {
			if domain.IsCancelled(err) || r.sess.Cancelled() {
				return r.sess.Err()
			}
			in.softFailure(r, "validation", domain.NewSkippableError(err, "structure validation"))
		}
	}

	if err := in.transition(r, domain.StateRegisteringWithOS, ""); err != nil {
		return err
	}
	r.agg.Phase(domain.StateRegisteringWithOS, "Registering application")
	if in.registrar != nil {
		if err := in.registrar.Register(r.sess.Context(), r.app); err != nil {
			if domain.IsCancelled(err) || r.sess.Cancelled() {
				return r.sess.Err()
			}
			in.softFailure(r, "registration", domain.NewSkippableError(err, "os registration"))
		}
	}

	return r.sess.Err()
}

// installModule runs one module through gate, retry, transfer and extraction.
// The gate slot is held until extraction finishes.
func (in *Installer) installModule(r *run, index int, m *domain.Module) error {
	if err := in.gate.Acquire(r.sess.Context()); err != nil {
		return err
	}
	defer in.gate.Release()

	if err := in.transition(r, domain.StateDownloading, m.ID); err != nil {
		return err
	}

	req := TransferRequest{
		ModuleID:     m.ID,
		FileName:     m.Name(),
		URL:          m.URL,
		TempPath:     r.app.TempPath(m),
		FinalPath:    r.app.FinalPath(m),
		ExpectedSize: m.Size,
		Checksum:     m.Checksum,
	}

	in.logger.Info("Downloading module",
		zap.String("module", m.ID),
		zap.String("priority", domain.PriorityName(m.EffectivePriority())),
		zap.String("url", logger.RedactURL(m.URL)),
		zap.String("size", vo.FormatSize(m.Size)))

	var result *TransferResult
	attempts, err := in.retrier.Do(r.sess, m.ID, func(ctx context.Context, attempt int) error {
		if in.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, in.cfg.AttemptTimeout)
			defer cancel()
		}
		res, err := in.engine.Transfer(ctx, r.sess, req, func(p domain.TransferProgress) {
			r.agg.Transfer(index, m, p)
			in.logProgress(p)
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	in.logLimiter.Forget(m.ID)
	if err != nil {
		return err
	}

	installPath := req.FinalPath
	if m.IsArchive() {
		if err := in.transition(r, domain.StateExtracting, m.ID); err != nil {
			return err
		}
		marker, err := in.archives.Install(r.sess, m.ID, req.FinalPath, r.app.DestinationDir(m), func(done, total int, name string) {
			r.agg.Extracting(index, m, done, total, name)
		})
		if err != nil {
			return err
		}
		installPath = marker
	}

	if !m.MarkDownloaded(installPath) {
		in.logger.Error("Module marked downloaded twice", zap.String("module", m.ID))
	}
	if in.repo != nil {
		if err := in.repo.MarkModuleDownloaded(r.app.ID, m.ID, installPath); err != nil {
			in.logger.Warn("Failed to record installed module", zap.String("module", m.ID), zap.Error(err))
		}
	}
	in.dispatcher.Dispatch(event.NewModuleInstalled(r.record.ID, r.app.ID, m.ID, installPath,
		result.Size, result.ResumedFrom > 0, attempts))
	r.agg.ModuleDone(index, m, "Installed")
	return nil
}

// restoreDownloaded marks modules recorded by an earlier run whose files are still present
func (in *Installer) restoreDownloaded(app *domain.App) {
	if in.repo == nil {
		return
	}
	recorded, err := in.repo.DownloadedModules(app.ID)
	if err != nil {
		in.logger.Warn("Failed to load installed modules", zap.String("app_id", app.ID), zap.Error(err))
		return
	}
	for id, path := range recorded {
		m := app.Module(id)
		if m == nil || m.Downloaded || !in.fs.FileExists(path) {
			continue
		}
		m.MarkDownloaded(path)
	}
}

// preflight checks there is room for the modules still to be downloaded
func (in *Installer) preflight(app *domain.App) error {
	needed := app.PendingBytes()
	if needed == 0 {
		return nil
	}
	usage, err := in.fs.GetDiskUsage(app.InstallRoot)
	if err != nil {
		in.logger.Warn("Unable to check free disk space", zap.String("root", app.InstallRoot), zap.Error(err))
		return nil
	}
	if uint64(needed) > usage.Free {
		return fmt.Errorf("%w: need %s, %s free", domain.ErrInsufficientSpace,
			vo.FormatSize(needed), vo.FormatSize(int64(usage.Free)))
	}
	return nil
}

func (in *Installer) transition(r *run, next domain.InstallState, module string) error {
	from := r.record.State
	if err := r.record.Transition(next, module); err != nil {
		return err
	}
	in.persist(r)
	in.dispatcher.Dispatch(event.NewInstallStateChanged(r.record.ID, r.app.ID, string(from), string(next), module))
	return nil
}

func (in *Installer) persist(r *run) {
	if in.repo != nil {
		if err := in.repo.UpdateRun(r.record); err != nil {
			in.logger.Warn("Failed to update install run", zap.String("run_id", r.record.ID), zap.Error(err))
		}
	}
	if in.tracker != nil {
		in.tracker.UpdateRun(r.record)
	}
}

func (in *Installer) softFailure(r *run, step string, err error) {
	r.soft = append(r.soft, err)
	in.logger.Warn("Post-install step failed, install continues",
		zap.String("app_id", r.app.ID),
		zap.String("step", step),
		zap.Error(err))
	in.dispatcher.Dispatch(event.NewSoftFailure(r.record.ID, r.app.ID, step, err))
}

func (in *Installer) logProgress(p domain.TransferProgress) {
	if ok, suppressed := in.logLimiter.Allow(p.ModuleID); ok {
		in.logger.Debug("Transfer progress",
			zap.String("module", p.ModuleID),
			zap.String("size", vo.FormatProgressSize(p.BytesDownloaded, p.TotalBytes)),
			zap.String("speed", vo.FormatSpeed(p.Speed)),
			zap.String("eta", vo.FormatETA(p.ETA)),
			zap.Int("suppressed", suppressed))
	}
}

func (in *Installer) complete(r *run) *Result {
	if err := in.transition(r, domain.StateComplete, ""); err != nil {
		in.logger.Error("Failed to complete install run", zap.Error(err))
	}
	r.agg.Phase(domain.StateComplete, "Installation complete")

	duration := time.Since(r.started)
	in.dispatcher.Dispatch(event.NewInstallFinished(r.record.ID, r.app.ID, string(r.record.State), nil, duration))
	in.logger.Info("Install complete",
		zap.String("run_id", r.record.ID),
		zap.String("app_id", r.app.ID),
		zap.Int("soft_failures", len(r.soft)),
		zap.Duration("duration", duration))

	return &Result{
		RunID:        r.record.ID,
		State:        r.record.State,
		SoftFailures: r.soft,
		Duration:     duration,
	}
}

// fail routes a failed or cancelled install through cleanup before reporting it
func (in *Installer) fail(r *run, cause error) error {
	if r.sess.Cancelled() && !domain.IsCancelled(cause) {
		cause = errors.Join(r.sess.Err(), cause)
	}

	report := in.cleanup.Cleanup(r.app, cause)

	failedIn := r.record.State
	if err := r.record.Fail(cause); err != nil {
		in.logger.Error("Failed to record install failure", zap.Error(err))
	}
	in.persist(r)

	duration := time.Since(r.started)
	in.dispatcher.Dispatch(event.NewInstallFinished(r.record.ID, r.app.ID, string(r.record.State), cause, duration))

	fields := []zap.Field{
		zap.String("run_id", r.record.ID),
		zap.String("app_id", r.app.ID),
		zap.String("failed_in", string(failedIn)),
		zap.String("module", r.record.Module),
		zap.Int("temp_files_removed", report.TempFilesRemoved),
		zap.Bool("root_removed", report.RootRemoved),
		zap.Error(cause),
	}
	if r.record.State == domain.StateCancelled {
		in.logger.Info("Install cancelled", fields...)
	} else {
		in.logger.Error("Install failed", fields...)
	}

	return &domain.InstallError{AppID: r.app.ID, State: r.record.State, Err: cause}
}
