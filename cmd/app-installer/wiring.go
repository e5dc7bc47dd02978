package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/adapter/catalog"
	"github.com/vertextoedge/app-installer/internal/adapter/filesystem"
	"github.com/vertextoedge/app-installer/internal/adapter/httpclient"
	"github.com/vertextoedge/app-installer/internal/adapter/process"
	"github.com/vertextoedge/app-installer/internal/adapter/registration"
	"github.com/vertextoedge/app-installer/internal/adapter/sqlite"
	"github.com/vertextoedge/app-installer/internal/adapter/validator"
	"github.com/vertextoedge/app-installer/internal/config"
	"github.com/vertextoedge/app-installer/internal/domain/event"
	"github.com/vertextoedge/app-installer/internal/logger"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// app holds the wired services shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *sqlite.Store
	fs        *filesystem.Manager
	catalog   *catalog.FileCatalog
	metrics   *event.MetricsHandler
	tracker   *installer.Tracker
	installer *installer.Installer
}

// setup loads configuration and wires the installer stack
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zapLogger := logger.GetZapLogger()

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}

	fsManager := filesystem.NewManager()

	dispatcher := event.NewInMemoryDispatcher(func(e event.DomainEvent, err error) {
		zapLogger.Warn("event handler failed", zap.String("event", e.EventName()), zap.Error(err))
	})
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(event.NewLoggingHandler(zapLogger))
	dispatcher.Subscribe(metrics)

	tracker := installer.NewTracker()

	source := httpclient.NewClient(&httpclient.ClientConfig{
		UserAgent:       cfg.Download.UserAgent,
		BufferSizeKB:    cfg.Download.BufferSizeKB,
		MaxConnsPerHost: cfg.Download.MaxConcurrentDownloads,
	})

	in := installer.New(cfg.InstallerConfig(), installer.Dependencies{
		Source:     source,
		FS:         fsManager,
		Runner:     process.NewRunner(zapLogger),
		Repository: store,
		Validator:  validator.New(),
		Registrar:  registration.NewRegistrar(zapLogger),
		Dispatcher: dispatcher,
		Tracker:    tracker,
	}, zapLogger)

	zapLogger.Debug("configuration loaded",
		zap.String("config", configPath),
		zap.String("base_dir", cfg.Install.BaseDir),
		zap.String("database", cfg.Database.Path),
		zap.Int("max_concurrent_downloads", cfg.Download.MaxConcurrentDownloads))

	return &app{
		cfg:       cfg,
		logger:    zapLogger,
		store:     store,
		fs:        fsManager,
		catalog:   catalog.NewFileCatalog(cfg.Install.BaseDir),
		metrics:   metrics,
		tracker:   tracker,
		installer: in,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = logger.Sync()
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
