package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/service/maintenance"
	"github.com/vertextoedge/app-installer/internal/service/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the install daemon with the status API and maintenance",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting app-installer daemon",
		zap.String("version", version),
		zap.String("config", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	maintenanceService := maintenance.New(&maintenance.Config{
		BaseDir:         a.cfg.Install.BaseDir,
		CleanupInterval: a.cfg.Install.GetCleanupInterval(),
		TempFileMaxAge:  a.cfg.Install.GetTempFileMaxAge(),
		RunRetention:    a.cfg.Install.GetRunRetention(),
	}, a.store, a.fs, a.tracker, a.logger)

	handler := server.NewInstallHandler(ctx, a.installer, a.catalog, a.tracker, a.logger)
	debug := server.NewDebugHandler(a.store, a.metrics, a.installer.Gate(), a.logger)
	httpServer := server.New(&server.Config{
		BindAddr:      a.cfg.HTTP.BindAddr,
		AdminUsername: a.cfg.HTTP.AdminUsername,
		AdminPassword: a.cfg.HTTP.AdminPassword,
		ReadTimeout:   a.cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  a.cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   a.cfg.HTTP.GetIdleTimeout(),
	}, handler, debug, a.store, a.logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			a.logger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	a.logger.Info("daemon started",
		zap.String("http_addr", a.cfg.HTTP.BindAddr),
		zap.String("base_dir", a.cfg.Install.BaseDir))

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, stopping services...")
	case runErr = <-serverErr:
		a.logger.Error("HTTP server failed", zap.Error(runErr))
		stop()
	}

	maintenanceService.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	// Running installs observe the cancelled context and clean up
	handler.Wait()

	a.logger.Info("daemon stopped")
	return runErr
}
