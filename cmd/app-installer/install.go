package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/service/installer"
	"github.com/vertextoedge/app-installer/internal/service/server"
)

var (
	manifestPath string
	statusAddr   string
	installRoot  string
)

var installCmd = &cobra.Command{
	Use:   "install --manifest app.yaml",
	Short: "Install one app and report progress; Ctrl+C cancels",
	RunE:  runInstall,
}

func init() {
	installCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to the app manifest")
	installCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve install status and pause/resume/cancel on this address")
	installCmd.Flags().StringVar(&installRoot, "root", "", "Override the manifest install root")
	_ = installCmd.MarkFlagRequired("manifest")
}

func runInstall(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := a.catalog.LoadApp(ctx, manifestPath)
	if err != nil {
		return err
	}
	if installRoot != "" {
		target.InstallRoot = installRoot
	}

	sess := installer.NewSession(ctx)
	req := installer.Request{
		App:        target,
		Session:    sess,
		OnDetailed: newProgressPrinter(cmd.OutOrStdout(), stdoutIsTerminal()),
	}
	record, err := a.installer.Prepare(req)
	if err != nil {
		return err
	}

	if statusAddr != "" {
		stopStatus := startStatusServer(a, sess, record)
		defer stopStatus()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Installing %s into %s (run %s)\n", target.Name, target.InstallRoot, record.ID)
	result, err := a.installer.InstallRun(ctx, record, req)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout())
		var installErr *domain.InstallError
		if errors.As(err, &installErr) && installErr.State == domain.StateCancelled {
			fmt.Fprintln(cmd.OutOrStdout(), "Installation cancelled.")
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nInstalled %s in %s\n", target.Name, result.Duration.Round(time.Second))
	for _, soft := range result.SoftFailures {
		fmt.Fprintf(cmd.OutOrStdout(), "  warning: %v\n", soft)
	}
	return nil
}

// startStatusServer exposes the single running install for remote control
func startStatusServer(a *app, sess *installer.Session, record *domain.InstallRun) func() {
	a.tracker.Register(record, sess)

	cfg := server.DefaultConfig()
	cfg.BindAddr = statusAddr
	cfg.AdminUsername = a.cfg.HTTP.AdminUsername
	cfg.AdminPassword = a.cfg.HTTP.AdminPassword

	handler := server.NewInstallHandler(sess.Context(), a.installer, a.catalog, a.tracker, a.logger)
	debug := server.NewDebugHandler(a.store, a.metrics, a.installer.Gate(), a.logger)
	srv := server.New(cfg, handler, debug, a.store, a.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			a.logger.Warn("failed to stop status server", zap.Error(err))
		}
	}
}
