package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vertextoedge/app-installer/internal/domain"
)

const version = "0.3.0"

// exitCancelled is returned when the user interrupts an install
const exitCancelled = 130

var configPath string

var rootCmd = &cobra.Command{
	Use:           "app-installer",
	Short:         "Download and install multi-module applications with resume support",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	rootCmd.AddCommand(installCmd, serveCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if domain.IsCancelled(err) {
			os.Exit(exitCancelled)
		}
		var installErr *domain.InstallError
		if errors.As(err, &installErr) && installErr.State == domain.StateCancelled {
			os.Exit(exitCancelled)
		}
		os.Exit(1)
	}
}
