package port

import (
	"context"
	"time"
)

// Command describes an installer process launch.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Elevate bool
	Timeout time.Duration
}

// ProcessResult is the outcome of a process that ran to completion.
type ProcessResult struct {
	ExitCode int
	Duration time.Duration
	Output   string
}

// ProcessRunner launches installer executables.
type ProcessRunner interface {
	// Run starts cmd and waits for it. When cmd.Timeout elapses the process is
	// killed and an error wrapping domain.ErrInstallerTimeout is returned
	Run(ctx context.Context, cmd Command) (*ProcessResult, error)
}
