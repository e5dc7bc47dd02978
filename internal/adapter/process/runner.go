package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

// maxOutput caps how much installer output is kept for logging
const maxOutput = 8 * 1024

// Runner launches installer executables
type Runner struct {
	logger *zap.Logger
}

// Ensure Runner implements port.ProcessRunner
var _ port.ProcessRunner = (*Runner)(nil)

// NewRunner creates a new process runner
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts cmd, waits for it and kills it when cmd.Timeout elapses.
// A non-zero exit code is reported in the result, not as an error.
func (r *Runner) Run(ctx context.Context, cmd port.Command) (*port.ProcessResult, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	path, args, err := r.prepare(cmd)
	if err != nil {
		return nil, err
	}

	c := exec.CommandContext(runCtx, path, args...)
	c.Dir = cmd.Dir
	c.WaitDelay = 5 * time.Second
	var out limitedBuffer
	c.Stdout = &out
	c.Stderr = &out

	r.logger.Info("Launching installer",
		zap.String("path", cmd.Path),
		zap.Strings("args", cmd.Args),
		zap.Bool("elevated", path != cmd.Path))

	start := time.Now()
	err = c.Run()
	result := &port.ProcessResult{
		Duration: time.Since(start),
		Output:   out.String(),
		ExitCode: -1,
	}
	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		return result, fmt.Errorf("%w after %s", domain.ErrInstallerTimeout, cmd.Timeout)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return result, fmt.Errorf("failed to start installer: %w", err)
	}

	if cmd.Elevate && elevationDeclined(result) {
		return result, domain.ErrElevationDeclined
	}
	return result, nil
}

// limitedBuffer keeps the first maxOutput bytes written to it
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxOutput - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
