//go:build !windows

package process

import (
	"os"
	"os/exec"
	"strings"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

var lookPath = exec.LookPath

// prepare wraps the command in a non-interactive sudo when elevation is
// requested and the process is not already root
func (r *Runner) prepare(cmd port.Command) (string, []string, error) {
	if !cmd.Elevate || os.Geteuid() == 0 {
		return cmd.Path, cmd.Args, nil
	}

	sudo, err := lookPath("sudo")
	if err != nil {
		return "", nil, domain.ErrElevationNotPossible
	}
	args := append([]string{"-n", "--", cmd.Path}, cmd.Args...)
	return sudo, args, nil
}

func elevationDeclined(result *port.ProcessResult) bool {
	return result.ExitCode != 0 && strings.Contains(result.Output, "a password is required")
}
