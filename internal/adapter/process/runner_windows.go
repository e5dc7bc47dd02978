//go:build windows

package process

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"

	"github.com/vertextoedge/app-installer/internal/port"
)

// prepare routes the launch through Start-Process -Verb RunAs when elevation
// is requested and the current token is not elevated
func (r *Runner) prepare(cmd port.Command) (string, []string, error) {
	if !cmd.Elevate || windows.GetCurrentProcessToken().IsElevated() {
		return cmd.Path, cmd.Args, nil
	}

	script := fmt.Sprintf(
		"$p = Start-Process -FilePath %s -ArgumentList %s -Verb RunAs -Wait -PassThru; exit $p.ExitCode",
		psQuote(cmd.Path), psArgList(cmd.Args))
	return "powershell.exe", []string{"-NoProfile", "-NonInteractive", "-Command", script}, nil
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func psArgList(args []string) string {
	if len(args) == 0 {
		return "@()"
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = psQuote(a)
	}
	return "@(" + strings.Join(quoted, ",") + ")"
}

func elevationDeclined(result *port.ProcessResult) bool {
	return result.ExitCode != 0 && strings.Contains(strings.ToLower(result.Output), "canceled by the user")
}
