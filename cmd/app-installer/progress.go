package main

import (
	"fmt"
	"io"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// newProgressPrinter renders detailed progress. On a terminal the line is
// redrawn in place; otherwise a line is printed whenever the percent changes.
func newProgressPrinter(w io.Writer, terminal bool) installer.DetailedProgressFunc {
	last := -1
	var lastStatus string
	return func(p domain.DetailedProgress) {
		line := formatProgress(p)
		if terminal {
			fmt.Fprintf(w, "\r\033[K%s", line)
			return
		}
		if p.Percent == last && p.Status == lastStatus {
			return
		}
		last, lastStatus = p.Percent, p.Status
		fmt.Fprintln(w, line)
	}
}

func formatProgress(p domain.DetailedProgress) string {
	line := fmt.Sprintf("[%3d%%] %s", p.Percent, p.Status)
	if p.ModuleName != "" {
		line += " " + p.ModuleName
	}
	if p.State == domain.StateDownloading && p.Size != "" {
		line += fmt.Sprintf(" %s at %s, %s left", p.Size, p.Speed, p.ETA)
	} else if p.State == domain.StateExtracting && p.Size != "" {
		line += fmt.Sprintf(" (%s)", p.Size)
	}
	return line
}
