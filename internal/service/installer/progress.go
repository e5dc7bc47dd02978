package installer

import (
	"fmt"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/domain/vo"
)

// modulesShare is the percentage of overall progress spent on modules
const modulesShare = 90

// phasePercent is the fixed progress reached when a post-processing phase starts
var phasePercent = map[domain.InstallState]int{
	domain.StateInstallingDependencies: 95,
	domain.StateValidatingStructure:    97,
	domain.StateRegisteringWithOS:      99,
	domain.StateComplete:               100,
}

// BasicProgressFunc receives overall percent complete (0-100)
type BasicProgressFunc func(percent int)

// DetailedProgressFunc receives formatted progress snapshots
type DetailedProgressFunc func(domain.DetailedProgress)

// Aggregator turns module and phase updates into the basic and detailed
// progress channels. Both channels receive the same percent for every update.
// It is driven by the single goroutine running the install.
type Aggregator struct {
	modules  int
	basic    BasicProgressFunc
	detailed DetailedProgressFunc
	last     int
	current  domain.DetailedProgress
}

// NewAggregator creates an aggregator for an app with the given module count.
// Either callback may be nil.
func NewAggregator(modules int, basic BasicProgressFunc, detailed DetailedProgressFunc) *Aggregator {
	if modules < 1 {
		modules = 1
	}
	return &Aggregator{modules: modules, basic: basic, detailed: detailed}
}

// Transfer publishes a transfer snapshot for the module at index
func (a *Aggregator) Transfer(index int, m *domain.Module, p domain.TransferProgress) {
	status := p.Status
	if status == "" {
		status = "Downloading"
	}
	a.emit(a.modulePercent(index, p.Fraction()), domain.DetailedProgress{
		State:      domain.StateDownloading,
		Speed:      vo.FormatSpeed(p.Speed),
		ETA:        vo.FormatETA(p.ETA),
		Size:       vo.FormatProgressSize(p.BytesDownloaded, p.TotalBytes),
		FileName:   p.FileName,
		ModuleName: m.ID,
		Status:     status,
	})
}

// Extracting publishes extraction of one archive entry
func (a *Aggregator) Extracting(index int, m *domain.Module, done, total int, entry string) {
	a.emit(a.modulePercent(index, 1), domain.DetailedProgress{
		State:      domain.StateExtracting,
		Speed:      vo.FormatSpeed(0),
		ETA:        vo.FormatETA(0),
		Size:       fmt.Sprintf("%d/%d files", done, total),
		FileName:   entry,
		ModuleName: m.ID,
		Status:     "Extracting",
	})
}

// ModuleDone publishes completion of the module at index
func (a *Aggregator) ModuleDone(index int, m *domain.Module, status string) {
	a.emit(a.modulePercent(index+1, 0), domain.DetailedProgress{
		State:      a.current.State,
		Speed:      vo.FormatSpeed(0),
		ETA:        vo.FormatETA(0),
		Size:       vo.FormatSize(m.Size),
		FileName:   m.Name(),
		ModuleName: m.ID,
		Status:     status,
	})
}

// Phase publishes the start of a post-processing phase
func (a *Aggregator) Phase(state domain.InstallState, status string) {
	percent, ok := phasePercent[state]
	if !ok {
		percent = a.last
	}
	a.emit(percent, domain.DetailedProgress{
		State:  state,
		Speed:  vo.FormatSpeed(0),
		ETA:    vo.FormatETA(0),
		Status: status,
	})
}

// Percent returns the last published percent
func (a *Aggregator) Percent() int {
	return a.last
}

func (a *Aggregator) modulePercent(index int, fraction float64) int {
	return int(float64(modulesShare) * (float64(index) + fraction) / float64(a.modules))
}

// emit publishes one update to both channels. Percent never decreases.
func (a *Aggregator) emit(percent int, detail domain.DetailedProgress) {
	if percent < a.last {
		percent = a.last
	}
	if percent > 100 {
		percent = 100
	}
	a.last = percent
	detail.Percent = percent
	if detail.State == "" {
		detail.State = a.current.State
	}
	a.current = detail

	if a.basic != nil {
		a.basic(percent)
	}
	if a.detailed != nil {
		a.detailed(detail)
	}
}
