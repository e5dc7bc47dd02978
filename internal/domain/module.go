package domain

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ModuleType classifies what a module contains and where it is installed.
type ModuleType string

const (
	ModuleTypeOrdinary   ModuleType = "ordinary"
	ModuleTypeVideo      ModuleType = "video"
	ModuleTypeDependency ModuleType = "dependency"
)

// ParseModuleType converts a manifest type name, defaulting to ordinary.
func ParseModuleType(s string) ModuleType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "videos":
		return ModuleTypeVideo
	case "dependency", "dependency-installer", "dependency_installer", "redist":
		return ModuleTypeDependency
	default:
		return ModuleTypeOrdinary
	}
}

// VideosDir is the install-root subdirectory that receives video modules.
const VideosDir = "videos"

// TempSuffix marks in-flight transfer files. Final names never carry it.
const TempSuffix = ".tmp"

// archiveExtensions lists the extensions the archive installer can extract.
var archiveExtensions = []string{".zip"}

// Module is one downloadable unit belonging to an app's install set.
type Module struct {
	ID       string
	URL      string
	Checksum string
	Size     int64
	Type     ModuleType
	Priority int

	// FileName overrides the name derived from the URL path.
	FileName string

	// Downloaded is set once the module is fully transferred and, for archives, extracted.
	Downloaded  bool
	InstallPath string
}

// Name returns the on-disk file name of the module payload.
func (m *Module) Name() string {
	if m.FileName != "" {
		return filepath.Base(m.FileName)
	}
	if u, err := url.Parse(m.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return m.ID
}

// IsArchive reports whether the payload has a recognized archive extension.
func (m *Module) IsArchive() bool {
	ext := strings.ToLower(filepath.Ext(m.Name()))
	for _, a := range archiveExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// IsDependency reports whether the module carries a dependency installer.
func (m *Module) IsDependency() bool {
	return m.Type == ModuleTypeDependency
}

// EffectivePriority places dependency installers ahead of everything else.
func (m *Module) EffectivePriority() int {
	if m.IsDependency() {
		return PriorityDependency
	}
	if m.Priority < PriorityDependency || m.Priority > PriorityOptional {
		return PriorityDefault
	}
	return m.Priority
}

// MarkDownloaded flips the downloaded flag. It reports false if the module
// was already marked, so callers can detect a second transition.
func (m *Module) MarkDownloaded(installPath string) bool {
	if m.Downloaded {
		return false
	}
	m.Downloaded = true
	m.InstallPath = installPath
	return true
}

// Validate checks the fields required to transfer the module.
func (m *Module) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: module id is required", ErrInvalidInput)
	}
	if m.URL == "" {
		return fmt.Errorf("%w: module %s has no url", ErrInvalidInput, m.ID)
	}
	u, err := url.Parse(m.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: module %s has invalid url %q", ErrInvalidInput, m.ID, m.URL)
	}
	if m.Size < 0 {
		return fmt.Errorf("%w: module %s has negative size", ErrInvalidInput, m.ID)
	}
	return nil
}

// App is a logical application made of one or more modules.
type App struct {
	ID          string
	Name        string
	InstallRoot string
	Modules     []*Module

	// ExpectedPaths are relative paths the structure validator checks after install.
	ExpectedPaths []string
}

// Validate checks the app and all of its modules.
func (a *App) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: app id is required", ErrInvalidInput)
	}
	if a.InstallRoot == "" {
		return fmt.Errorf("%w: app %s has no install root", ErrInvalidInput, a.ID)
	}
	if len(a.Modules) == 0 {
		return ErrNoModules
	}
	seen := make(map[string]bool, len(a.Modules))
	for _, m := range a.Modules {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: duplicate module id %s", ErrInvalidInput, m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// OrderedModules returns the modules in install order: dependencies, then
// essential, then optional. Manifest order is kept within a priority level.
func (a *App) OrderedModules() []*Module {
	out := make([]*Module, len(a.Modules))
	copy(out, a.Modules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectivePriority() < out[j].EffectivePriority()
	})
	return out
}

// Module looks up a module by id.
func (a *App) Module(id string) *Module {
	for _, m := range a.Modules {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// AnyDownloaded reports whether at least one module is marked downloaded.
func (a *App) AnyDownloaded() bool {
	for _, m := range a.Modules {
		if m.Downloaded {
			return true
		}
	}
	return false
}

// DependencyModules returns the dependency-installer modules in install order.
func (a *App) DependencyModules() []*Module {
	var deps []*Module
	for _, m := range a.OrderedModules() {
		if m.IsDependency() {
			deps = append(deps, m)
		}
	}
	return deps
}

// PendingBytes sums the declared sizes of modules not yet downloaded.
func (a *App) PendingBytes() int64 {
	var total int64
	for _, m := range a.Modules {
		if !m.Downloaded && m.Size > 0 {
			total += m.Size
		}
	}
	return total
}

// DestinationDir returns the directory a module's payload is installed into.
// Video modules go under the videos subdirectory; everything else lands in the root.
func (a *App) DestinationDir(m *Module) string {
	if m.Type == ModuleTypeVideo {
		return filepath.Join(a.InstallRoot, VideosDir)
	}
	return a.InstallRoot
}

// FinalPath returns where the completed transfer of m is stored.
func (a *App) FinalPath(m *Module) string {
	return filepath.Join(a.DestinationDir(m), m.Name())
}

// TempPath returns the in-flight transfer path for m.
func (a *App) TempPath(m *Module) string {
	return a.FinalPath(m) + TempSuffix
}
