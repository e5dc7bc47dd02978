package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

// dependencyKind maps a dependency identifier to installer file names and
// its silent-install switches
type dependencyKind struct {
	name      string
	fileHints []string
	args      []string
}

var dependencyKinds = []dependencyKind{
	{name: "vcredist", fileHints: []string{"vc_redist", "vcredist"}, args: []string{"/install", "/quiet", "/norestart"}},
	{name: "directx", fileHints: []string{"dxsetup", "dxwebsetup", "directx"}, args: []string{"/silent"}},
	{name: "dotnet", fileHints: []string{"dotnet", "ndp", "windowsdesktop-runtime"}, args: []string{"/q", "/norestart"}},
	{name: "physx", fileHints: []string{"physx"}, args: []string{"/quiet"}},
}

// genericSilentArgs is used when no kind matches
var genericSilentArgs = []string{"/S"}

var installerExts = []string{".exe", ".msi"}

// InstallerTarget is a located dependency installer and how to launch it
type InstallerTarget struct {
	Path string
	Args []string
	Kind string
}

// DependencyInstaller runs bundled dependency installers silently
type DependencyInstaller struct {
	runner  port.ProcessRunner
	logger  *zap.Logger
	timeout time.Duration
	elevate bool
}

// NewDependencyInstaller creates a dependency installer
func NewDependencyInstaller(runner port.ProcessRunner, logger *zap.Logger, timeout time.Duration, elevate bool) *DependencyInstaller {
	return &DependencyInstaller{runner: runner, logger: logger, timeout: timeout, elevate: elevate}
}

// Locate finds the installer executable for dep under root
func (d *DependencyInstaller) Locate(app *domain.App, dep *domain.Module) (*InstallerTarget, error) {
	kind := matchKind(dep.ID + " " + dep.Name())

	// A non-archive dependency is the installer itself
	if !dep.IsArchive() {
		path := app.FinalPath(dep)
		if isInstallerFile(path) {
			return newTarget(path, kind), nil
		}
	}

	candidates, err := findInstallers(app.InstallRoot)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w under %s", domain.ErrInstallerNotFound, app.InstallRoot)
	}

	if kind != nil {
		for _, c := range candidates {
			base := strings.ToLower(filepath.Base(c))
			for _, hint := range kind.fileHints {
				if strings.Contains(base, hint) {
					return newTarget(c, kind), nil
				}
			}
		}
	}
	return newTarget(candidates[0], kind), nil
}

// Install runs every dependency installer of app. Failures are logged and
// returned as soft failures; only cancellation is returned as an error.
func (d *DependencyInstaller) Install(ctx context.Context, app *domain.App) ([]error, error) {
	var soft []error
	for _, dep := range app.DependencyModules() {
		err := d.InstallOne(ctx, app, dep)
		if err == nil {
			continue
		}
		if !domain.IsSkippable(err) {
			return soft, err
		}
		d.logger.Warn("Dependency install failed, continuing",
			zap.String("app_id", app.ID),
			zap.String("dependency", dep.ID),
			zap.Error(err))
		soft = append(soft, err)
	}
	return soft, nil
}

// InstallOne locates and runs a single dependency installer.
// A non-zero exit code is logged but not treated as a failure. Failures are
// returned as *domain.SkippableError wrapping a *domain.DependencyInstallError;
// cancellation is returned as is.
func (d *DependencyInstaller) InstallOne(ctx context.Context, app *domain.App, dep *domain.Module) error {
	target, err := d.Locate(app, dep)
	if err != nil {
		return skipDependency(dep, &domain.DependencyInstallError{Dependency: dep.ID, Err: err})
	}

	cmd := port.Command{
		Path:    target.Path,
		Args:    target.Args,
		Dir:     filepath.Dir(target.Path),
		Elevate: d.elevate,
		Timeout: d.timeout,
	}
	if strings.EqualFold(filepath.Ext(target.Path), ".msi") {
		cmd.Path = "msiexec"
		cmd.Args = append([]string{"/i", target.Path}, target.Args...)
	}

	result, err := d.runner.Run(ctx, cmd)
	if err != nil {
		if domain.IsCancelled(err) {
			return err
		}
		exitCode := 0
		if result != nil {
			exitCode = result.ExitCode
		}
		return skipDependency(dep, &domain.DependencyInstallError{Dependency: dep.ID, ExitCode: exitCode, Err: err})
	}

	if result.ExitCode != 0 {
		d.logger.Warn("Dependency installer exited non-zero",
			zap.String("dependency", dep.ID),
			zap.String("installer", target.Path),
			zap.Int("exit_code", result.ExitCode),
			zap.Duration("duration", result.Duration))
		return nil
	}

	d.logger.Info("Dependency installed",
		zap.String("dependency", dep.ID),
		zap.String("installer", target.Path),
		zap.String("kind", target.Kind),
		zap.Duration("duration", result.Duration))
	return nil
}

func skipDependency(dep *domain.Module, err error) error {
	return domain.NewSkippableError(err, "dependency "+dep.ID)
}

func newTarget(path string, kind *dependencyKind) *InstallerTarget {
	if kind == nil {
		return &InstallerTarget{Path: path, Args: genericSilentArgs, Kind: "generic"}
	}
	if strings.EqualFold(filepath.Ext(path), ".msi") {
		return &InstallerTarget{Path: path, Args: []string{"/qn", "/norestart"}, Kind: kind.name}
	}
	return &InstallerTarget{Path: path, Args: kind.args, Kind: kind.name}
}

func matchKind(identifier string) *dependencyKind {
	id := strings.ToLower(identifier)
	for i := range dependencyKinds {
		k := &dependencyKinds[i]
		if strings.Contains(id, k.name) {
			return k
		}
		for _, hint := range k.fileHints {
			if strings.Contains(id, hint) {
				return k
			}
		}
	}
	return nil
}

// findInstallers lists installer executables under root in lexical order
func findInstallers(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, domain.TempSuffix) {
			return nil
		}
		if isInstallerFile(path) {
			found = append(found, path)
			return nil
		}
		if runtime.GOOS != "windows" {
			if info, err := d.Info(); err == nil && info.Mode()&0111 != 0 {
				found = append(found, path)
			}
		}
		return nil
	})
	return found, err
}

func isInstallerFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range installerExts {
		if ext == e {
			return true
		}
	}
	return false
}
