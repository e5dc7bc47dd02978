package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/domain/vo"
	"github.com/vertextoedge/app-installer/internal/port"
)

// Manifest is the YAML description of an app
type Manifest struct {
	ID            string           `yaml:"id"`
	Name          string           `yaml:"name"`
	InstallRoot   string           `yaml:"install_root"`
	ExpectedPaths []string         `yaml:"expected_paths"`
	Modules       []ModuleManifest `yaml:"modules"`
}

// ModuleManifest describes one module. Size accepts plain byte counts or
// human-readable values such as "50 MiB"; priority accepts a level name or number.
type ModuleManifest struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Checksum string `yaml:"checksum"`
	Size     string `yaml:"size"`
	Type     string `yaml:"type"`
	Priority string `yaml:"priority"`
	FileName string `yaml:"file_name"`
}

// FileCatalog loads app manifests from YAML files
type FileCatalog struct {
	baseDir string
}

// Ensure FileCatalog implements port.Catalog
var _ port.Catalog = (*FileCatalog)(nil)

// NewFileCatalog creates a catalog. Apps without an install_root are placed
// under baseDir/<app id>.
func NewFileCatalog(baseDir string) *FileCatalog {
	return &FileCatalog{baseDir: baseDir}
}

// LoadApp reads and parses the manifest at ref
func (c *FileCatalog) LoadApp(ctx context.Context, ref string) (*domain.App, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: manifest %s", domain.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return c.Parse(data)
}

// Parse builds an app from manifest bytes
func (c *FileCatalog) Parse(data []byte) (*domain.App, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %v", domain.ErrInvalidInput, err)
	}
	return c.build(&m)
}

func (c *FileCatalog) build(m *Manifest) (*domain.App, error) {
	app := &domain.App{
		ID:            m.ID,
		Name:          m.Name,
		InstallRoot:   m.InstallRoot,
		ExpectedPaths: m.ExpectedPaths,
	}
	if app.Name == "" {
		app.Name = app.ID
	}
	if app.InstallRoot == "" && c.baseDir != "" && app.ID != "" {
		app.InstallRoot = filepath.Join(c.baseDir, app.ID)
	}

	for _, mm := range m.Modules {
		size, err := parseSize(mm.Size)
		if err != nil {
			return nil, fmt.Errorf("%w: module %s: %v", domain.ErrInvalidInput, mm.ID, err)
		}
		app.Modules = append(app.Modules, &domain.Module{
			ID:       mm.ID,
			URL:      mm.URL,
			Checksum: mm.Checksum,
			Size:     size,
			Type:     domain.ParseModuleType(mm.Type),
			Priority: parsePriority(mm.Priority),
			FileName: mm.FileName,
		})
	}

	if err := app.Validate(); err != nil {
		return nil, err
	}
	return app, nil
}

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	size, err := vo.NewFileSize(int64(n))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return size.Bytes(), nil
}

func parsePriority(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return domain.ParsePriority(s)
}
