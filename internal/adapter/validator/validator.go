package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

// Validator checks that an installed app has its expected layout
type Validator struct{}

// Ensure Validator implements port.StructureValidator
var _ port.StructureValidator = (*Validator)(nil)

// New creates a new structure validator
func New() *Validator {
	return &Validator{}
}

// Validate checks the install root and every expected path.
// A path ending in "/" must be a directory.
func (v *Validator) Validate(ctx context.Context, app *domain.App) error {
	info, err := os.Stat(app.InstallRoot)
	if err != nil {
		return fmt.Errorf("%w: install root: %v", domain.ErrStructureInvalid, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: install root %s is not a directory", domain.ErrStructureInvalid, app.InstallRoot)
	}

	var missing []string
	for _, rel := range app.ExpectedPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		wantDir := strings.HasSuffix(rel, "/")
		path := filepath.Join(app.InstallRoot, filepath.FromSlash(strings.TrimSuffix(rel, "/")))

		info, err := os.Stat(path)
		if err != nil || (wantDir && !info.IsDir()) {
			missing = append(missing, rel)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrStructureInvalid, strings.Join(missing, ", "))
	}
	return nil
}
