package port

import (
	"context"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// Catalog loads app definitions.
type Catalog interface {
	LoadApp(ctx context.Context, ref string) (*domain.App, error)
}

// StructureValidator checks that an installed app has its expected layout.
type StructureValidator interface {
	Validate(ctx context.Context, app *domain.App) error
}

// Registrar registers an installed app with the operating system.
type Registrar interface {
	Register(ctx context.Context, app *domain.App) error
}
