//go:build !windows

package registration

import (
	"context"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// Register is a no-op outside windows
func (r *Registrar) Register(ctx context.Context, app *domain.App) error {
	r.logger.Debug("OS registration not supported on this platform, skipping",
		zap.String("app_id", app.ID),
		zap.String("key", uninstallKey(app.ID)))
	return nil
}
