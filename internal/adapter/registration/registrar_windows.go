//go:build windows

package registration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// Register writes an uninstall entry for app under HKCU
func (r *Registrar) Register(ctx context.Context, app *domain.App) error {
	keyPath := uninstallKey(app.ID)
	k, _, err := registry.CreateKey(registry.CURRENT_USER, keyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("%w: create key %s: %v", domain.ErrRegistrationFailed, keyPath, err)
	}
	defer k.Close()

	name := app.Name
	if name == "" {
		name = app.ID
	}
	values := map[string]string{
		"DisplayName":     name,
		"InstallLocation": app.InstallRoot,
		"InstallDate":     time.Now().Format("20060102"),
	}
	for valueName, value := range values {
		if err := k.SetStringValue(valueName, value); err != nil {
			return fmt.Errorf("%w: set %s: %v", domain.ErrRegistrationFailed, valueName, err)
		}
	}
	if err := k.SetDWordValue("NoModify", 1); err != nil {
		return fmt.Errorf("%w: set NoModify: %v", domain.ErrRegistrationFailed, err)
	}

	r.logger.Info("Registered app with OS", zap.String("app_id", app.ID), zap.String("key", keyPath))
	return nil
}
