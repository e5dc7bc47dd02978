package registration

import (
	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/port"
)

// uninstallKeyPrefix is the per-user uninstall registry location
const uninstallKeyPrefix = `Software\Microsoft\Windows\CurrentVersion\Uninstall\`

// Registrar registers installed apps with the operating system
type Registrar struct {
	logger *zap.Logger
}

// Ensure Registrar implements port.Registrar
var _ port.Registrar = (*Registrar)(nil)

// NewRegistrar creates a new OS registrar
func NewRegistrar(logger *zap.Logger) *Registrar {
	return &Registrar{logger: logger}
}

func uninstallKey(appID string) string {
	return uninstallKeyPrefix + appID
}
