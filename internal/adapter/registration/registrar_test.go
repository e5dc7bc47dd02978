//go:build !windows

package registration

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
)

func TestRegister_NoopOutsideWindows(t *testing.T) {
	r := NewRegistrar(zap.NewNop())
	if err := r.Register(context.Background(), &domain.App{ID: "editor", InstallRoot: "/opt/editor"}); err != nil {
		t.Errorf("Register() error = %v", err)
	}
	if got := uninstallKey("editor"); got != uninstallKeyPrefix+"editor" {
		t.Errorf("uninstallKey() = %q", got)
	}
}
