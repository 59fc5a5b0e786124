package systemd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// UnitName is the user unit the install command manages.
const UnitName = "camnode.service"

// Restart=always so the SIGTERM the self-updater sends after swapping
// the binary brings the new version up.
const unitTemplate = `[Unit]
Description=Camnode LAN camera manager
After=network-online.target

[Service]
ExecStart=%s
Restart=always
RestartSec=5

[Install]
WantedBy=default.target
`

// UnitPath returns where the user unit file lives.
func UnitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", UnitName), nil
}

// Install writes the unit file pointing at execPath, reloads the
// systemd configuration and enables the unit.
func (m *Manager) Install(ctx context.Context, execPath string) error {
	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf(unitTemplate, execPath)
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return err
	}
	if err := m.conn.ReloadContext(ctx); err != nil {
		return err
	}
	_, _, err = m.conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true)
	return err
}

// Uninstall stops and disables the unit, removes its file and reloads
// the systemd configuration.
func (m *Manager) Uninstall(ctx context.Context) error {
	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	// Best effort, the unit may already be stopped or never enabled
	_ = m.Stop(ctx)
	_, _ = m.conn.DisableUnitFilesContext(ctx, []string{UnitName}, false)

	if err := os.Remove(unitPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return m.conn.ReloadContext(ctx)
}
