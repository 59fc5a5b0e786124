// Package systemd installs and drives the camnode user unit over the
// systemd D-Bus API.
package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// jobMode replaces any queued job for the unit instead of failing.
const jobMode = "replace"

// Manager is a connection to the current user's systemd instance. All
// operations act on the camnode unit.
type Manager struct {
	conn *dbus.Conn
}

// NewManager connects to the user systemd instance.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("user systemd connection: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Close releases the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// ActiveState returns the unit's ActiveState property, such as active,
// inactive or failed.
func (m *Manager) ActiveState(ctx context.Context) (string, error) {
	prop, err := m.conn.GetUnitPropertyContext(ctx, UnitName, "ActiveState")
	if err != nil {
		return "", err
	}
	return prop.Value.String(), nil
}

// Start starts the unit and waits for the job to finish.
func (m *Manager) Start(ctx context.Context) error {
	return m.runJob(ctx, m.conn.StartUnitContext)
}

// Stop stops the unit and waits for the job to finish.
func (m *Manager) Stop(ctx context.Context) error {
	return m.runJob(ctx, m.conn.StopUnitContext)
}

// Restart restarts the unit, starting it if it was stopped, and waits
// for the job to finish.
func (m *Manager) Restart(ctx context.Context) error {
	return m.runJob(ctx, m.conn.RestartUnitContext)
}

// runJob queues one unit job and waits for its result. Anything but
// "done" is reported as an error.
func (m *Manager) runJob(ctx context.Context, op func(context.Context, string, string, chan<- string) (int, error)) error {
	done := make(chan string, 1)
	if _, err := op(ctx, UnitName, jobMode, done); err != nil {
		return err
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("job for %s finished as %q", UnitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
