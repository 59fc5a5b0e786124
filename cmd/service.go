package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/systemd"
	"github.com/spf13/cobra"
)

// CreateServiceCmd creates the service command with its install,
// uninstall, status, start, stop and restart subcommands.
func CreateServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd user unit",
		Long:  `Installs camnode as a systemd user service so it starts on login and restarts after a self-update.`,
	}

	cmd.AddCommand(createServiceInstallCmd())
	cmd.AddCommand(createServiceUninstallCmd())
	cmd.AddCommand(createServiceStatusCmd())
	cmd.AddCommand(createServiceStartCmd())
	cmd.AddCommand(createServiceStopCmd())
	cmd.AddCommand(createServiceRestartCmd())

	return cmd
}

// withManager runs fn against a connected systemd manager and exits on
// connection failure.
func withManager(fn func(ctx context.Context, mgr *systemd.Manager) error) {
	logging.Initialize(logging.Config{Level: "warn", Format: "text"})

	ctx := context.Background()
	mgr, err := systemd.NewManager(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach systemd: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	if err := fn(ctx, mgr); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func createServiceInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install and enable the unit for the current binary",
		Run: func(_ *cobra.Command, _ []string) {
			exe, err := os.Executable()
			if err == nil {
				exe, err = filepath.EvalSymlinks(exe)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "cannot resolve binary path: %v\n", err)
				os.Exit(1)
			}

			withManager(func(ctx context.Context, mgr *systemd.Manager) error {
				if installErr := mgr.Install(ctx, exe); installErr != nil {
					return fmt.Errorf("install failed: %w", installErr)
				}
				unitPath, _ := systemd.UnitPath()
				fmt.Printf("installed %s\n", unitPath)
				fmt.Printf("start it with: camnode service start\n")
				return nil
			})
		},
	}
}

func createServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop, disable and remove the unit",
		Run: func(_ *cobra.Command, _ []string) {
			withManager(func(ctx context.Context, mgr *systemd.Manager) error {
				if err := mgr.Uninstall(ctx); err != nil {
					return fmt.Errorf("uninstall failed: %w", err)
				}
				fmt.Printf("removed %s\n", systemd.UnitName)
				return nil
			})
		},
	}
}

func createServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the unit's active state",
		Run: func(_ *cobra.Command, _ []string) {
			withManager(func(ctx context.Context, mgr *systemd.Manager) error {
				state, err := mgr.ActiveState(ctx)
				if err != nil {
					return fmt.Errorf("status failed: %w", err)
				}
				fmt.Printf("%s: %s\n", systemd.UnitName, state)
				return nil
			})
		},
	}
}

func createServiceStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the unit",
		Run: func(_ *cobra.Command, _ []string) {
			withManager(func(ctx context.Context, mgr *systemd.Manager) error {
				if err := mgr.Start(ctx); err != nil {
					return fmt.Errorf("start failed: %w", err)
				}
				fmt.Printf("started %s\n", systemd.UnitName)
				return nil
			})
		},
	}
}

func createServiceStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the unit",
		Run: func(_ *cobra.Command, _ []string) {
			withManager(func(ctx context.Context, mgr *systemd.Manager) error {
				if err := mgr.Stop(ctx); err != nil {
					return fmt.Errorf("stop failed: %w", err)
				}
				fmt.Printf("stopped %s\n", systemd.UnitName)
				return nil
			})
		},
	}
}

func createServiceRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the unit",
		Run: func(_ *cobra.Command, _ []string) {
			withManager(func(ctx context.Context, mgr *systemd.Manager) error {
				if err := mgr.Restart(ctx); err != nil {
					return fmt.Errorf("restart failed: %w", err)
				}
				fmt.Printf("restarted %s\n", systemd.UnitName)
				return nil
			})
		},
	}
}
