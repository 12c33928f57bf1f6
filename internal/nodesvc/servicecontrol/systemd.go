package servicecontrol

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/dbus"
	"github.com/coreos/go-systemd/unit"
)

// systemUnitDir and userUnitDir mirror systemd's own search paths for administrator-installed unit files.
const (
	systemUnitDir = "/etc/systemd/system"
	userUnitDir   = ".config/systemd/user"
)

// Systemd is a Controller backed by the systemd D-Bus API (github.com/coreos/go-systemd/dbus) for service
// lifecycle calls and github.com/coreos/go-systemd/unit for generating the unit file written at install
// time. It is the production Controller on Linux hosts.
type Systemd struct{}

func NewSystemd() *Systemd {
	return &Systemd{}
}

func (s *Systemd) CreateServiceUser(_ context.Context, username string) error {
	if _, err := user.Lookup(username); err == nil {
		return nil
	}
	if err := exec.Command("useradd", "--system", "--no-create-home", "--shell", "/usr/sbin/nologin", username).Run(); err != nil {
		return fmt.Errorf("create service user %q: %w", username, err)
	}
	return nil
}

func (s *Systemd) GetAvailablePort(_ context.Context) (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("bind ephemeral port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (s *Systemd) Install(ctx context.Context, install InstallContext) error {
	unitPath, err := unitFilePath(install.ServiceName, install.UserMode)
	if err != nil {
		return err
	}

	options := unitOptions(install)
	f, err := os.Create(unitPath)
	if err != nil {
		return fmt.Errorf("create unit file %q: %w", unitPath, err)
	}
	defer f.Close()
	if _, err = unit.SerializeOptions(f, options); err != nil {
		return fmt.Errorf("serialize unit file %q: %w", unitPath, err)
	}

	conn, err := dial(ctx, install.UserMode)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err = conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	unitName := unitName(install.ServiceName)
	if install.Autostart {
		if _, _, err = conn.EnableUnitFilesContext(ctx, []string{unitName}, false, true); err != nil {
			return fmt.Errorf("enable unit %s: %w", unitName, err)
		}
	}
	slog.Info("Installed systemd service.", "unit", unitName, "user_mode", install.UserMode)
	return nil
}

func (s *Systemd) Uninstall(ctx context.Context, serviceName string, userMode bool) error {
	unitPath, err := unitFilePath(serviceName, userMode)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(unitPath); os.IsNotExist(statErr) {
		return ErrServiceRemovedManually
	}

	conn, err := dial(ctx, userMode)
	if err != nil {
		return err
	}
	defer conn.Close()

	unitName := unitName(serviceName)
	if _, err = conn.DisableUnitFilesContext(ctx, []string{unitName}, false); err != nil {
		slog.Warn("Failed to disable unit before removal.", "unit", unitName, "err", err)
	}
	if err = os.Remove(unitPath); err != nil {
		if os.IsNotExist(err) {
			return ErrServiceDoesNotExist
		}
		return fmt.Errorf("remove unit file %q: %w", unitPath, err)
	}
	if err = conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

func (s *Systemd) Start(ctx context.Context, serviceName string, userMode bool) error {
	conn, err := dial(ctx, userMode)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := make(chan string, 1)
	if _, err = conn.StartUnitContext(ctx, unitName(serviceName), "replace", ch); err != nil {
		return fmt.Errorf("start unit %s: %w", unitName(serviceName), err)
	}
	<-ch
	return nil
}

func (s *Systemd) Stop(ctx context.Context, serviceName string, userMode bool) error {
	conn, err := dial(ctx, userMode)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := make(chan string, 1)
	if _, err = conn.StopUnitContext(ctx, unitName(serviceName), "replace", ch); err != nil {
		return fmt.Errorf("stop unit %s: %w", unitName(serviceName), err)
	}
	<-ch
	return nil
}

// GetProcessPid is the liveness oracle: it walks /proc looking for a process whose resolved executable
// matches binaryPath exactly. Each managed service has its own copy of the node binary, so this match is
// unique (see the reconciler design note on host-services mode).
func (s *Systemd) GetProcessPid(_ context.Context, binaryPath string) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("read /proc: %w", err)
	}

	// Sort for deterministic test output; process discovery order otherwise doesn't matter.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		exe, err := os.Readlink(filepath.Join("/proc", e.Name(), "exe"))
		if err != nil {
			continue
		}
		if exe == binaryPath {
			return pid, nil
		}
	}
	return 0, ErrServiceProcessNotFound
}

func (s *Systemd) Wait(d time.Duration) {
	time.Sleep(d)
}

func dial(ctx context.Context, userMode bool) (*dbus.Conn, error) {
	if userMode {
		return dbus.NewUserConnectionContext(ctx)
	}
	return dbus.NewSystemConnectionContext(ctx)
}

func unitName(serviceName string) string {
	if strings.HasSuffix(serviceName, ".service") {
		return serviceName
	}
	return serviceName + ".service"
}

func unitFilePath(serviceName string, userMode bool) (string, error) {
	if userMode {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, userUnitDir, unitName(serviceName)), nil
	}
	return filepath.Join(systemUnitDir, unitName(serviceName)), nil
}

func unitOptions(install InstallContext) []*unit.UnitOption {
	execStart := strings.Join(append([]string{install.Program}, install.Args...), " ")

	options := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", fmt.Sprintf("antnode service %s", install.ServiceName)),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Service", "ExecStart", execStart),
		unit.NewUnitOption("Service", "WorkingDirectory", install.WorkingDir),
	}
	if install.User != "" {
		options = append(options, unit.NewUnitOption("Service", "User", install.User))
	}
	if install.Autostart {
		options = append(options, unit.NewUnitOption("Service", "Restart", "on-failure"))
	}
	for k, v := range install.Env {
		options = append(options, unit.NewUnitOption("Service", "Environment", fmt.Sprintf("%s=%s", k, v)))
	}
	options = append(options, unit.NewUnitOption("Install", "WantedBy", "multi-user.target"))
	return options
}
