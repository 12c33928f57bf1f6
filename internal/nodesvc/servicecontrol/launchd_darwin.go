//go:build darwin

package servicecontrol

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Launchd is a Controller backed by launchd plist files and launchctl, the macOS equivalent of Systemd.
// It installs a per-service plist under ~/Library/LaunchAgents (user mode) or /Library/LaunchDaemons
// (system mode), matching the unit-file-plus-CLI-tool shape of the Linux Controller.
type Launchd struct{}

func NewLaunchd() *Launchd {
	return &Launchd{}
}

func (l *Launchd) CreateServiceUser(_ context.Context, _ string) error {
	return fmt.Errorf("creating service users is not supported on macOS")
}

func (l *Launchd) GetAvailablePort(_ context.Context) (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("bind ephemeral port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (l *Launchd) Install(_ context.Context, install InstallContext) error {
	path, err := plistPath(install.ServiceName, install.UserMode)
	if err != nil {
		return err
	}
	if err = os.WriteFile(path, []byte(renderPlist(install)), 0644); err != nil {
		return fmt.Errorf("write plist %q: %w", path, err)
	}
	if err = exec.Command("launchctl", "load", "-w", path).Run(); err != nil {
		return fmt.Errorf("launchctl load %s: %w", path, err)
	}
	return nil
}

func (l *Launchd) Uninstall(_ context.Context, serviceName string, userMode bool) error {
	path, err := plistPath(serviceName, userMode)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return ErrServiceDoesNotExist
	}
	_ = exec.Command("launchctl", "unload", path).Run()
	if err = os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrServiceDoesNotExist
		}
		return fmt.Errorf("remove plist %q: %w", path, err)
	}
	return nil
}

func (l *Launchd) Start(_ context.Context, serviceName string, _ bool) error {
	if err := exec.Command("launchctl", "start", label(serviceName)).Run(); err != nil {
		return fmt.Errorf("launchctl start %s: %w", label(serviceName), err)
	}
	return nil
}

func (l *Launchd) Stop(_ context.Context, serviceName string, _ bool) error {
	if err := exec.Command("launchctl", "stop", label(serviceName)).Run(); err != nil {
		return fmt.Errorf("launchctl stop %s: %w", label(serviceName), err)
	}
	return nil
}

func (l *Launchd) GetProcessPid(_ context.Context, binaryPath string) (int, error) {
	out, err := exec.Command("pgrep", "-f", binaryPath).Output()
	if err != nil {
		return 0, ErrServiceProcessNotFound
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, ErrServiceProcessNotFound
	}
	var pid int
	if _, err = fmt.Sscanf(fields[0], "%d", &pid); err != nil {
		return 0, ErrServiceProcessNotFound
	}
	return pid, nil
}

func (l *Launchd) Wait(d time.Duration) {
	time.Sleep(d)
}

func label(serviceName string) string {
	return "net.maidsafe." + serviceName
}

func plistPath(serviceName string, userMode bool) (string, error) {
	name := label(serviceName) + ".plist"
	if userMode {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, "Library", "LaunchAgents", name), nil
	}
	return filepath.Join("/Library/LaunchDaemons", name), nil
}

func renderPlist(install InstallContext) string {
	var args strings.Builder
	args.WriteString(fmt.Sprintf("<string>%s</string>\n", install.Program))
	for _, a := range install.Args {
		args.WriteString(fmt.Sprintf("        <string>%s</string>\n", a))
	}

	var env strings.Builder
	if len(install.Env) > 0 {
		env.WriteString("    <key>EnvironmentVariables</key>\n    <dict>\n")
		for k, v := range install.Env {
			env.WriteString(fmt.Sprintf("        <key>%s</key><string>%s</string>\n", k, v))
		}
		env.WriteString("    </dict>\n")
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        %s
    </array>
    <key>WorkingDirectory</key>
    <string>%s</string>
    <key>RunAtLoad</key>
    <%t/>
%s</dict>
</plist>
`, label(install.ServiceName), args.String(), install.WorkingDir, install.Autostart, env.String())
}
