// Package servicecontrol wraps the OS service manager behind a small capability interface so that the
// core lifecycle logic in internal/nodesvc never branches on platform.
package servicecontrol

import (
	"context"
	"time"
)

// InstallContext is the pure data a Controller needs to register a service, built by
// internal/nodesvc.BuildInstallContext.
type InstallContext struct {
	ServiceName string
	Program     string
	Args        []string
	Env         map[string]string
	User        string
	UserMode    bool
	Autostart   bool
	WorkingDir  string
}

// Controller is the platform-neutral capability set the core lifecycle state machine consumes. Each
// platform (systemd, launchd, a subprocess harness for tests) implements it independently; the core
// never type-switches on which implementation it holds.
type Controller interface {
	// CreateServiceUser ensures the given OS user account exists for running user-mode services under.
	CreateServiceUser(ctx context.Context, username string) error
	// GetAvailablePort returns a free TCP port on the local host.
	GetAvailablePort(ctx context.Context) (int, error)
	// Install registers a new service definition. It does not start the service.
	Install(ctx context.Context, install InstallContext) error
	// Uninstall removes a service definition. Implementations should return ErrServiceRemovedManually or
	// ErrServiceDoesNotExist for the two tolerated soft-failure cases (both re-exported by internal/nodesvc
	// for callers that only ever import the core package).
	Uninstall(ctx context.Context, serviceName string, userMode bool) error
	// Start starts an already-installed service.
	Start(ctx context.Context, serviceName string, userMode bool) error
	// Stop stops a running service.
	Stop(ctx context.Context, serviceName string, userMode bool) error
	// GetProcessPid searches the process table for a process whose executable is binaryPath and returns
	// its PID. It returns ErrServiceProcessNotFound if no such process is running.
	GetProcessPid(ctx context.Context, binaryPath string) (int, error)
	// Wait blocks for the given duration. Provided as an interface method (rather than a bare time.Sleep
	// call in the core) so tests can make the post-start settle delay instantaneous.
	Wait(d time.Duration)
}
