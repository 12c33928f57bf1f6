package servicecontrol

import "errors"

// Sentinel errors a Controller implementation returns for its handful of distinguishable failure modes.
// They live here rather than in internal/nodesvc so that nodesvc can import servicecontrol for the
// Controller/InstallContext types without servicecontrol needing to import nodesvc back; internal/nodesvc
// re-exports these under its own names for callers that only ever see the core package.
var (
	// ErrServiceRemovedManually is returned by Uninstall when the service definition file was already gone
	// from disk before the call.
	ErrServiceRemovedManually = errors.New("service definition was removed manually")
	// ErrServiceDoesNotExist is returned by Uninstall when no service definition exists under that name.
	ErrServiceDoesNotExist = errors.New("service does not exist")
	// ErrServiceProcessNotFound is returned by GetProcessPid when no live process matches the binary path.
	ErrServiceProcessNotFound = errors.New("service process not found")
	// ErrServiceNotFound is returned when an operation targets a service name the controller never installed.
	ErrServiceNotFound = errors.New("service not found")
)
