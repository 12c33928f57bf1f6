package nodesvc

import (
	"errors"
	"fmt"

	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

// Error kinds returned by the state machine, reconciler and add flow. Callers should compare with
// errors.Is rather than matching on message text.
var (
	// ErrPidNotSet indicates record invariant I5 was violated: a Running record had no PID.
	ErrPidNotSet = errors.New("service is marked running but has no PID set")
	// ErrPidNotFoundAfterStarting indicates the service manager accepted the start request but the
	// process was not found alive after the post-start settle delay.
	ErrPidNotFoundAfterStarting = errors.New("service process not found after starting")
	// ErrServiceAlreadyRunning is returned by Remove when the service is still alive.
	ErrServiceAlreadyRunning = errors.New("service is already running, stop it first")
	// ErrServiceStatusMismatch is returned by Remove when the record claims Running but the process
	// is not alive; the operator must inspect before retrying.
	ErrServiceStatusMismatch = errors.New("service status does not match the observed process state")
	// ErrServiceNotRunning is returned by status checks that require every targeted service to be running.
	ErrServiceNotRunning = errors.New("service is not running")
	// ErrGenesisAlreadyExists is returned by AddFlow when a first=true record already exists.
	ErrGenesisAlreadyExists = errors.New("a genesis node already exists in the registry")
	// ErrGenesisMustBeSingle is returned by AddFlow when first=true is requested with count > 1.
	ErrGenesisMustBeSingle = errors.New("a genesis node can only be added on its own")
	// ErrCountPortMismatch is returned by the port allocator when a fixed port specification does not
	// match the requested node count.
	ErrCountPortMismatch = errors.New("the number of ports does not match the requested node count")
	// ErrPortInUse is returned by the port allocator when a candidate port collides with an existing record.
	ErrPortInUse = errors.New("port is already in use by another service")
	// ErrNatStatusUnset is returned by AddFlow when auto_set_nat_flags is requested but the registry has
	// no recorded NAT status.
	ErrNatStatusUnset = errors.New("NAT status has not been determined for this registry")
	// ErrSemverParse is returned by Upgrade when the current or target version cannot be parsed as semver.
	ErrSemverParse = errors.New("failed to parse service version as semver")

	// ErrServiceRemovedManually and ErrServiceDoesNotExist are soft failures from the service controller's
	// Uninstall call; the state machine treats both as success after logging a warning. They are defined
	// in servicecontrol (the package that actually returns them) and re-exported here so core callers don't
	// need to import servicecontrol just to compare errors.
	ErrServiceRemovedManually = servicecontrol.ErrServiceRemovedManually
	ErrServiceDoesNotExist    = servicecontrol.ErrServiceDoesNotExist
	// ErrServiceProcessNotFound is returned by GetProcessPid when no live process matches the binary path.
	ErrServiceProcessNotFound = servicecontrol.ErrServiceProcessNotFound
	// ErrServiceNotFound is returned by the service controller when an operation targets an unknown
	// service name.
	ErrServiceNotFound = servicecontrol.ErrServiceNotFound
)

// CountPortMismatchError carries the mismatched count/ports pair for ErrCountPortMismatch.
type CountPortMismatchError struct {
	Count int
	Ports int
}

func (e *CountPortMismatchError) Error() string {
	return fmt.Sprintf("requested %d node(s) but %d port(s) were specified", e.Count, e.Ports)
}

func (e *CountPortMismatchError) Unwrap() error {
	return ErrCountPortMismatch
}

// PortInUseError carries the offending port for ErrPortInUse.
type PortInUseError struct {
	Port int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port %d is already in use", e.Port)
}

func (e *PortInUseError) Unwrap() error {
	return ErrPortInUse
}

// ServiceStatusMismatchError carries the expected status for ErrServiceStatusMismatch.
type ServiceStatusMismatchError struct {
	Expected Status
}

func (e *ServiceStatusMismatchError) Error() string {
	return fmt.Sprintf("service status mismatch: expected %s but the process is not alive", e.Expected)
}

func (e *ServiceStatusMismatchError) Unwrap() error {
	return ErrServiceStatusMismatch
}

// ServiceAlreadyRunningError carries the affected service names for ErrServiceAlreadyRunning.
type ServiceAlreadyRunningError struct {
	Names []string
}

func (e *ServiceAlreadyRunningError) Error() string {
	return fmt.Sprintf("service(s) already running: %v", e.Names)
}

func (e *ServiceAlreadyRunningError) Unwrap() error {
	return ErrServiceAlreadyRunning
}

// ServiceNotRunningError carries the affected service names for ErrServiceNotRunning.
type ServiceNotRunningError struct {
	Names []string
}

func (e *ServiceNotRunningError) Error() string {
	return fmt.Sprintf("service(s) not running: %v", e.Names)
}

func (e *ServiceNotRunningError) Unwrap() error {
	return ErrServiceNotRunning
}
