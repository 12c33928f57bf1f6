package nodesvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Masterminds/semver"

	"github.com/maidsafe/ant-node-manager/internal/fs"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc/rpcapi"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

// postStartSettleDelay is the fixed delay between asking the service controller to start a service and
// probing for its PID. It is not a poll-with-timeout: the settle either finds the process or it doesn't.
const postStartSettleDelay = 3000 * time.Millisecond

// UpgradeOutcome describes how an Upgrade call resolved.
type UpgradeOutcome string

const (
	UpgradeOutcomeNotRequired        UpgradeOutcome = "NotRequired"
	UpgradeOutcomeUpgraded           UpgradeOutcome = "Upgraded"
	UpgradeOutcomeForced             UpgradeOutcome = "Forced"
	UpgradeOutcomeUpgradedNotStarted UpgradeOutcome = "UpgradedButNotStarted"
)

// UpgradeOptions configures ServiceStateMachine.Upgrade.
type UpgradeOptions struct {
	TargetBinaryPath string
	TargetVersion    string
	Force            bool
	StartService     bool
	EnvVariables     map[string]string
	AutoRestart      bool
}

// UpgradeResult is returned by Upgrade; Reason is only populated for UpgradeOutcomeUpgradedNotStarted.
type UpgradeResult struct {
	Outcome UpgradeOutcome
	Old     string
	New     string
	Reason  error
}

// ServiceStateMachine drives one ServiceRecord through start/stop/remove/upgrade. Verbosity only affects
// how a caller renders progress; it does not change these semantics.
type ServiceStateMachine struct {
	Record    *ServiceRecord
	Ctrl      servicecontrol.Controller
	RPC       rpcapi.Client
	Verbosity Verbosity
}

func NewServiceStateMachine(r *ServiceRecord, ctrl servicecontrol.Controller, rpc rpcapi.Client) *ServiceStateMachine {
	return &ServiceStateMachine{Record: r, Ctrl: ctrl, RPC: rpc, Verbosity: VerbosityNormal}
}

// Start implements spec §4.5's start() transition.
func (sm *ServiceStateMachine) Start(ctx context.Context) error {
	r := sm.Record

	if r.Status == StatusRunning {
		if pid, err := sm.Ctrl.GetProcessPid(ctx, r.BinaryPath); err == nil {
			r.PID = &pid
			return nil
		}
		// The record lied; fall through and restart.
	}

	if err := sm.Ctrl.Start(ctx, r.ServiceName, r.UserMode); err != nil {
		return fmt.Errorf("start service %s: %w", r.ServiceName, err)
	}

	sm.Ctrl.Wait(postStartSettleDelay)

	pid, err := sm.Ctrl.GetProcessPid(ctx, r.BinaryPath)
	switch {
	case err == nil:
		r.PID = &pid
		r.Status = StatusRunning
		sm.onStart(ctx, pid, false)
		return nil
	case errors.Is(err, ErrServiceProcessNotFound):
		return fmt.Errorf("%s: %w", r.ServiceName, ErrPidNotFoundAfterStarting)
	default:
		return fmt.Errorf("get process pid for %s: %w", r.ServiceName, err)
	}
}

// Stop implements spec §4.5's stop() transition.
func (sm *ServiceStateMachine) Stop(ctx context.Context) error {
	r := sm.Record

	switch r.Status {
	case StatusAdded, StatusRemoved, StatusStopped:
		return nil
	case StatusRunning:
		if _, err := sm.Ctrl.GetProcessPid(ctx, r.BinaryPath); err == nil {
			if stopErr := sm.Ctrl.Stop(ctx, r.ServiceName, r.UserMode); stopErr != nil {
				return fmt.Errorf("stop service %s: %w", r.ServiceName, stopErr)
			}
		}
		sm.onStop()
		r.Status = StatusStopped
		r.PID = nil
		r.ConnectedPeers = nil
		return nil
	default:
		return nil
	}
}

// Remove implements spec §4.5's remove(keep_directories) transition.
func (sm *ServiceStateMachine) Remove(ctx context.Context, keepDirectories bool) error {
	r := sm.Record

	if r.Status == StatusRunning {
		if _, err := sm.Ctrl.GetProcessPid(ctx, r.BinaryPath); err == nil {
			return &ServiceAlreadyRunningError{Names: []string{r.ServiceName}}
		}
		sm.onStop()
		return &ServiceStatusMismatchError{Expected: StatusRunning}
	}

	if err := sm.Ctrl.Uninstall(ctx, r.ServiceName, r.UserMode); err != nil {
		if errors.Is(err, ErrServiceRemovedManually) || errors.Is(err, ErrServiceDoesNotExist) {
			slog.Warn("service definition already gone, continuing", "service", r.ServiceName, "error", err)
		} else {
			return fmt.Errorf("uninstall service %s: %w", r.ServiceName, err)
		}
	}

	if !keepDirectories {
		if err := fs.RemoveAllTolerant(r.DataDirPath); err != nil {
			return fmt.Errorf("remove data dir %s: %w", r.DataDirPath, err)
		}
		if err := fs.RemoveAllTolerant(r.Log.DirPath); err != nil {
			return fmt.Errorf("remove log dir %s: %w", r.Log.DirPath, err)
		}
	}

	r.Status = StatusRemoved
	r.PID = nil
	r.PeerID = ""
	r.ConnectedPeers = nil
	return nil
}

// Upgrade implements spec §4.5's upgrade(options) transition.
func (sm *ServiceStateMachine) Upgrade(ctx context.Context, opts UpgradeOptions) (*UpgradeResult, error) {
	r := sm.Record

	current, err := semver.NewVersion(r.Version)
	if err != nil {
		return nil, fmt.Errorf("parse current version %q: %w", r.Version, errors.Join(err, ErrSemverParse))
	}
	target, err := semver.NewVersion(opts.TargetVersion)
	if err != nil {
		return nil, fmt.Errorf("parse target version %q: %w", opts.TargetVersion, errors.Join(err, ErrSemverParse))
	}

	if !opts.Force && !target.GreaterThan(current) {
		return &UpgradeResult{Outcome: UpgradeOutcomeNotRequired, Old: r.Version, New: opts.TargetVersion}, nil
	}

	if err = sm.Stop(ctx); err != nil {
		return nil, fmt.Errorf("stop before upgrade: %w", err)
	}

	data, err := os.ReadFile(opts.TargetBinaryPath)
	if err != nil {
		return nil, fmt.Errorf("read target binary %s: %w", opts.TargetBinaryPath, err)
	}
	if err = fs.WriteFileAtomic(r.BinaryPath, data, 0755); err != nil {
		return nil, fmt.Errorf("install target binary at %s: %w", r.BinaryPath, err)
	}

	if err = sm.Ctrl.Uninstall(ctx, r.ServiceName, r.UserMode); err != nil {
		if !errors.Is(err, ErrServiceRemovedManually) && !errors.Is(err, ErrServiceDoesNotExist) {
			return nil, fmt.Errorf("uninstall before reinstall %s: %w", r.ServiceName, err)
		}
	}

	env := opts.EnvVariables
	if r.AutoRestart != opts.AutoRestart {
		r.AutoRestart = opts.AutoRestart
	}
	install := BuildInstallContext(r, env)
	if err = sm.Ctrl.Install(ctx, install); err != nil {
		return nil, fmt.Errorf("install upgraded service %s: %w", r.ServiceName, err)
	}

	if opts.StartService {
		if startErr := sm.Start(ctx); startErr != nil {
			r.Version = opts.TargetVersion
			return &UpgradeResult{
				Outcome: UpgradeOutcomeUpgradedNotStarted,
				Old:     current.String(),
				New:     opts.TargetVersion,
				Reason:  startErr,
			}, nil
		}
	}

	old := r.Version
	r.Version = opts.TargetVersion
	if opts.Force {
		return &UpgradeResult{Outcome: UpgradeOutcomeForced, Old: old, New: r.Version}, nil
	}
	return &UpgradeResult{Outcome: UpgradeOutcomeUpgraded, Old: old, New: r.Version}, nil
}

// onStart is the post-start hook: it queries the node RPC for peer_id and, when full is set, for the
// connected peers. Failures here are logged, not propagated — a node that started but isn't answering RPC yet is still a successful start.
func (sm *ServiceStateMachine) onStart(ctx context.Context, pid int, full bool) {
	r := sm.Record
	if sm.RPC == nil || !r.RPCSocketAddr.IsValid() {
		return
	}

	info, err := sm.RPC.NodeInfo(ctx, r.RPCSocketAddr)
	if err != nil {
		slog.Debug("on_start RPC probe failed", "service", r.ServiceName, "error", err)
		return
	}
	r.PeerID = info.PeerID

	if full {
		netInfo, err := sm.RPC.NetworkInfo(ctx, r.RPCSocketAddr)
		if err != nil {
			slog.Debug("on_start network_info probe failed", "service", r.ServiceName, "error", err)
			return
		}
		r.ConnectedPeers = netInfo.ConnectedPeers
	}
}

// onStop clears the runtime fields an unreachable process can no longer vouch for.
func (sm *ServiceStateMachine) onStop() {
	sm.Record.PeerID = ""
	sm.Record.ConnectedPeers = nil
}

