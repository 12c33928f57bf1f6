package nodesvc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maidsafe/ant-node-manager/internal/nodesvc/rpcapi"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

// isConnectedProbeTimeout bounds the local-mode liveness RPC call; a node that doesn't answer within this
// window is treated as stopped rather than hanging the refresh indefinitely.
const isConnectedProbeTimeout = 5 * time.Second

// Reconciler reconciles every ServiceRecord's recorded status/pid/peer_id against observed reality. It
// never deletes records and never marks an Added or Removed record Stopped; a record whose process is
// found alive is marked Running whatever its previous status.
type Reconciler struct {
	Ctrl servicecontrol.Controller
	RPC  rpcapi.Client
}

func NewReconciler(ctrl servicecontrol.Controller, rpc rpcapi.Client) *Reconciler {
	return &Reconciler{Ctrl: ctrl, RPC: rpc}
}

// Refresh implements spec §4.6. full additionally queries node RPC for peer_id, listeners, and
// connected_peers when a node is found alive in host-services mode. isLocalNetwork switches the liveness
// check from PID-by-binary-path to an RPC node_info probe, since co-located nodes share one binary path.
func (rc *Reconciler) Refresh(ctx context.Context, registry *Registry, full bool, isLocalNetwork bool) error {
	for _, rec := range registry.Nodes() {
		if isLocalNetwork {
			rc.refreshLocal(ctx, rec)
		} else {
			rc.refreshHostService(ctx, rec, full)
		}
	}
	return nil
}

func (rc *Reconciler) refreshHostService(ctx context.Context, rec *ServiceRecord, full bool) {
	rec.RewardBalance = ""

	pid, err := rc.Ctrl.GetProcessPid(ctx, rec.BinaryPath)
	if err == nil {
		rec.PID = &pid
		rec.Status = StatusRunning
		if full && rc.RPC != nil && rec.RPCSocketAddr.IsValid() {
			rc.queryFull(ctx, rec)
		}
		return
	}

	if !errors.Is(err, ErrServiceProcessNotFound) {
		slog.Warn("get_process_pid failed during reconcile", "service", rec.ServiceName, "error", err)
	}

	if rec.Status == StatusAdded || rec.Status == StatusRemoved {
		return
	}
	rec.Status = StatusStopped
	rec.PID = nil
	rec.PeerID = ""
	rec.ConnectedPeers = nil
}

func (rc *Reconciler) refreshLocal(ctx context.Context, rec *ServiceRecord) {
	rec.RewardBalance = ""

	if rc.RPC == nil || !rec.RPCSocketAddr.IsValid() {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, isConnectedProbeTimeout)
	defer cancel()

	info, err := rc.RPC.NodeInfo(probeCtx, rec.RPCSocketAddr)
	if err != nil {
		if rec.Status == StatusAdded || rec.Status == StatusRemoved {
			return
		}
		rec.Status = StatusStopped
		rec.PID = nil
		rec.PeerID = ""
		rec.ConnectedPeers = nil
		return
	}

	pid := info.PID
	rec.PID = &pid
	rec.Status = StatusRunning
	rec.PeerID = info.PeerID
}

func (rc *Reconciler) queryFull(ctx context.Context, rec *ServiceRecord) {
	info, err := rc.RPC.NodeInfo(ctx, rec.RPCSocketAddr)
	if err != nil {
		slog.Debug("full reconcile node_info query failed", "service", rec.ServiceName, "error", err)
		return
	}
	rec.PeerID = info.PeerID

	netInfo, err := rc.RPC.NetworkInfo(ctx, rec.RPCSocketAddr)
	if err != nil {
		slog.Debug("full reconcile network_info query failed", "service", rec.ServiceName, "error", err)
		return
	}
	rec.ConnectedPeers = netInfo.ConnectedPeers
	rec.ListenAddrs = netInfo.Listeners
}
