package nodesvc

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

// BuildInstallContext is a pure function from a ServiceRecord to the InstallContext consumed by
// servicecontrol.Controller.Install. It is deterministic: two calls with an equal record (ignoring the
// binary's contents, since only its path matters here) produce byte-equal InstallContexts. Both AddFlow
// and ServiceStateMachine.Upgrade call this, which is how upgrade preserves every per-node flag.
func BuildInstallContext(r *ServiceRecord, env map[string]string) servicecontrol.InstallContext {
	args := buildArgv(r)

	merged := make(map[string]string, len(env))
	for k, v := range env {
		merged[k] = v
	}

	return servicecontrol.InstallContext{
		ServiceName: r.ServiceName,
		Program:     r.BinaryPath,
		Args:        args,
		Env:         merged,
		User:        r.User,
		UserMode:    r.UserMode,
		Autostart:   r.AutoRestart,
		WorkingDir:  filepath.Dir(r.DataDirPath),
	}
}

// buildArgv produces the argv vector in the exact, load-bearing order specified for node binary
// invocation. A flag is omitted entirely when its backing value is absent.
func buildArgv(r *ServiceRecord) []string {
	var args []string

	args = append(args, "--rpc", r.RPCSocketAddr.String())
	args = append(args, "--root-dir", r.DataDirPath)
	args = append(args, "--log-output-dest", r.Log.DirPath)

	if r.PeersArgs.First {
		args = append(args, "--first")
	}
	for _, a := range r.PeersArgs.Addrs {
		args = append(args, "--peer", a.String())
	}
	if r.PeersArgs.Local {
		args = append(args, "--local")
	}
	if len(r.PeersArgs.ContactsURLs) > 0 {
		args = append(args, "--network-contacts-url", strings.Join(r.PeersArgs.ContactsURLs, ","))
	}
	if r.PeersArgs.DisableMainnetContacts {
		args = append(args, "--testnet")
	}
	if r.PeersArgs.IgnoreCache {
		args = append(args, "--ignore-cache")
	}
	if r.PeersArgs.CacheDir != "" {
		args = append(args, "--bootstrap-cache-dir", r.PeersArgs.CacheDir)
	}

	if r.NetworkID != nil {
		args = append(args, "--network-id", strconv.Itoa(int(*r.NetworkID)))
	}
	if r.NodeIP.IsValid() {
		args = append(args, "--ip", r.NodeIP.String())
	}
	if r.NodePort != nil {
		args = append(args, "--port", strconv.Itoa(int(*r.NodePort)))
	}
	if r.MetricsPort != nil {
		args = append(args, "--metrics-server-port", strconv.Itoa(int(*r.MetricsPort)))
	}
	if r.Log.MaxArchivedLogFiles != nil {
		args = append(args, "--max-archived-log-files", strconv.Itoa(int(*r.Log.MaxArchivedLogFiles)))
	}
	if r.Log.MaxLogFiles != nil {
		args = append(args, "--max-log-files", strconv.Itoa(int(*r.Log.MaxLogFiles)))
	}
	if r.Log.Format != nil {
		args = append(args, "--log-format", string(*r.Log.Format))
	}
	if r.UPnP {
		args = append(args, "--upnp")
	}
	if r.HomeNetwork {
		args = append(args, "--home-network")
	}
	if r.Owner != "" {
		args = append(args, "--owner", r.Owner)
	}

	args = append(args, "--rewards-address", r.RewardsAddress)
	args = append(args, r.EVMNetwork.subcommand()...)

	return args
}

// ValidateRecordForInstall checks the fields BuildInstallContext depends on before an install call is
// made, so a malformed record fails fast instead of producing a garbled argv.
func ValidateRecordForInstall(r *ServiceRecord) error {
	if !r.RPCSocketAddr.IsValid() {
		return fmt.Errorf("rpc_socket_addr is required")
	}
	if r.RewardsAddress == "" {
		return fmt.Errorf("rewards_address is required")
	}
	if err := r.EVMNetwork.Validate(); err != nil {
		return fmt.Errorf("evm_network: %w", err)
	}
	return nil
}
