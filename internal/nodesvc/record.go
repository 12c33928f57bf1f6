package nodesvc

import (
	"encoding/json"
	"net/netip"
	"strings"

	"github.com/multiformats/go-multiaddr"
)

// Status is the lifecycle state of a managed service.
type Status string

const (
	StatusAdded   Status = "ADDED"
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
	StatusRemoved Status = "REMOVED"
)

// LogFormat selects the node's log output encoding.
type LogFormat string

const (
	LogFormatDefault LogFormat = "default"
	LogFormatJSON    LogFormat = "json"
)

// PeersArgs controls how a node discovers its initial set of peers. It is preserved byte-for-byte across
// an upgrade.
type PeersArgs struct {
	// First marks this record as the genesis/bootstrap node of a fresh network. At most one record in a
	// Registry may have First set (invariant I3).
	First bool `json:"first"`
	// Addrs are explicit bootstrap peer multiaddrs to dial.
	Addrs []multiaddr.Multiaddr `json:"addrs,omitempty"`
	// ContactsURLs are URLs serving a list of bootstrap contacts.
	ContactsURLs []string `json:"contacts_urls,omitempty"`
	// Local restricts discovery to the local network.
	Local bool `json:"local"`
	// DisableMainnetContacts skips the default mainnet contacts list (maps to --testnet).
	DisableMainnetContacts bool `json:"disable_mainnet_contacts"`
	// IgnoreCache forces a fresh bootstrap instead of reusing a cached peer list.
	IgnoreCache bool `json:"ignore_cache"`
	// CacheDir overrides the default bootstrap cache directory.
	CacheDir string `json:"cache_dir,omitempty"`
}

// marshalable form of PeersArgs, since multiaddr.Multiaddr does not implement json.Marshaler directly on
// the slice element in a way encoding/json can use without a wrapper for decoding.
type peersArgsJSON struct {
	First                  bool     `json:"first"`
	Addrs                  []string `json:"addrs,omitempty"`
	ContactsURLs           []string `json:"contacts_urls,omitempty"`
	Local                  bool     `json:"local"`
	DisableMainnetContacts bool     `json:"disable_mainnet_contacts"`
	IgnoreCache            bool     `json:"ignore_cache"`
	CacheDir               string   `json:"cache_dir,omitempty"`
}

func (p PeersArgs) MarshalJSON() ([]byte, error) {
	addrs := make([]string, len(p.Addrs))
	for i, a := range p.Addrs {
		addrs[i] = a.String()
	}
	return json.Marshal(peersArgsJSON{
		First:                  p.First,
		Addrs:                  addrs,
		ContactsURLs:           p.ContactsURLs,
		Local:                  p.Local,
		DisableMainnetContacts: p.DisableMainnetContacts,
		IgnoreCache:            p.IgnoreCache,
		CacheDir:               p.CacheDir,
	})
}

func (p *PeersArgs) UnmarshalJSON(data []byte) error {
	var raw peersArgsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	addrs := make([]multiaddr.Multiaddr, 0, len(raw.Addrs))
	for _, s := range raw.Addrs {
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return err
		}
		addrs = append(addrs, a)
	}
	p.First = raw.First
	p.Addrs = addrs
	p.ContactsURLs = raw.ContactsURLs
	p.Local = raw.Local
	p.DisableMainnetContacts = raw.DisableMainnetContacts
	p.IgnoreCache = raw.IgnoreCache
	p.CacheDir = raw.CacheDir
	return nil
}

// LogConfig groups the node's log output settings.
type LogConfig struct {
	DirPath            string     `json:"dir_path"`
	Format             *LogFormat `json:"format,omitempty"`
	MaxLogFiles        *uint16    `json:"max_log_files,omitempty"`
	MaxArchivedLogFiles *uint16   `json:"max_archived_log_files,omitempty"`
}

// ServiceRecord is the durable description of one managed node service.
type ServiceRecord struct {
	// Identity.
	ServiceName string `json:"service_name"`
	Number      int    `json:"number"`
	User        string `json:"user,omitempty"`
	UserMode    bool   `json:"user_mode"`

	// Binary.
	BinaryPath string `json:"binary_path"`
	Version    string `json:"version"`

	// Runtime state.
	Status         Status   `json:"status"`
	PID            *int     `json:"pid,omitempty"`
	PeerID         string   `json:"peer_id,omitempty"`
	ConnectedPeers []string `json:"connected_peers,omitempty"`
	ListenAddrs    []string `json:"listen_addrs,omitempty"`
	// RewardBalance is a wallet balance carried in the registry document. Every refresh clears it, since
	// a stale balance is no longer meaningful; nothing in this package sets it again.
	RewardBalance string `json:"reward_balance,omitempty"`

	// Network configuration.
	NodeIP               netip.Addr          `json:"node_ip,omitempty"`
	NodePort             *uint16             `json:"node_port,omitempty"`
	MetricsPort          *uint16             `json:"metrics_port,omitempty"`
	RPCSocketAddr        netip.AddrPort      `json:"rpc_socket_addr"`
	NetworkID            *uint16             `json:"network_id,omitempty"`
	UPnP                 bool                `json:"upnp"`
	HomeNetwork          bool                `json:"home_network"`

	PeersArgs PeersArgs `json:"peers_args"`
	Log       LogConfig `json:"log"`

	DataDirPath string `json:"data_dir_path"`

	RewardsAddress string     `json:"rewards_address"`
	EVMNetwork     EVMNetwork `json:"evm_network"`
	Owner          string     `json:"owner,omitempty"`

	AutoRestart     bool `json:"auto_restart"`
	AutoSetNATFlags bool `json:"auto_set_nat_flags"`
}

// NormalizeOwner lowercases the owner handle, matching the on-install normalization rule.
func (r *ServiceRecord) NormalizeOwner() {
	r.Owner = strings.ToLower(r.Owner)
}

// AuxKind identifies one of the degenerate auxiliary services.
type AuxKind string

const (
	AuxKindDaemon  AuxKind = "daemon"
	AuxKindFaucet  AuxKind = "faucet"
	AuxKindAuditor AuxKind = "auditor"
)

// AuxiliaryRecord is the durable description of a daemon/faucet/auditor service. At most one of each
// kind may exist in a Registry.
type AuxiliaryRecord struct {
	Kind       AuxKind `json:"kind"`
	Name       string  `json:"name"`
	BinaryPath string  `json:"binary_path"`
	Version    string  `json:"version"`
	PID        *int    `json:"pid,omitempty"`
	Status     Status  `json:"status"`
	User       string  `json:"user,omitempty"`
	LogDirPath string  `json:"log_dir_path,omitempty"`
}
