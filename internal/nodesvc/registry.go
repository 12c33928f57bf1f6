package nodesvc

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/maidsafe/ant-node-manager/internal/fs"
)

// NATStatus is the last NAT classification reported by an external NAT-detection tool. AddFlow uses it
// to derive the upnp/home_network flags when a record requests auto_set_nat_flags.
type NATStatus string

const (
	NATStatusPublic  NATStatus = "Public"
	NATStatusUPnP    NATStatus = "UPnP"
	NATStatusPrivate NATStatus = "Private"
)

// DeriveNetworkFlags maps a NAT status to the upnp/home_network install flags.
func (s NATStatus) DeriveNetworkFlags() (upnp, homeNetwork bool) {
	switch s {
	case NATStatusUPnP:
		return true, false
	case NATStatusPrivate:
		return false, true
	default: // NATStatusPublic
		return false, false
	}
}

// registrySchemaVersion is written into every saved registry document so a future migration can tell which
// shape an on-disk file was written against. Bump it whenever registryDocument's shape changes in a way
// that isn't just additive JSON fields.
const registrySchemaVersion = 1

// registryDocument is the on-disk JSON shape of a Registry (see spec §6). Unknown fields are ignored on
// read by encoding/json's default behaviour; absent fields default to their zero value.
type registryDocument struct {
	Version              int                         `json:"version"`
	Nodes                []*ServiceRecord            `json:"nodes"`
	Daemon               *AuxiliaryRecord            `json:"daemon"`
	Faucet               *AuxiliaryRecord            `json:"faucet"`
	Auditor              *AuxiliaryRecord            `json:"auditor"`
	EnvironmentVariables [][2]string                 `json:"environment_variables"`
	NATStatus            *NATStatus                  `json:"nat_status"`
	SavePath             string                      `json:"save_path"`
}

// Registry is the durable JSON state of every service this manager controls. It has no per-record lock;
// the manager process is assumed to be the sole writer (see the concurrency model in spec §5).
type Registry struct {
	mu sync.Mutex

	version  int
	savePath string
	nodes    []*ServiceRecord
	daemon   *AuxiliaryRecord
	faucet   *AuxiliaryRecord
	auditor  *AuxiliaryRecord
	envVars  [][2]string
	natStat  *NATStatus
}

// NewRegistry creates an empty registry that will persist to path.
func NewRegistry(path string) *Registry {
	return &Registry{savePath: path, version: registrySchemaVersion}
}

// Load reads and decodes a registry from the JSON document at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file %q: %w", path, err)
	}
	var doc registryDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry file %q: %w", path, err)
	}
	return &Registry{
		version:  doc.Version,
		savePath: path,
		nodes:    doc.Nodes,
		daemon:   doc.Daemon,
		faucet:   doc.Faucet,
		auditor:  doc.Auditor,
		envVars:  doc.EnvironmentVariables,
		natStat:  doc.NATStatus,
	}, nil
}

// Version returns the schema version tag the registry was last loaded from or saved with.
func (r *Registry) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Save atomically writes the registry to its save path: write-to-temp, fsync, rename, so readers never
// observe a partial file.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	r.version = registrySchemaVersion
	doc := registryDocument{
		Version:              r.version,
		Nodes:                r.nodes,
		Daemon:               r.daemon,
		Faucet:               r.faucet,
		Auditor:              r.auditor,
		EnvironmentVariables: r.envVars,
		NATStatus:            r.natStat,
		SavePath:             r.savePath,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err = fs.WriteFileAtomic(r.savePath, data, 0600); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// Nodes returns a snapshot slice of every node record, including Removed ones (invariant I6 excludes
// them only from default *status listings*, not from the registry itself).
func (r *Registry) Nodes() []*ServiceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ServiceRecord, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// ActiveNodes returns every node record whose status is not Removed, the default status-listing view.
func (r *Registry) ActiveNodes() []*ServiceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ServiceRecord
	for _, n := range r.nodes {
		if n.Status != StatusRemoved {
			out = append(out, n)
		}
	}
	return out
}

// NodeByName returns the record with the given service name, or nil if none exists.
func (r *Registry) NodeByName(name string) *ServiceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if n.ServiceName == name {
			return n
		}
	}
	return nil
}

// NextNumber returns the next dense 1..N ordinal to assign to a new node (invariant I2).
func (r *Registry) NextNumber() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, n := range r.nodes {
		if n.Number > max {
			max = n.Number
		}
	}
	return max + 1
}

// HasGenesis reports whether any node record has peers_args.first set (invariant I3).
func (r *Registry) HasGenesis() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if n.PeersArgs.First {
			return true
		}
	}
	return false
}

// AppendNode adds a new record to the registry. It is the caller's (AddFlow's) responsibility to have
// checked invariants I1/I3/I4 beforehand; AppendNode does not re-validate them so that AddFlow can batch
// the checks across the whole requested set before any record is appended.
func (r *Registry) AppendNode(rec *ServiceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, rec)
}

// NATStatus returns the registry's recorded NAT status, or nil if it has not been determined.
func (r *Registry) NATStatus() *NATStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.natStat
}

func (r *Registry) SetNATStatus(s NATStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.natStat = &s
}

// EnvironmentVariables returns the global environment variables. AddFlow merges them into each install
// call, with its per-install overrides winning; Upgrade reinstalls with UpgradeOptions.EnvVariables only.
func (r *Registry) EnvironmentVariables() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.envVars))
	for _, kv := range r.envVars {
		out[kv[0]] = kv[1]
	}
	return out
}

func (r *Registry) SetEnvironmentVariables(vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envVars = r.envVars[:0]
	for k, v := range vars {
		r.envVars = append(r.envVars, [2]string{k, v})
	}
}

func (r *Registry) Auxiliary(kind AuxKind) *AuxiliaryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case AuxKindDaemon:
		return r.daemon
	case AuxKindFaucet:
		return r.faucet
	case AuxKindAuditor:
		return r.auditor
	default:
		return nil
	}
}

func (r *Registry) SetAuxiliary(kind AuxKind, rec *AuxiliaryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case AuxKindDaemon:
		r.daemon = rec
	case AuxKindFaucet:
		r.faucet = rec
	case AuxKindAuditor:
		r.auditor = rec
	}
}

// StatusSummary is the flattened projection of the registry consumed by external status-reporting
// callers (spec §4.4's to_status_summary).
type StatusSummary struct {
	Nodes   []NodeStatusSummary `json:"nodes"`
	Daemon  *AuxiliaryRecord    `json:"daemon,omitempty"`
	Faucet  *AuxiliaryRecord    `json:"faucet,omitempty"`
	Auditor *AuxiliaryRecord    `json:"auditor,omitempty"`
}

type NodeStatusSummary struct {
	ServiceName string `json:"service_name"`
	Number      int    `json:"number"`
	Status      Status `json:"status"`
	PID         *int   `json:"pid,omitempty"`
	PeerID      string `json:"peer_id,omitempty"`
	Version     string `json:"version"`
}

// ToStatusSummary returns the default (non-Removed) status listing.
func (r *Registry) ToStatusSummary() StatusSummary {
	active := r.ActiveNodes()
	summary := StatusSummary{Nodes: make([]NodeStatusSummary, 0, len(active))}
	for _, n := range active {
		summary.Nodes = append(summary.Nodes, NodeStatusSummary{
			ServiceName: n.ServiceName,
			Number:      n.Number,
			Status:      n.Status,
			PID:         n.PID,
			PeerID:      n.PeerID,
			Version:     n.Version,
		})
	}
	summary.Daemon = r.Auxiliary(AuxKindDaemon)
	summary.Faucet = r.Auxiliary(AuxKindFaucet)
	summary.Auditor = r.Auxiliary(AuxKindAuditor)
	return summary
}

// CheckInvariants validates I1-I5 against the current in-memory state; intended for tests and for an
// optional post-mutation assertion in callers that want to fail fast on a broken invariant.
func (r *Registry) CheckInvariants() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make(map[string]bool)
	numbers := make(map[int]bool)
	genesisCount := 0
	nodePorts := make(map[uint16]bool)
	metricsPorts := make(map[uint16]bool)
	rpcPorts := make(map[uint16]bool)

	for _, n := range r.nodes {
		if names[n.ServiceName] {
			return fmt.Errorf("invariant I1 violated: duplicate service_name %q", n.ServiceName)
		}
		names[n.ServiceName] = true

		if numbers[n.Number] {
			return fmt.Errorf("invariant I2 violated: duplicate number %d", n.Number)
		}
		numbers[n.Number] = true

		if n.PeersArgs.First {
			genesisCount++
		}

		if n.NodePort != nil {
			if nodePorts[*n.NodePort] {
				return fmt.Errorf("invariant I4 violated: duplicate node_port %d", *n.NodePort)
			}
			nodePorts[*n.NodePort] = true
		}
		if n.MetricsPort != nil {
			if metricsPorts[*n.MetricsPort] {
				return fmt.Errorf("invariant I4 violated: duplicate metrics_port %d", *n.MetricsPort)
			}
			metricsPorts[*n.MetricsPort] = true
		}
		if n.RPCSocketAddr.IsValid() {
			p := n.RPCSocketAddr.Port()
			if rpcPorts[p] {
				return fmt.Errorf("invariant I4 violated: duplicate rpc port %d", p)
			}
			rpcPorts[p] = true
		}

		if n.Status == StatusRunning && n.PID == nil {
			return fmt.Errorf("invariant I5 violated: %q is Running with no PID", n.ServiceName)
		}
		if n.Status != StatusRunning && n.PID != nil {
			return fmt.Errorf("invariant I5 violated: %q is not Running but has a PID", n.ServiceName)
		}
	}

	if genesisCount > 1 {
		return fmt.Errorf("invariant I3 violated: %d records have first=true", genesisCount)
	}

	sortedNumbers := make([]int, 0, len(numbers))
	for n := range numbers {
		sortedNumbers = append(sortedNumbers, n)
	}
	for i := 1; i <= len(sortedNumbers); i++ {
		if !numbers[i] {
			return fmt.Errorf("invariant I2 violated: numbers are not a dense 1..N sequence")
		}
	}

	return nil
}
