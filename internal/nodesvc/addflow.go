package nodesvc

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/maidsafe/ant-node-manager/internal/fs"
	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

// AddSpec describes the batch of nodes AddFlow.Run should append to the registry.
type AddSpec struct {
	Count       int
	First       bool
	SourceBinaryPath string
	DeleteSource bool

	ServiceDataDir string
	ServiceLogDir  string
	BinaryFileName string

	NodePortSpec    PortSpec
	MetricsPortSpec PortSpec
	RPCPortSpec     PortSpec
	RPCHost         netip.Addr

	AutoSetNATFlags bool
	UserMode        bool
	User            string
	AutoRestart     bool
	RewardsAddress  string
	EVMNetwork      EVMNetwork
	Owner           string
	PeersArgs       PeersArgs
	Log             LogConfig
	Version         string

	EnvVariables map[string]string
}

// AddFlow implements spec §4.7: append N new ServiceRecords to a Registry atomically from the registry's
// perspective, with no port "holes" left behind on failure.
type AddFlow struct {
	Ctrl servicecontrol.Controller
}

func NewAddFlow(ctrl servicecontrol.Controller) *AddFlow {
	return &AddFlow{Ctrl: ctrl}
}

// Run validates spec, allocates resources, installs each node concurrently, and appends the resulting
// records to registry only once every install has succeeded. Any failure surfaces to the caller with no
// record appended; service definitions already installed by the batch's other installs are not removed.
func (af *AddFlow) Run(ctx context.Context, registry *Registry, spec AddSpec) ([]*ServiceRecord, error) {
	if spec.First {
		if spec.Count != 1 {
			return nil, ErrGenesisMustBeSingle
		}
		if registry.HasGenesis() {
			return nil, ErrGenesisAlreadyExists
		}
	}

	upnp, homeNetwork := false, false
	if spec.AutoSetNATFlags {
		status := registry.NATStatus()
		if status == nil {
			return nil, ErrNatStatusUnset
		}
		upnp, homeNetwork = status.DeriveNetworkFlags()
	}

	env := registry.EnvironmentVariables()
	for k, v := range spec.EnvVariables {
		env[k] = v
	}
	spec.EnvVariables = env

	existing := registry.Nodes()
	nodePorts, err := AllocatePorts(ctx, af.Ctrl, spec.NodePortSpec, spec.Count, PortsInUse(existing, PortClassNode))
	if err != nil {
		return nil, fmt.Errorf("allocate node ports: %w", err)
	}
	metricsPorts, err := AllocatePorts(ctx, af.Ctrl, spec.MetricsPortSpec, spec.Count, PortsInUse(existing, PortClassMetrics))
	if err != nil {
		return nil, fmt.Errorf("allocate metrics ports: %w", err)
	}
	rpcPorts, err := AllocatePorts(ctx, af.Ctrl, spec.RPCPortSpec, spec.Count, PortsInUse(existing, PortClassRPC))
	if err != nil {
		return nil, fmt.Errorf("allocate rpc ports: %w", err)
	}

	nextNumber := registry.NextNumber()
	records := make([]*ServiceRecord, spec.Count)
	for i := 0; i < spec.Count; i++ {
		number := nextNumber + i
		serviceName := fmt.Sprintf("antnode%d", number)

		dataDir := filepath.Join(spec.ServiceDataDir, serviceName)
		logDir := filepath.Join(spec.ServiceLogDir, serviceName)
		binaryPath := filepath.Join(dataDir, spec.BinaryFileName)

		peersArgs := spec.PeersArgs
		peersArgs.First = spec.First && i == 0

		logCfg := spec.Log
		logCfg.DirPath = logDir

		rec := &ServiceRecord{
			ServiceName:    serviceName,
			Number:         number,
			User:           spec.User,
			UserMode:       spec.UserMode,
			BinaryPath:     binaryPath,
			Version:        spec.Version,
			Status:         StatusAdded,
			NodePort:       &nodePorts[i],
			MetricsPort:    &metricsPorts[i],
			RPCSocketAddr:  netip.AddrPortFrom(spec.RPCHost, rpcPorts[i]),
			UPnP:           upnp,
			HomeNetwork:    homeNetwork,
			PeersArgs:      peersArgs,
			Log:            logCfg,
			DataDirPath:    dataDir,
			RewardsAddress: spec.RewardsAddress,
			EVMNetwork:     spec.EVMNetwork,
			Owner:          spec.Owner,
			AutoRestart:    spec.AutoRestart,
			AutoSetNATFlags: spec.AutoSetNATFlags,
		}
		rec.NormalizeOwner()
		records[i] = rec
	}

	if err = af.installAll(ctx, records, spec); err != nil {
		return nil, err
	}

	if spec.DeleteSource {
		if err = os.Remove(spec.SourceBinaryPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("delete source binary %s: %w", spec.SourceBinaryPath, err)
		}
	}

	for _, rec := range records {
		registry.AppendNode(rec)
	}
	if err = registry.Save(); err != nil {
		return nil, fmt.Errorf("save registry: %w", err)
	}

	return records, nil
}

// installAll copies the binary and installs each record's service definition concurrently, bounded by an
// errgroup so the first failure cancels the remaining installs instead of limping through all N.
func (af *AddFlow) installAll(ctx context.Context, records []*ServiceRecord, spec AddSpec) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := fs.MkDataDir(rec.DataDirPath, rec.User); err != nil {
				return fmt.Errorf("create data dir for %s: %w", rec.ServiceName, err)
			}
			if err := fs.MkDataDir(rec.Log.DirPath, rec.User); err != nil {
				return fmt.Errorf("create log dir for %s: %w", rec.ServiceName, err)
			}
			if err := copyBinary(spec.SourceBinaryPath, rec.BinaryPath); err != nil {
				return fmt.Errorf("copy binary for %s: %w", rec.ServiceName, err)
			}
			if err := fs.Chown(rec.BinaryPath, rec.User); err != nil {
				return fmt.Errorf("chown binary for %s: %w", rec.ServiceName, err)
			}
			if err := ValidateRecordForInstall(rec); err != nil {
				return fmt.Errorf("validate %s: %w", rec.ServiceName, err)
			}
			install := BuildInstallContext(rec, spec.EnvVariables)
			if err := af.Ctrl.Install(gctx, install); err != nil {
				return fmt.Errorf("install %s: %w", rec.ServiceName, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// copyBinary copies src to dst. The destination directory is created (and chowned) by the caller via
// fs.MkDataDir before this runs.
func copyBinary(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source binary %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("create destination binary %s: %w", dst, err)
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Sync()
}
