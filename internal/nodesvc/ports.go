package nodesvc

import (
	"context"
	"fmt"

	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

// PortClass distinguishes the independently-validated port namespaces a ServiceRecord occupies.
type PortClass string

const (
	PortClassNode    PortClass = "node"
	PortClassMetrics PortClass = "metrics"
	PortClassRPC     PortClass = "rpc"
)

// PortSpec is the desired port allocation for a class of N new nodes: absent, a single fixed port
// (valid only for count=1), or an inclusive range assigned in order (valid only when its width equals
// count).
type PortSpec struct {
	Single *uint16
	Range  *PortRange
}

type PortRange struct {
	Low, High uint16
}

func (rg PortRange) width() int {
	return int(rg.High) - int(rg.Low) + 1
}

// AllocatePorts produces count distinct ports for one class, validating spec against count and against
// every port already used by that class across the registry, before any installation side-effect runs.
func AllocatePorts(ctx context.Context, ctrl servicecontrol.Controller, spec PortSpec, count int, inUse map[uint16]bool) ([]uint16, error) {
	switch {
	case spec.Single != nil && spec.Range != nil:
		return nil, fmt.Errorf("port spec cannot set both Single and Range")

	case spec.Single != nil:
		if count != 1 {
			return nil, &CountPortMismatchError{Count: count, Ports: 1}
		}
		if inUse[*spec.Single] {
			return nil, &PortInUseError{Port: int(*spec.Single)}
		}
		return []uint16{*spec.Single}, nil

	case spec.Range != nil:
		width := spec.Range.width()
		if width != count {
			return nil, &CountPortMismatchError{Count: count, Ports: width}
		}
		ports := make([]uint16, 0, count)
		for p := spec.Range.Low; p <= spec.Range.High; p++ {
			if inUse[p] {
				return nil, &PortInUseError{Port: int(p)}
			}
			ports = append(ports, p)
		}
		return ports, nil

	default:
		ports := make([]uint16, 0, count)
		seen := make(map[uint16]bool, count)
		for i := 0; i < count; i++ {
			port, err := ctrl.GetAvailablePort(ctx)
			if err != nil {
				return nil, fmt.Errorf("get available port: %w", err)
			}
			p := uint16(port)
			if seen[p] || inUse[p] {
				return nil, &PortInUseError{Port: port}
			}
			seen[p] = true
			ports = append(ports, p)
		}
		return ports, nil
	}
}

// PortsInUse collects the set of ports already occupied by the given class across the registry's node
// records, for use as AllocatePorts' inUse map.
func PortsInUse(nodes []*ServiceRecord, class PortClass) map[uint16]bool {
	inUse := make(map[uint16]bool)
	for _, n := range nodes {
		switch class {
		case PortClassNode:
			if n.NodePort != nil {
				inUse[*n.NodePort] = true
			}
		case PortClassMetrics:
			if n.MetricsPort != nil {
				inUse[*n.MetricsPort] = true
			}
		case PortClassRPC:
			if n.RPCSocketAddr.IsValid() {
				inUse[n.RPCSocketAddr.Port()] = true
			}
		}
	}
	return inUse
}
