package nodesvc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg := NewRegistry(path)

	pid := 4242
	rec := &ServiceRecord{
		ServiceName: "antnode1",
		Number:      1,
		Status:      StatusRunning,
		PID:         &pid,
		Version:     "1.0.0",
	}
	reg.AppendNode(rec)
	reg.SetNATStatus(NATStatusUPnP)
	reg.SetEnvironmentVariables(map[string]string{"LOG_LEVEL": "debug"})
	reg.SetAuxiliary(AuxKindDaemon, &AuxiliaryRecord{Kind: AuxKindDaemon, Name: "antctld", Status: StatusRunning})

	require.NoError(t, reg.Save())

	loaded, err := Load(path)
	require.NoError(t, err)

	nodes := loaded.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "antnode1", nodes[0].ServiceName)
	assert.Equal(t, StatusRunning, nodes[0].Status)
	require.NotNil(t, nodes[0].PID)
	assert.Equal(t, 4242, *nodes[0].PID)

	require.NotNil(t, loaded.NATStatus())
	assert.Equal(t, NATStatusUPnP, *loaded.NATStatus())
	assert.Equal(t, "debug", loaded.EnvironmentVariables()["LOG_LEVEL"])
	require.NotNil(t, loaded.Auxiliary(AuxKindDaemon))
	assert.Equal(t, "antctld", loaded.Auxiliary(AuxKindDaemon).Name)
	assert.Equal(t, registrySchemaVersion, loaded.Version())
}

func TestRegistry_ActiveNodesExcludesRemoved(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1, Status: StatusRunning})
	reg.AppendNode(&ServiceRecord{ServiceName: "b", Number: 2, Status: StatusRemoved})

	active := reg.ActiveNodes()
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ServiceName)

	all := reg.Nodes()
	assert.Len(t, all, 2)
}

func TestRegistry_NextNumber(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	assert.Equal(t, 1, reg.NextNumber())

	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1})
	reg.AppendNode(&ServiceRecord{ServiceName: "b", Number: 3})
	assert.Equal(t, 4, reg.NextNumber())
}

func TestRegistry_HasGenesis(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	assert.False(t, reg.HasGenesis())

	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1, PeersArgs: PeersArgs{First: true}})
	assert.True(t, reg.HasGenesis())
}

func TestRegistry_CheckInvariants_DuplicateName(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1})
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 2})

	err := reg.CheckInvariants()
	require.Error(t, err)
}

func TestRegistry_CheckInvariants_MultipleGenesis(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1, PeersArgs: PeersArgs{First: true}})
	reg.AppendNode(&ServiceRecord{ServiceName: "b", Number: 2, PeersArgs: PeersArgs{First: true}})

	err := reg.CheckInvariants()
	require.Error(t, err)
}

func TestRegistry_CheckInvariants_RunningWithoutPID(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1, Status: StatusRunning})

	err := reg.CheckInvariants()
	require.Error(t, err)
}

func TestRegistry_CheckInvariants_Valid(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	pid := 100
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1, Status: StatusRunning, PID: &pid})
	reg.AppendNode(&ServiceRecord{ServiceName: "b", Number: 2, Status: StatusStopped})

	assert.NoError(t, reg.CheckInvariants())
}

func TestRegistry_ToStatusSummaryExcludesRemoved(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	reg.AppendNode(&ServiceRecord{ServiceName: "a", Number: 1, Status: StatusRunning})
	reg.AppendNode(&ServiceRecord{ServiceName: "b", Number: 2, Status: StatusRemoved})

	summary := reg.ToStatusSummary()
	require.Len(t, summary.Nodes, 1)
	assert.Equal(t, "a", summary.Nodes[0].ServiceName)
}
