package nodesvc

import (
	"net/netip"
	"testing"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(t *testing.T) *ServiceRecord {
	t.Helper()
	addr1, err := multiaddr.NewMultiaddr("/ip4/10.0.0.1/tcp/40000")
	require.NoError(t, err)

	nodePort := uint16(12000)
	metricsPort := uint16(12001)
	maxLogFiles := uint16(5)
	format := LogFormatJSON

	return &ServiceRecord{
		ServiceName:   "antnode1",
		Number:        1,
		BinaryPath:    "/data/antnode1/antnode",
		RPCSocketAddr: netip.MustParseAddrPort("127.0.0.1:13000"),
		DataDirPath:   "/data/antnode1",
		NodePort:      &nodePort,
		MetricsPort:   &metricsPort,
		NodeIP:        netip.MustParseAddr("10.0.0.1"),
		PeersArgs: PeersArgs{
			Addrs: []multiaddr.Multiaddr{addr1},
		},
		Log: LogConfig{
			DirPath:     "/var/log/antnode1",
			Format:      &format,
			MaxLogFiles: &maxLogFiles,
		},
		RewardsAddress: "0xabc",
		EVMNetwork:     EVMNetwork{Kind: EVMNetworkArbitrumOne},
		Owner:          "Alice",
	}
}

func TestBuildInstallContext_ArgvOrder(t *testing.T) {
	r := sampleRecord(t)
	r.NormalizeOwner()

	ctx := BuildInstallContext(r, map[string]string{"FOO": "bar"})

	assert.Equal(t, "antnode1", ctx.ServiceName)
	assert.Equal(t, "/data/antnode1/antnode", ctx.Program)
	assert.Equal(t, "bar", ctx.Env["FOO"])

	expected := []string{
		"--rpc", "127.0.0.1:13000",
		"--root-dir", "/data/antnode1",
		"--log-output-dest", "/var/log/antnode1",
		"--peer", "/ip4/10.0.0.1/tcp/40000",
		"--ip", "10.0.0.1",
		"--port", "12000",
		"--metrics-server-port", "12001",
		"--max-log-files", "5",
		"--log-format", "json",
		"--owner", "alice",
		"--rewards-address", "0xabc",
		"evm-arbitrum-one",
	}
	assert.Equal(t, expected, ctx.Args)
}

func TestBuildInstallContext_GenesisAndFlags(t *testing.T) {
	r := sampleRecord(t)
	r.PeersArgs = PeersArgs{First: true, Local: true, DisableMainnetContacts: true, IgnoreCache: true}
	r.UPnP = true
	r.HomeNetwork = true

	ctx := BuildInstallContext(r, nil)

	assert.Contains(t, ctx.Args, "--first")
	assert.Contains(t, ctx.Args, "--local")
	assert.Contains(t, ctx.Args, "--testnet")
	assert.Contains(t, ctx.Args, "--ignore-cache")
	assert.Contains(t, ctx.Args, "--upnp")
	assert.Contains(t, ctx.Args, "--home-network")
}

func TestBuildInstallContext_Deterministic(t *testing.T) {
	r1 := sampleRecord(t)
	r2 := sampleRecord(t)

	ctx1 := BuildInstallContext(r1, nil)
	ctx2 := BuildInstallContext(r2, nil)

	assert.Equal(t, ctx1.Args, ctx2.Args)
}

func TestValidateRecordForInstall_MissingRewardsAddress(t *testing.T) {
	r := sampleRecord(t)
	r.RewardsAddress = ""
	err := ValidateRecordForInstall(r)
	require.Error(t, err)
}

func TestValidateRecordForInstall_InvalidRPCAddr(t *testing.T) {
	r := sampleRecord(t)
	r.RPCSocketAddr = netip.AddrPort{}
	err := ValidateRecordForInstall(r)
	require.Error(t, err)
}
