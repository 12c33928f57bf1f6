package nodesvc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maidsafe/ant-node-manager/internal/nodesvc/servicecontrol"
)

type fakeController struct {
	startCalls     []string
	stopCalls      []string
	uninstallCalls []string
	installCalls   []string

	pidsByBinary map[string]int
	startErr     error
	stopErr      error
	uninstallErr error
	installErr   error

	// onStart, when set, runs inside Start, e.g. to make a process appear only after the start call.
	onStart func()
}

func newFakeController() *fakeController {
	return &fakeController{pidsByBinary: make(map[string]int)}
}

func (f *fakeController) CreateServiceUser(_ context.Context, _ string) error { return nil }
func (f *fakeController) GetAvailablePort(_ context.Context) (int, error)     { return 0, nil }

func (f *fakeController) Install(_ context.Context, install servicecontrol.InstallContext) error {
	f.installCalls = append(f.installCalls, install.ServiceName)
	return f.installErr
}

func (f *fakeController) Uninstall(_ context.Context, serviceName string, _ bool) error {
	f.uninstallCalls = append(f.uninstallCalls, serviceName)
	return f.uninstallErr
}

func (f *fakeController) Start(_ context.Context, serviceName string, _ bool) error {
	f.startCalls = append(f.startCalls, serviceName)
	if f.onStart != nil {
		f.onStart()
	}
	return f.startErr
}

func (f *fakeController) Stop(_ context.Context, serviceName string, _ bool) error {
	f.stopCalls = append(f.stopCalls, serviceName)
	return f.stopErr
}

func (f *fakeController) GetProcessPid(_ context.Context, binaryPath string) (int, error) {
	if pid, ok := f.pidsByBinary[binaryPath]; ok {
		return pid, nil
	}
	return 0, ErrServiceProcessNotFound
}

func (f *fakeController) Wait(_ time.Duration) {}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0755))
}

func TestServiceStateMachine_StartFromAdded(t *testing.T) {
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusAdded}
	ctrl := newFakeController()
	ctrl.pidsByBinary[r.BinaryPath] = 555

	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Start(context.Background()))

	assert.Equal(t, StatusRunning, r.Status)
	require.NotNil(t, r.PID)
	assert.Equal(t, 555, *r.PID)
	assert.Equal(t, []string{"antnode1"}, ctrl.startCalls)
}

func TestServiceStateMachine_StartIdempotentWhenAlreadyRunning(t *testing.T) {
	pid := 100
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusRunning, PID: &pid}
	ctrl := newFakeController()
	ctrl.pidsByBinary[r.BinaryPath] = 100

	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Start(context.Background()))

	assert.Empty(t, ctrl.startCalls, "must not call Start again when already running with a live pid")
}

func TestServiceStateMachine_StartRestartsPhantomRunning(t *testing.T) {
	oldPID := 999
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusRunning, PID: &oldPID}
	ctrl := newFakeController()
	// No pid registered for the binary yet: the record claims Running but the process isn't there.
	// Start should be invoked to restart it, and GetProcessPid succeeds on the post-start probe.
	ctrl.onStart = func() { ctrl.pidsByBinary[r.BinaryPath] = 42 }

	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Start(context.Background()))
	assert.Equal(t, []string{"antnode1"}, ctrl.startCalls)
	assert.Equal(t, 42, *r.PID)
}

func TestServiceStateMachine_StartFailsWhenProcessNeverAppears(t *testing.T) {
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusAdded}
	ctrl := newFakeController()

	sm := NewServiceStateMachine(r, ctrl, nil)
	err := sm.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPidNotFoundAfterStarting))
}

func TestServiceStateMachine_StopWhenRunning(t *testing.T) {
	pid := 100
	r := &ServiceRecord{
		ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusRunning, PID: &pid,
		PeerID: "peer1", ConnectedPeers: []string{"x"},
	}
	ctrl := newFakeController()
	ctrl.pidsByBinary[r.BinaryPath] = 100

	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Stop(context.Background()))

	assert.Equal(t, StatusStopped, r.Status)
	assert.Nil(t, r.PID)
	assert.Empty(t, r.PeerID)
	assert.Empty(t, r.ConnectedPeers)
	assert.Equal(t, []string{"antnode1"}, ctrl.stopCalls)
}

func TestServiceStateMachine_StopIsNoOpForAddedAndRemoved(t *testing.T) {
	ctrl := newFakeController()

	r := &ServiceRecord{ServiceName: "a", Status: StatusAdded}
	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Stop(context.Background()))
	assert.Empty(t, ctrl.stopCalls)

	r2 := &ServiceRecord{ServiceName: "b", Status: StatusRemoved}
	sm2 := NewServiceStateMachine(r2, ctrl, nil)
	require.NoError(t, sm2.Stop(context.Background()))
	assert.Empty(t, ctrl.stopCalls)
}

func TestServiceStateMachine_RemoveFailsWhenStillRunning(t *testing.T) {
	pid := 100
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusRunning, PID: &pid}
	ctrl := newFakeController()
	ctrl.pidsByBinary[r.BinaryPath] = 100

	sm := NewServiceStateMachine(r, ctrl, nil)
	err := sm.Remove(context.Background(), true)
	require.Error(t, err)
	var alreadyRunning *ServiceAlreadyRunningError
	require.ErrorAs(t, err, &alreadyRunning)
}

func TestServiceStateMachine_RemovePhantomRunningReturnsStatusMismatch(t *testing.T) {
	pid := 100
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusRunning, PID: &pid, PeerID: "p1"}
	ctrl := newFakeController() // no live pid registered: process is phantom

	sm := NewServiceStateMachine(r, ctrl, nil)
	err := sm.Remove(context.Background(), true)
	require.Error(t, err)
	var mismatch *ServiceStatusMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Empty(t, r.PeerID, "on_stop hook must still clear peer_id on phantom removal")
}

func TestServiceStateMachine_RemoveDeletesDirectoriesUnlessKept(t *testing.T) {
	dataDir := t.TempDir()
	logDir := t.TempDir()
	r := &ServiceRecord{ServiceName: "antnode1", BinaryPath: "/bin/antnode1", Status: StatusStopped, DataDirPath: dataDir, Log: LogConfig{DirPath: logDir}}
	ctrl := newFakeController()

	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Remove(context.Background(), false))

	assert.Equal(t, StatusRemoved, r.Status)
	assert.Equal(t, []string{"antnode1"}, ctrl.uninstallCalls)
	_, dataErr := os.Stat(dataDir)
	assert.True(t, os.IsNotExist(dataErr), "data dir must be removed when directories are not kept")
	_, logErr := os.Stat(logDir)
	assert.True(t, os.IsNotExist(logErr), "log dir must be removed when directories are not kept")
}

func TestServiceStateMachine_RemoveToleratesAlreadyGone(t *testing.T) {
	r := &ServiceRecord{ServiceName: "antnode1", Status: StatusStopped, DataDirPath: t.TempDir(), Log: LogConfig{DirPath: t.TempDir()}}
	ctrl := newFakeController()
	ctrl.uninstallErr = ErrServiceDoesNotExist

	sm := NewServiceStateMachine(r, ctrl, nil)
	require.NoError(t, sm.Remove(context.Background(), true))
	assert.Equal(t, StatusRemoved, r.Status)
}

func TestServiceStateMachine_UpgradeNotRequired(t *testing.T) {
	r := &ServiceRecord{ServiceName: "antnode1", Version: "1.2.0", Status: StatusStopped}
	ctrl := newFakeController()
	sm := NewServiceStateMachine(r, ctrl, nil)

	result, err := sm.Upgrade(context.Background(), UpgradeOptions{TargetVersion: "1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, UpgradeOutcomeNotRequired, result.Outcome)
	assert.Empty(t, ctrl.uninstallCalls, "must not touch the service definition when upgrade is not required")
}

func TestServiceStateMachine_UpgradePreservesArgv(t *testing.T) {
	binaryPath := filepath.Join(t.TempDir(), "antnode")
	writeFile(t, binaryPath, []byte("old"))
	targetPath := filepath.Join(t.TempDir(), "antnode-new")
	writeFile(t, targetPath, []byte("new"))

	r := sampleRecord(t)
	r.Version = "1.0.0"
	r.BinaryPath = binaryPath
	r.Status = StatusStopped

	before := BuildInstallContext(r, nil)

	ctrl := newFakeController()
	sm := NewServiceStateMachine(r, ctrl, nil)

	result, err := sm.Upgrade(context.Background(), UpgradeOptions{
		TargetBinaryPath: targetPath,
		TargetVersion:    "2.0.0",
		StartService:     false,
	})
	require.NoError(t, err)
	assert.Equal(t, UpgradeOutcomeUpgraded, result.Outcome)
	assert.Equal(t, "2.0.0", r.Version)

	after := BuildInstallContext(r, nil)
	assert.Equal(t, before.Args, after.Args, "every argv-affecting field must round-trip through an upgrade")
	assert.Equal(t, before.ServiceName, after.ServiceName)
}

func TestServiceStateMachine_UpgradeForcedDowngrade(t *testing.T) {
	binaryPath := filepath.Join(t.TempDir(), "antnode")
	writeFile(t, binaryPath, []byte("old"))
	targetPath := filepath.Join(t.TempDir(), "antnode-old")
	writeFile(t, targetPath, []byte("older"))

	r := &ServiceRecord{ServiceName: "antnode1", Version: "2.0.0", BinaryPath: binaryPath, Status: StatusStopped}
	ctrl := newFakeController()
	sm := NewServiceStateMachine(r, ctrl, nil)

	result, err := sm.Upgrade(context.Background(), UpgradeOptions{
		TargetBinaryPath: targetPath,
		TargetVersion:    "1.0.0",
		Force:            true,
	})
	require.NoError(t, err)
	assert.Equal(t, UpgradeOutcomeForced, result.Outcome)
	assert.Equal(t, "1.0.0", r.Version)
}

func TestServiceStateMachine_UpgradeNotStartedWhenStartFails(t *testing.T) {
	binaryPath := filepath.Join(t.TempDir(), "antnode")
	writeFile(t, binaryPath, []byte("old"))
	targetPath := filepath.Join(t.TempDir(), "antnode-new")
	writeFile(t, targetPath, []byte("new"))

	r := &ServiceRecord{ServiceName: "antnode1", Version: "1.0.0", BinaryPath: binaryPath, Status: StatusStopped}
	ctrl := newFakeController()
	ctrl.startErr = errors.New("boom")
	sm := NewServiceStateMachine(r, ctrl, nil)

	result, err := sm.Upgrade(context.Background(), UpgradeOptions{
		TargetBinaryPath: targetPath,
		TargetVersion:    "2.0.0",
		StartService:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, UpgradeOutcomeUpgradedNotStarted, result.Outcome)
	assert.Equal(t, "2.0.0", r.Version, "binary and service definition already swapped even though start failed")
	assert.Error(t, result.Reason)
}
