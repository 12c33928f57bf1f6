package noderuntime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTickerDriver struct {
	replicateCalls int32
	cleanupCalls   int32
	uptimeGauge    time.Duration
}

func (f *fakeTickerDriver) ClosestPeers(_ context.Context, _ RecordKey, _ int) ([]PeerID, error) {
	return nil, nil
}
func (f *fakeTickerDriver) LocalChunkRecords(_ context.Context) ([]StoredRecord, error) { return nil, nil }
func (f *fakeTickerDriver) DistanceToSelf(_ RecordKey) uint64                           { return 0 }
func (f *fakeTickerDriver) DistanceFrom(_, _ RecordKey) uint64                          { return 0 }
func (f *fakeTickerDriver) ComputeProof(_ StoredRecord, _ []byte) ChunkProof            { return nil }
func (f *fakeTickerDriver) QueryChunkExistenceProof(_ context.Context, _ PeerID, _ RecordKey, _ []byte, _ int) ([]ProofResult, error) {
	return nil, nil
}
func (f *fakeTickerDriver) ReplicateToRoutingTable(_ context.Context) error {
	atomic.AddInt32(&f.replicateCalls, 1)
	return nil
}
func (f *fakeTickerDriver) DeleteIrrelevantRecords(_ context.Context) error {
	atomic.AddInt32(&f.cleanupCalls, 1)
	return nil
}
func (f *fakeTickerDriver) RecordIssue(_ PeerID, _ IssueKind) {}
func (f *fakeTickerDriver) Uptime() time.Duration              { return 42 * time.Second }
func (f *fakeTickerDriver) SetUptimeGauge(d time.Duration)      { f.uptimeGauge = d }

func TestRandomizedFirstFire_WithinHalfToFullPeriod(t *testing.T) {
	period := 10 * time.Second
	half := period / 2

	for i := 0; i < 200; i++ {
		d := randomizedFirstFire(period)
		assert.GreaterOrEqual(t, d, half)
		assert.Less(t, d, period)
	}
}

func TestRunner_RunUptimeMetricPublishesDriverUptime(t *testing.T) {
	driver := &fakeTickerDriver{}
	r := NewRunner(driver)
	require.NoError(t, r.runUptimeMetric(context.Background()))
	assert.Equal(t, 42*time.Second, driver.uptimeGauge)
}

func TestRunner_RunReplicationCallsDriver(t *testing.T) {
	driver := &fakeTickerDriver{}
	r := NewRunner(driver)
	require.NoError(t, r.runReplication(context.Background()))
	assert.EqualValues(t, 1, driver.replicateCalls)
}

func TestRunner_RunIrrelevantRecordCleanupCallsDriver(t *testing.T) {
	driver := &fakeTickerDriver{}
	r := NewRunner(driver)
	require.NoError(t, r.runIrrelevantRecordCleanup(context.Background()))
	assert.EqualValues(t, 1, driver.cleanupCalls)
}

func TestRunner_LoopFiresWorkUntilCancelled(t *testing.T) {
	driver := &fakeTickerDriver{}
	r := NewRunner(driver)

	var fires int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.loop(ctx, "test", 5*time.Millisecond, func(_ context.Context) error {
			atomic.AddInt32(&fires, 1)
			return nil
		})
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fires), int32(1))
}

func TestRunner_LoopContinuesAfterWorkError(t *testing.T) {
	driver := &fakeTickerDriver{}
	r := NewRunner(driver)

	var fires int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.loop(ctx, "test", 5*time.Millisecond, func(_ context.Context) error {
			atomic.AddInt32(&fires, 1)
			return errors.New("transient failure")
		})
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&fires), int32(2), "a failing tick must not stop the loop")
}
