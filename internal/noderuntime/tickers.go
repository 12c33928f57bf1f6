package noderuntime

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Ticker periods, expressed as their max period per spec §4.8's table; each ticker's first fire is
// randomized into [period/2, period) by randomizedFirstFire.
const (
	ReplicationPeriod             = 180 * time.Second
	UptimeMetricPeriod            = 10 * time.Second
	IrrelevantRecordCleanupPeriod = 3600 * time.Second
	StorageChallengePeriod        = 7200 * time.Second
	DensitySamplingPeriod         = 200 * time.Second
)

// Runner owns the five control loops of an installed node process.
type Runner struct {
	Driver NetworkDriver
}

func NewRunner(driver NetworkDriver) *Runner {
	return &Runner{Driver: driver}
}

// Run starts four of the five control loops and blocks until ctx is cancelled or one loop returns an
// error. DensitySampling is currently disabled (reserved, per spec); its ticker is not started.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.loop(ctx, "replication", ReplicationPeriod, r.runReplication) })
	g.Go(func() error { return r.loop(ctx, "uptime_metric", UptimeMetricPeriod, r.runUptimeMetric) })
	g.Go(func() error {
		return r.loop(ctx, "irrelevant_record_cleanup", IrrelevantRecordCleanupPeriod, r.runIrrelevantRecordCleanup)
	})
	g.Go(func() error { return r.loop(ctx, "storage_challenge", StorageChallengePeriod, r.runStorageChallenge) })

	return g.Wait()
}

// loop fires work on a randomized-first-fire ticker until ctx is cancelled. A single tick's error is
// logged and does not stop the loop; only ctx cancellation does.
func (r *Runner) loop(ctx context.Context, name string, period time.Duration, work func(context.Context) error) error {
	timer := time.NewTimer(randomizedFirstFire(period))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := work(ctx); err != nil {
				slog.Warn("control loop tick failed", "loop", name, "error", err)
			}
			timer.Reset(period)
		}
	}
}

func (r *Runner) runReplication(ctx context.Context) error {
	return r.Driver.ReplicateToRoutingTable(ctx)
}

func (r *Runner) runUptimeMetric(_ context.Context) error {
	r.Driver.SetUptimeGauge(r.Driver.Uptime())
	return nil
}

func (r *Runner) runIrrelevantRecordCleanup(ctx context.Context) error {
	return r.Driver.DeleteIrrelevantRecords(ctx)
}

func (r *Runner) runStorageChallenge(ctx context.Context) error {
	return RunStorageChallenge(ctx, r.Driver)
}
