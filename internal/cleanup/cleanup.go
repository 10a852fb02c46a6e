// Package cleanup runs the scheduled retention job: it hard-deletes
// tombstoned tasks, expired conflict-log rows, and long-inactive devices
// once their respective retention windows have passed. Each pass is
// independent — a failure in one never stops the others from running.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/cipherloop/tasksync/internal/config"
	"github.com/cipherloop/tasksync/internal/store"
)

// Job runs the three retention passes on a fixed interval.
type Job struct {
	store                   *store.Store
	logger                  *slog.Logger
	interval                time.Duration
	tombstoneRetention      time.Duration
	conflictLogRetention    time.Duration
	inactiveDeviceRetention time.Duration
}

// NewJob creates a cleanup job from the service's retention configuration.
func NewJob(s *store.Store, logger *slog.Logger, cfg *config.Config) *Job {
	return &Job{
		store:                   s,
		logger:                  logger,
		interval:                cfg.CleanupInterval,
		tombstoneRetention:      cfg.TombstoneRetention,
		conflictLogRetention:    cfg.ConflictLogRetention,
		inactiveDeviceRetention: cfg.InactiveDeviceRetention,
	}
}

// Run starts the cleanup loop. It blocks until ctx is cancelled, running
// one pass immediately and then on every tick of the configured interval.
func (j *Job) Run(ctx context.Context) error {
	j.logger.Info("cleanup job started", "interval", j.interval)

	j.tick(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return nil
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

// tick runs all three retention passes, logging and continuing past any
// individual failure.
func (j *Job) tick(ctx context.Context) {
	j.cleanTombstones(ctx)
	j.cleanConflictLog(ctx)
	j.cleanInactiveDevices(ctx)
}

func (j *Job) cleanTombstones(ctx context.Context) {
	cutoff := time.Now().Add(-j.tombstoneRetention)
	n, err := j.store.DeleteTombstonesOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("cleaning tombstoned tasks", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("hard-deleted tombstoned tasks", "count", n, "cutoff", cutoff)
	}
}

func (j *Job) cleanConflictLog(ctx context.Context) {
	cutoff := time.Now().Add(-j.conflictLogRetention)
	n, err := j.store.DeleteConflictsOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("cleaning conflict log", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("deleted resolved conflict-log rows", "count", n, "cutoff", cutoff)
	}
}

func (j *Job) cleanInactiveDevices(ctx context.Context) {
	cutoff := time.Now().Add(-j.inactiveDeviceRetention)
	n, err := j.store.DeleteInactiveDevicesOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("cleaning inactive devices", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("deleted inactive devices", "count", n, "cutoff", cutoff)
	}
}

// RunOnce performs a single pass synchronously, outside the recurring
// loop. The "cleanup" mode runs the recurring loop via Run instead.
func (j *Job) RunOnce(ctx context.Context) {
	j.tick(ctx)
}
