// Package retention implements the age-based cleanup pass (spec C12): it
// deletes detection, key-frame and metric-window rows only once they are
// marked synced. The only undelivered rows it removes are sync jobs that
// have failed and exhausted their attempts.
package retention

import (
	"fmt"
	"time"

	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// Policy holds the per-table retention windows from spec §4.12.
type Policy struct {
	Detections    time.Duration
	KeyFrames     time.Duration
	MetricWindows time.Duration
	SyncCompleted time.Duration
	SyncFailed    time.Duration
	MaxAttempts   int
}

// DefaultPolicy returns the spec's default retention windows.
func DefaultPolicy() Policy {
	return Policy{
		Detections:    7 * 24 * time.Hour,
		KeyFrames:     7 * 24 * time.Hour,
		MetricWindows: 30 * 24 * time.Hour,
		SyncCompleted: 24 * time.Hour,
		SyncFailed:    7 * 24 * time.Hour,
		MaxAttempts:   10,
	}
}

// Store is the subset of store.Store retention needs.
type Store interface {
	DeleteDetectionsBefore(cutoff time.Time) (int64, error)
	DeleteKeyFramesBefore(cutoff time.Time) (int64, error)
	DeleteMetricWindowsBefore(cutoff time.Time) (int64, error)
	DeleteSyncedBefore(cutoff time.Time) (int64, error)
	DeleteUnsyncedFailedBefore(cutoff time.Time, maxAttempts int) (int64, error)
	Vacuum() error
}

// Cleaner runs one retention pass at a time against a Store.
type Cleaner struct {
	store  Store
	policy Policy
	log    servicelog.Logger
}

// New builds a Cleaner.
func New(store Store, policy Policy, log servicelog.Logger) *Cleaner {
	return &Cleaner{store: store, policy: policy, log: log}
}

// Run performs one full retention pass: deletes synced rows past their
// window in each table, then deletes permanently-failed sync jobs, then,
// if at least one row was deleted, reclaims space with Vacuum.
func (c *Cleaner) Run(now time.Time) error {
	total := int64(0)

	n, err := c.store.DeleteDetectionsBefore(now.Add(-c.policy.Detections))
	if err != nil {
		return fmt.Errorf("delete expired detections: %w", err)
	}
	total += n

	n, err = c.store.DeleteKeyFramesBefore(now.Add(-c.policy.KeyFrames))
	if err != nil {
		return fmt.Errorf("delete expired key frames: %w", err)
	}
	total += n

	n, err = c.store.DeleteMetricWindowsBefore(now.Add(-c.policy.MetricWindows))
	if err != nil {
		return fmt.Errorf("delete expired metric windows: %w", err)
	}
	total += n

	n, err = c.store.DeleteSyncedBefore(now.Add(-c.policy.SyncCompleted))
	if err != nil {
		return fmt.Errorf("delete completed sync jobs: %w", err)
	}
	total += n

	n, err = c.store.DeleteUnsyncedFailedBefore(now.Add(-c.policy.SyncFailed), c.policy.MaxAttempts)
	if err != nil {
		return fmt.Errorf("delete exhausted sync jobs: %w", err)
	}
	total += n

	c.log.Info("retention pass complete", servicelog.Int("rows_deleted", int(total)))

	if total > 0 {
		if err := c.store.Vacuum(); err != nil {
			return fmt.Errorf("vacuum after retention pass: %w", err)
		}
	}
	return nil
}
