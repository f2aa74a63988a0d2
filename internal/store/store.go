// Package store is the embedded durable local store (spec C9): a single
// SQLite file opened with GORM, WAL journaling, and the indexes each query
// path needs. It is the one genuinely new GORM user in the module — none of
// the teacher's code imports GORM even though its go.mod listed driver
// packages for it, so this package's schema and pragma setup are grounded
// directly on gorm.io/driver/sqlite's documented WAL configuration rather
// than on any teacher file.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/warpcomdev/edgevisiond/internal/model"
)

// Store wraps a GORM DB bound to one SQLite file.
type Store struct {
	db *gorm.DB
}

// Open creates or migrates the SQLite database at path, enabling WAL mode
// and a busy timeout so concurrent capture/sync goroutines don't trip
// SQLITE_BUSY under write contention.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&model.Camera{},
		&model.Detection{},
		&model.KeyFrame{},
		&model.MetricWindow{},
		&model.SyncJob{},
	); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying SQLite file handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertDetections bulk-inserts a batch of detections in a single
// transaction, the shape the spec requires for write throughput under
// sustained detection volume.
func (s *Store) InsertDetections(rows []model.Detection) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.CreateInBatches(rows, 100).Error
}

// InsertKeyFrame stores one key-frame record.
func (s *Store) InsertKeyFrame(kf model.KeyFrame) error {
	return s.db.Create(&kf).Error
}

// InsertMetricWindows bulk-inserts completed metric windows.
func (s *Store) InsertMetricWindows(rows []model.MetricWindow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.CreateInBatches(rows, 100).Error
}

// EnqueueSyncJob persists a new durable sync intent.
func (s *Store) EnqueueSyncJob(job model.SyncJob) error {
	return s.db.Create(&job).Error
}

// DueSyncJobs returns up to limit pending jobs whose NextAttemptTime has
// passed, ordered by priority then age, matching the sync worker's
// dispatch order (KeyFrame < Detection < MetricWindow, then oldest first).
func (s *Store) DueSyncJobs(now time.Time, limit int) ([]model.SyncJob, error) {
	var jobs []model.SyncJob
	err := s.db.
		Where("status IN ? AND next_attempt_time <= ?", []model.SyncStatus{model.SyncPending, model.SyncFailed}, now).
		Order("priority ASC, created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("query due sync jobs: %w", err)
	}
	return jobs, nil
}

// UpdateSyncJob persists a job's post-attempt state.
func (s *Store) UpdateSyncJob(job model.SyncJob) error {
	return s.db.Save(&job).Error
}

// DeleteSyncedBefore removes sync jobs completed before cutoff, per the
// retention policy's short-lived sync-job cleanup.
func (s *Store) DeleteSyncedBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("status = ? AND updated_at < ?", model.SyncCompleted, cutoff).Delete(&model.SyncJob{})
	return res.RowsAffected, res.Error
}

// DeleteUnsyncedFailedBefore removes permanently-failed jobs (exhausted
// retries) older than cutoff. Jobs still pending/processing are never
// touched here: the retention policy must not delete data that hasn't
// synced yet.
func (s *Store) DeleteUnsyncedFailedBefore(cutoff time.Time, maxAttempts int) (int64, error) {
	res := s.db.Where("status = ? AND attempt_count >= ? AND created_at < ?", model.SyncFailed, maxAttempts, cutoff).Delete(&model.SyncJob{})
	return res.RowsAffected, res.Error
}

// DeleteDetectionsBefore removes synced detection rows older than cutoff.
func (s *Store) DeleteDetectionsBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ? AND sync_flag = ?", cutoff, true).Delete(&model.Detection{})
	return res.RowsAffected, res.Error
}

// DeleteKeyFramesBefore removes synced key-frame rows older than cutoff.
func (s *Store) DeleteKeyFramesBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ? AND sync_flag = ?", cutoff, true).Delete(&model.KeyFrame{})
	return res.RowsAffected, res.Error
}

// DeleteMetricWindowsBefore removes synced metric-window rows older than
// cutoff.
func (s *Store) DeleteMetricWindowsBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("window_start < ? AND sync_flag = ?", cutoff, true).Delete(&model.MetricWindow{})
	return res.RowsAffected, res.Error
}

// Vacuum reclaims space freed by retention deletes and refreshes the query
// planner's statistics.
func (s *Store) Vacuum() error {
	if err := s.db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return s.db.Exec("ANALYZE").Error
}

// Cameras returns all configured cameras.
func (s *Store) Cameras() ([]model.Camera, error) {
	var cams []model.Camera
	err := s.db.Find(&cams).Error
	return cams, err
}

// UpsertCamera creates or updates a camera's configuration row.
func (s *Store) UpsertCamera(cam model.Camera) error {
	return s.db.Save(&cam).Error
}
