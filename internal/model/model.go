// Package model defines the entities shared across the edge pipeline.
// Entities reference each other by identifier, never by pointer, so that
// stages can hand them across goroutine boundaries without sharing memory.
package model

import "time"

// CameraStatus is the connection state of a camera.
type CameraStatus string

const (
	CameraDisconnected CameraStatus = "disconnected"
	CameraConnecting   CameraStatus = "connecting"
	CameraConnected    CameraStatus = "connected"
	CameraFailed       CameraStatus = "failed"
	CameraReconnecting CameraStatus = "reconnecting"
)

// Camera is a configured video source.
type Camera struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	StreamURI        string
	SubstreamURI     string
	Credentials      string // opaque; the store layer saves it as given, unencrypted
	Enabled          bool
	FrameIntervalMS  int
	KeyFrameIntervalS int
	Status           CameraStatus
	LastConnected    time.Time
	RetryCount       int
}

// Detection is an immutable object-detection record.
type Detection struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	ClassID      int
	Label        string
	Confidence   float32
	BBoxX1       float32
	BBoxY1       float32
	BBoxX2       float32
	BBoxY2       float32
	CameraID     string `gorm:"index:idx_det_camera_ts"`
	FrameNumber  uint64
	Timestamp    time.Time `gorm:"index:idx_det_camera_ts"`
	KeyFrameID   string    // optional
	SyncFlag     bool      `gorm:"index:idx_det_sync"`
}

// KeyFrame is a compressed thumbnail plus a scene description.
type KeyFrame struct {
	ID                 string `gorm:"primaryKey"`
	CameraID            string `gorm:"index:idx_kf_camera_ts"`
	FrameNumber         uint64
	Timestamp           time.Time `gorm:"index:idx_kf_camera_ts"`
	Thumbnail           []byte
	Description         string
	DescriptionFailed   bool
	Embedding           []byte // serialized []float32, L2-normalized
	PeopleCount         int
	ObjectLabels        string // JSON array
	ProcessingLatencyMS int
	SyncFlag            bool `gorm:"index:idx_kf_sync"`
	LastSyncAttempt     time.Time
	LocationID          string
}

// RawFrame is the metadata half of one captured video frame. The pixel
// buffer itself is pool-owned and lives alongside this value in whichever
// stage (ring, batch, inference) currently holds the frame; RawFrame never
// carries a pointer into that buffer so it can be copied freely between
// goroutines while the buffer's lifetime is tracked separately.
type RawFrame struct {
	CameraID          string
	FrameNumber       uint64
	CapturedAt        time.Time
	Width             int
	Height            int
	KeyFrameCandidate bool
}

// ResourceSample is a point-in-time system-resource reading.
type ResourceSample struct {
	CPUPercent float64
	CPUTempC   float64
	MemoryMB   float64
}

// MetricWindow is a 5-min (by default) reduction of detections for a camera.
type MetricWindow struct {
	ID                  uint64 `gorm:"primaryKey;autoIncrement"`
	WindowStart         time.Time `gorm:"index:idx_mw_camera_start"`
	DurationS           int
	CameraID            string `gorm:"index:idx_mw_camera_start"`
	SampleCount         int
	PeopleAvg           float64
	PeopleMax           int
	PeopleMin           int
	VehicleAvg          float64
	VehicleMax          int
	VehicleMin          int
	OtherClassCountsJSON string // JSON {"avg":{label:float},"max":{label:int},"min":{label:int}}
	ProcTimeAvgMS       float64
	ProcTimeP95MS       float64
	ProcTimeMaxMS       float64
	FramesProcessed     int
	KeyFramesProcessed  int
	ErrorCount          int
	ResourceCPUPercent  float64
	ResourceCPUTempC    float64
	ResourceMemoryMB    float64
	RawPayload          []byte // optional, zstd-compressed; set whenever the window is flushed with raw payloads enabled, and not dropped under sync-queue pressure
	CompressionRatio    float64
	SyncFlag            bool `gorm:"index:idx_mw_sync"`
}

// SyncEntityKind identifies which table a SyncJob refers to.
type SyncEntityKind string

const (
	EntityDetection   SyncEntityKind = "Detection"
	EntityKeyFrame    SyncEntityKind = "KeyFrame"
	EntityMetricWindow SyncEntityKind = "MetricWindow"
)

// SyncOperation is the intent carried by a SyncJob.
type SyncOperation string

const (
	OpCreate SyncOperation = "create"
	OpUpdate SyncOperation = "update"
	OpDelete SyncOperation = "delete"
)

// SyncStatus is the lifecycle state of a SyncJob.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// Priority ordering: lower values are delivered earlier.
const (
	PriorityKeyFrame    = 0
	PriorityDetection   = 1
	PriorityMetricWindow = 2
)

// SyncJob is a durable at-least-once delivery intent.
type SyncJob struct {
	ID              string         `gorm:"primaryKey"`
	EntityKind      SyncEntityKind `gorm:"index:idx_sync_dispatch"`
	EntityID        string
	Operation       SyncOperation
	Payload         []byte
	PayloadSize     int
	Status          SyncStatus `gorm:"index:idx_sync_dispatch"`
	AttemptCount    int
	MaxAttempts     int
	LastError       string
	LastAttemptTime time.Time
	NextAttemptTime time.Time `gorm:"index:idx_sync_dispatch"`
	Priority        int       `gorm:"index:idx_sync_dispatch"`
	BatchID         string
	Expiry          time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PerCameraState is a checkpointed snapshot of one camera's counters.
type PerCameraState struct {
	CameraID          string
	LastFrameNumber   uint64
	LastKeyFrameTime  time.Time
	RestartCount      int
	Status            CameraStatus
}

// Checkpoint is the supervisor's periodic durable snapshot.
type Checkpoint struct {
	Timestamp      time.Time
	UptimeSeconds  float64
	RestartCount   int
	LastError      string
	Cameras        []PerCameraState
	PipelineCounts map[string]uint64
	Extensions     map[string]string
}

// WindowStart returns the aligned window boundary for t given duration d,
// per spec: floor(t/d)*d.
func WindowStart(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	unix := t.UnixNano()
	step := d.Nanoseconds()
	floored := (unix / step) * step
	return time.Unix(0, floored).UTC()
}
