// Package keyframe runs the per-camera key-frame pipeline (spec C6): gate on
// a time interval, describe the scene, L2-normalize the describer's
// embedding with gonum (the vector is normalized as returned; no pooling is
// applied), and hand the frame to the compressor for a thumbnail. The
// per-camera gate and single-flight processing shape follows the teacher's
// per-source state machines (internal/driver/camera), generalized from
// connection-state tracking to a time-gated processing decision.
package keyframe

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/warpcomdev/edgevisiond/internal/compress"
	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/ring"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// Interval is the minimum spacing between processed key frames for a
// single camera, per spec §4.6.
const Interval = 10 * time.Second

// Describer produces a natural-language scene description and an
// unnormalized embedding vector for a decoded frame.
type Describer interface {
	Describe(ctx context.Context, img image.Image) (text string, embedding []float32, err error)
}

// Gate decides, per camera, whether a frame should go through the
// expensive description+embedding path, and performs that path when it
// does.
type Gate struct {
	CameraID  string
	describer Describer
	log       servicelog.Logger

	mu       sync.Mutex
	lastRun  time.Time
}

// NewGate builds a key-frame Gate for one camera.
func NewGate(cameraID string, describer Describer, log servicelog.Logger) *Gate {
	return &Gate{
		CameraID:  cameraID,
		describer: describer,
		log:       log.With(servicelog.String("camera", cameraID)),
	}
}

// Admit reports whether now is far enough past the last processed key
// frame to admit another, and if so records now as the new high-water
// mark. The gate advances as soon as a frame is admitted: a frame whose
// later key-frame processing or persistence fails still counts against the
// interval, and the next frame is not admitted until Interval has passed.
func (g *Gate) Admit(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now.Sub(g.lastRun) < Interval {
		return false
	}
	g.lastRun = now
	return true
}

// Process runs the full key-frame path on an admitted frame: describe,
// normalize the embedding, and compress a thumbnail. Per spec §4.6 edge
// cases, a description failure still produces a KeyFrame record (with
// DescriptionFailed set) rather than dropping the frame, and a thumbnail
// that can't be fit is recorded with an empty Thumbnail rather than
// blocking the pipeline.
func (g *Gate) Process(ctx context.Context, frame *ring.Frame, img image.Image, peopleCount int, objectLabels []string) (model.KeyFrame, error) {
	start := time.Now()
	kf := model.KeyFrame{
		ID:          uuid.NewString(),
		CameraID:    g.CameraID,
		FrameNumber: frame.Raw.FrameNumber,
		Timestamp:   frame.Raw.CapturedAt,
		PeopleCount: peopleCount,
	}

	if labels, err := json.Marshal(objectLabels); err == nil {
		kf.ObjectLabels = string(labels)
	}

	text, embedding, err := g.describer.Describe(ctx, img)
	if err != nil {
		g.log.Warn("scene description failed", servicelog.Error(err))
		kf.DescriptionFailed = true
	} else {
		kf.Description = text
		if len(embedding) > 0 {
			normalized := normalize(embedding)
			kf.Embedding = encodeEmbedding(normalized)
		}
	}

	result, err := compress.Thumbnail(img, compress.DefaultOptions())
	if err != nil {
		g.log.Warn("thumbnail encode failed", servicelog.Error(err))
	} else {
		kf.Thumbnail = result.Data
	}

	kf.ProcessingLatencyMS = int(time.Since(start).Milliseconds())
	return kf, nil
}

// normalize returns a copy of v scaled to unit L2 norm, using gonum/floats
// for the norm and scale operations.
func normalize(v []float32) []float32 {
	f64 := make([]float64, len(v))
	for i, x := range v {
		f64[i] = float64(x)
	}
	norm := floats.Norm(f64, 2)
	if norm == 0 {
		return v
	}
	floats.Scale(1/norm, f64)
	out := make([]float32, len(v))
	for i, x := range f64 {
		out[i] = float32(x)
	}
	return out
}

// encodeEmbedding serializes a []float32 to a little-endian byte slice for
// storage, matching model.KeyFrame.Embedding's documented format.
func encodeEmbedding(v []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, x := range v {
		bits := math.Float32bits(x)
		buf.WriteByte(byte(bits))
		buf.WriteByte(byte(bits >> 8))
		buf.WriteByte(byte(bits >> 16))
		buf.WriteByte(byte(bits >> 24))
	}
	return buf.Bytes()
}
