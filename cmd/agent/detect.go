package main

import (
	"context"
	"fmt"
	"time"

	"github.com/warpcomdev/edgevisiond/internal/batch"
	"github.com/warpcomdev/edgevisiond/internal/capture"
	"github.com/warpcomdev/edgevisiond/internal/inference"
	"github.com/warpcomdev/edgevisiond/internal/keyframe"
	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/preprocess"
	"github.com/warpcomdev/edgevisiond/internal/ring"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

const (
	detectorInputSize     = 640
	descriptionInputSize  = 384
	detectionConfidence   = float32(0.5)
	maxDetectionsPerFrame = 100
)

// detectorLabels is a placeholder default label set standing in for a
// model catalog file: model artifacts (and their associated label lists)
// are out of scope, so the pipeline ships one fixed class list broad enough
// to exercise the full detection -> aggregation -> sync path.
var detectorLabels = []string{
	"person", "bicycle", "car", "motorcycle", "bus", "truck",
	"dog", "cat", "backpack", "handbag",
}

// consumeRing repeatedly takes the newest frame from cam's ring buffer and
// submits it into its batch scheduler until ctx is cancelled. Each Take
// also discards the older frames resident at that moment, so only the
// newest frame of each take reaches the scheduler.
func (p *Pipeline) consumeRing(ctx context.Context, cam *cameraRuntime) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f, ok := cam.ring.Take(ctx, 2*time.Second)
		if !ok {
			continue
		}
		cam.scheduler.Submit(f)
	}
}

// consumeBatches ranges over cam's delivered batches and runs each through
// the detection/description/persistence path until the scheduler's output
// channel closes.
func (p *Pipeline) consumeBatches(ctx context.Context, cam *cameraRuntime) {
	for b := range cam.scheduler.Batches() {
		for _, f := range b.Frames {
			p.processFrame(ctx, cam, f)
		}
	}
}

// processFrame runs one frame through detection, optional key-frame
// description, persistence, and aggregation, then returns its buffer to the
// pool.
func (p *Pipeline) processFrame(ctx context.Context, cam *cameraRuntime, f *ring.Frame) {
	start := time.Now()
	defer p.pool.Return(f.Buffer)

	img := preprocess.FromBGR24(f.Buffer, f.Raw.Width, f.Raw.Height)
	tensor := preprocess.CHWTensor(img, detectorInputSize)

	out, err := p.inference.Run(ctx, inference.ModelDetector, tensor)
	if err != nil {
		p.log.Error("detector run failed", servicelog.Error(err), servicelog.String("camera", cam.id))
		p.aggregate.Observe(cam.id, f.Raw.CapturedAt, 0, 0, nil, float64(time.Since(start).Milliseconds()), false, true)
		return
	}
	dets := inference.DecodeDetections(out, detectorLabels, detectionConfidence)

	rows := make([]model.Detection, 0, len(dets))
	for _, d := range dets {
		rows = append(rows, model.Detection{
			ClassID:     d.ClassID,
			Label:       d.Label,
			Confidence:  d.Confidence,
			BBoxX1:      d.X1,
			BBoxY1:      d.Y1,
			BBoxX2:      d.X2,
			BBoxY2:      d.Y2,
			CameraID:    cam.id,
			FrameNumber: f.Raw.FrameNumber,
			Timestamp:   f.Raw.CapturedAt,
		})
	}
	if len(rows) > 0 {
		if err := p.store.InsertDetections(rows); err != nil {
			p.log.Error("detection persist failed", servicelog.Error(err))
		} else {
			for _, d := range rows {
				p.enqueueSync(model.EntityDetection, fmt.Sprintf("%s|%d|%s", d.CameraID, d.FrameNumber, d.Label), model.PriorityDetection)
			}
		}
	}

	people, vehicles, others := summarizeClasses(dets)
	isKeyFrame := false

	if cam.gate.Admit(f.Raw.CapturedAt) {
		labels := objectLabels(dets)
		kf, err := cam.gate.Process(ctx, f, img, people, labels)
		if err != nil {
			p.log.Error("key-frame processing failed", servicelog.Error(err), servicelog.String("camera", cam.id))
		} else {
			if err := p.store.InsertKeyFrame(kf); err != nil {
				p.log.Error("key-frame persist failed", servicelog.Error(err))
			} else {
				p.enqueueSync(model.EntityKeyFrame, kf.ID, model.PriorityKeyFrame)
				isKeyFrame = true
			}
		}
	}

	p.aggregate.Observe(cam.id, f.Raw.CapturedAt, people, vehicles, others, float64(time.Since(start).Milliseconds()), isKeyFrame, false)
}

// summarizeClasses reduces a frame's detections into the person/vehicle/
// other-class counts the metric window aggregator expects.
func summarizeClasses(dets []inference.Detection) (people, vehicles int, others map[string]int) {
	others = make(map[string]int)
	for _, d := range dets {
		switch d.Label {
		case "person":
			people++
		case "car", "truck", "bus", "motorcycle", "bicycle":
			vehicles++
		default:
			others[d.Label]++
		}
	}
	return people, vehicles, others
}

// objectLabels returns the distinct detected class labels for a frame, in
// first-seen order.
func objectLabels(dets []inference.Detection) []string {
	seen := make(map[string]bool, len(dets))
	labels := make([]string, 0, len(dets))
	for _, d := range dets {
		if seen[d.Label] {
			continue
		}
		seen[d.Label] = true
		labels = append(labels, d.Label)
	}
	return labels
}

// cameraRuntime bundles one camera's per-stage runtime objects: the ring it
// is captured into, the batch scheduler that feeds the detector, and the
// key-frame gate that runs the description path.
type cameraRuntime struct {
	id        string
	ring      *ring.Buffer
	scheduler *batch.Scheduler
	gate      *keyframe.Gate
	source    *capture.Source
}
