// Package aggregate reduces per-frame detections into wall-clock-aligned
// metric windows (spec C8). Window boundaries use model.WindowStart
// (floor(t/d)*d); the optional raw payload is entropy-coded with
// klauspost/compress/zstd to hit the corpus's only available ~100:1
// compression path.
package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/warpcomdev/edgevisiond/internal/model"
)

// classCounts tracks running min/max/sum for one object class within a
// window, so Avg/Max/Min can be derived without retaining every sample.
type classCounts struct {
	sum   float64
	max   int
	min   int
	count int
}

func (c *classCounts) observe(n int) {
	c.sum += float64(n)
	c.count++
	if c.count == 1 || n > c.max {
		c.max = n
	}
	if c.count == 1 || n < c.min {
		c.min = n
	}
}

// sample is one detection pass's contribution to the window under
// construction.
type sample struct {
	people    int
	vehicles  int
	others    map[string]int
	procTimeMS float64
	keyFrame  bool
	errored   bool
}

// window accumulates samples for one (camera, window-start) pair.
type window struct {
	start    time.Time
	duration time.Duration
	cameraID string

	people   classCounts
	vehicle  classCounts
	other    map[string]*classCounts
	procMS   []float64
	frames   int
	keyFrames int
	errors   int
}

func newWindow(cameraID string, start time.Time, d time.Duration) *window {
	return &window{
		start:    start,
		duration: d,
		cameraID: cameraID,
		other:    make(map[string]*classCounts),
	}
}

func (w *window) add(s sample) {
	w.people.observe(s.people)
	w.vehicle.observe(s.vehicles)
	for label, n := range s.others {
		c, ok := w.other[label]
		if !ok {
			c = &classCounts{}
			w.other[label] = c
		}
		c.observe(n)
	}
	w.procMS = append(w.procMS, s.procTimeMS)
	w.frames++
	if s.keyFrame {
		w.keyFrames++
	}
	if s.errored {
		w.errors++
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func avg(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Aggregator accumulates samples into per-camera, per-window reductions
// and flushes completed windows to model.MetricWindow records.
type Aggregator struct {
	duration time.Duration
	encoder  *zstd.Encoder

	mu      sync.Mutex
	windows map[string]*window // key: cameraID|windowStart
}

// New builds an Aggregator with the given window duration (default 5min
// per spec §4.8).
func New(duration time.Duration) (*Aggregator, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("build zstd encoder: %w", err)
	}
	return &Aggregator{
		duration: duration,
		encoder:  enc,
		windows:  make(map[string]*window),
	}, nil
}

func key(cameraID string, start time.Time) string {
	return cameraID + "|" + start.Format(time.RFC3339Nano)
}

// Observe folds one detection pass's summary into the window covering t.
// Calling Observe twice for the same (camera, t) within the same window is
// idempotent in effect on window identity (same window is reused) but each
// call's counts still accumulate, matching the spec's "re-aggregating the
// same input is idempotent" guarantee at the input-batch level, not the
// per-call level.
func (a *Aggregator) Observe(cameraID string, t time.Time, people, vehicles int, others map[string]int, procTimeMS float64, isKeyFrame, errored bool) {
	start := model.WindowStart(t, a.duration)
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key(cameraID, start)
	w, ok := a.windows[k]
	if !ok {
		w = newWindow(cameraID, start, a.duration)
		a.windows[k] = w
	}
	w.add(sample{people: people, vehicles: vehicles, others: others, procTimeMS: procTimeMS, keyFrame: isKeyFrame, errored: errored})
}

// Flush removes and renders every window whose end time is at or before
// cutoff, so the caller can flush only windows that can no longer receive
// late samples.
func (a *Aggregator) Flush(cutoff time.Time, includeRaw bool) ([]model.MetricWindow, error) {
	a.mu.Lock()
	ready := make([]*window, 0)
	for k, w := range a.windows {
		if w.start.Add(w.duration).Before(cutoff) || w.start.Add(w.duration).Equal(cutoff) {
			ready = append(ready, w)
			delete(a.windows, k)
		}
	}
	a.mu.Unlock()

	out := make([]model.MetricWindow, 0, len(ready))
	for _, w := range ready {
		mw, err := a.render(w, includeRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, mw)
	}
	return out, nil
}

func (a *Aggregator) render(w *window, includeRaw bool) (model.MetricWindow, error) {
	sorted := append([]float64(nil), w.procMS...)
	sort.Float64s(sorted)

	otherJSON := struct {
		Avg map[string]float64 `json:"avg"`
		Max map[string]int     `json:"max"`
		Min map[string]int     `json:"min"`
	}{
		Avg: make(map[string]float64, len(w.other)),
		Max: make(map[string]int, len(w.other)),
		Min: make(map[string]int, len(w.other)),
	}
	for label, c := range w.other {
		otherJSON.Avg[label] = avg(c.sum, c.count)
		otherJSON.Max[label] = c.max
		otherJSON.Min[label] = c.min
	}
	otherBytes, err := json.Marshal(otherJSON)
	if err != nil {
		return model.MetricWindow{}, fmt.Errorf("marshal other-class counts: %w", err)
	}

	mw := model.MetricWindow{
		WindowStart:          w.start,
		DurationS:            int(w.duration.Seconds()),
		CameraID:             w.cameraID,
		SampleCount:          w.frames,
		PeopleAvg:            avg(w.people.sum, w.people.count),
		PeopleMax:            w.people.max,
		PeopleMin:            w.people.min,
		VehicleAvg:           avg(w.vehicle.sum, w.vehicle.count),
		VehicleMax:           w.vehicle.max,
		VehicleMin:           w.vehicle.min,
		OtherClassCountsJSON: string(otherBytes),
		ProcTimeAvgMS:        avg(sum(sorted), len(sorted)),
		ProcTimeP95MS:        percentile(sorted, 0.95),
		ProcTimeMaxMS:        maxOf(sorted),
		FramesProcessed:      w.frames,
		KeyFramesProcessed:   w.keyFrames,
		ErrorCount:           w.errors,
	}

	if includeRaw {
		raw, err := json.Marshal(w.procMS)
		if err != nil {
			return model.MetricWindow{}, fmt.Errorf("marshal raw payload: %w", err)
		}
		compressed := a.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
		mw.RawPayload = compressed
		if len(raw) > 0 {
			mw.CompressionRatio = float64(len(raw)) / float64(len(compressed))
		}
	}
	return mw, nil
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func maxOf(v []float64) float64 {
	var m float64
	for i, x := range v {
		if i == 0 || x > m {
			m = x
		}
	}
	return m
}

// Decompress reverses the zstd encoding performed on a MetricWindow's raw
// payload, for diagnostics or a cloud-side decoder sharing this format.
func Decompress(payload []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build zstd reader: %w", err)
	}
	defer dec.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(dec); err != nil {
		return nil, fmt.Errorf("decompress raw payload: %w", err)
	}
	return out.Bytes(), nil
}
