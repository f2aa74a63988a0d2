// Package inference wraps the shared ONNX Runtime session (spec C4). Only
// one onnxruntime_go environment may be initialized per process, so Manager
// guards lazy, reference-counted session construction with a sync.Cond the
// same way the teacher's jpeg.SessionManager guards its single shared
// turbojpeg Session (internal/driver/jpeg/manager.go), generalized from one
// fixed source to any named model.
package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/warpcomdev/edgevisiond/internal/pool"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// Errors returned by Manager.
var (
	ErrManagerClosed = fmt.Errorf("inference manager has been closed")
)

// Detection is one bounding box produced by the detector model.
type Detection struct {
	ClassID    int
	Label      string
	Confidence float32
	X1, Y1     float32
	X2, Y2     float32
}

// Model identifies one of the two shared sessions the pipeline runs:
// object detection and scene description.
type Model string

const (
	ModelDetector    Model = "detector"
	ModelDescription Model = "description"
)

// session wraps one onnxruntime_go advanced session plus its fixed
// input/output tensors, reused across calls to avoid per-frame allocation.
type session struct {
	name    Model
	ort     *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
}

// Manager lazily builds one session per Model name and tears it down when
// the last user releases it. A single runMu serializes every Run call
// across every model: inference is sequential across the whole process, not
// just within one model, because running the detector and description
// sessions concurrently was observed to exceed the host's physical memory.
type Manager struct {
	pool *pool.Pool
	log  servicelog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	sessions map[Model]*session
	users    map[Model]int
	runMu    sync.Mutex
	closed   bool
	onceInit sync.Once
	libPath  string
}

// NewManager builds an inference Manager. libPath is the onnxruntime shared
// library location, forwarded to ort.SetSharedLibraryPath on first use.
func NewManager(libPath string, p *pool.Pool, log servicelog.Logger) *Manager {
	m := &Manager{
		pool:     p,
		log:      log,
		sessions: make(map[Model]*session),
		users:    make(map[Model]int),
		libPath:  libPath,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Manager) ensureEnv() error {
	var initErr error
	m.onceInit.Do(func() {
		if m.libPath != "" {
			ort.SetSharedLibraryPath(m.libPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// ModelSpec describes how to build the backing ONNX session for a Model.
type ModelSpec struct {
	Path        string
	InputShape  ort.Shape
	OutputShape ort.Shape
	InputNames  []string
	OutputNames []string
	Labels      []string
}

// Acquire returns the shared session for name, building it (and warming it
// up with one forward pass) on first use. Callers must call Release when
// done. Mirrors SessionManager.Acquire's start-on-first-use, count-users
// shape.
func (m *Manager) Acquire(name Model, spec ModelSpec) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if err := m.ensureEnv(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	if _, ok := m.sessions[name]; !ok {
		sess, err := m.build(name, spec)
		if err != nil {
			return nil, err
		}
		m.sessions[name] = sess
		if err := m.warmup(sess); err != nil {
			m.log.Warn("warm-up forward pass failed", servicelog.String("model", string(name)), servicelog.Error(err))
		}
	}
	m.users[name]++
	return m.sessions[name], nil
}

func (m *Manager) build(name Model, spec ModelSpec) (*session, error) {
	input, err := ort.NewEmptyTensor[float32](spec.InputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor for %s: %w", name, err)
	}
	output, err := ort.NewEmptyTensor[float32](spec.OutputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor for %s: %w", name, err)
	}
	advanced, err := ort.NewAdvancedSession(spec.Path, spec.InputNames, spec.OutputNames,
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("build session for %s: %w", name, err)
	}
	return &session{name: name, ort: advanced, input: input, output: output, labels: spec.Labels}, nil
}

func (m *Manager) warmup(s *session) error {
	return s.ort.Run()
}

// Release decrements the session's reference count and tears it down once
// no callers remain.
func (m *Manager) Release(name Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[name]--
	if m.users[name] > 0 {
		return
	}
	if sess, ok := m.sessions[name]; ok {
		sess.ort.Destroy()
		sess.input.Destroy()
		sess.output.Destroy()
		delete(m.sessions, name)
		delete(m.users, name)
	}
	m.cond.Broadcast()
}

// Run copies pixels into the session's input tensor, executes one forward
// pass under the Manager's single shared runMu, and returns a copy of the
// output tensor's data. The lock is shared across every model name, so a
// detector Run and a description Run can never overlap. ctx is observed
// only for cancellation bookkeeping; onnxruntime_go's Run call itself is not
// cancellable mid-flight.
func (m *Manager) Run(ctx context.Context, name Model, pixels []float32) ([]float32, error) {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("model %s not acquired", name)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	copy(sess.input.GetData(), pixels)
	if err := sess.ort.Run(); err != nil {
		return nil, fmt.Errorf("run %s session: %w", name, err)
	}
	out := sess.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// Close destroys all remaining sessions and the shared environment.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for name, sess := range m.sessions {
		sess.ort.Destroy()
		sess.input.Destroy()
		sess.output.Destroy()
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	ort.DestroyEnvironment()
}

// DecodeDetections interprets a flat detector output tensor as a sequence of
// fixed-stride records (x1, y1, x2, y2, confidence, class id; box
// coordinates normalized to [0,1]) and returns the records scoring at least
// minConfidence. The exact detector output layout is opaque per the model's
// catalog entry (model artifacts are out of scope); this stride matches the
// single-output binding Manager.Run hands back.
func DecodeDetections(output []float32, labels []string, minConfidence float32) []Detection {
	const stride = 6
	dets := make([]Detection, 0, len(output)/stride)
	for i := 0; i+stride <= len(output); i += stride {
		conf := output[i+4]
		if conf < minConfidence {
			continue
		}
		classID := int(output[i+5])
		label := "unknown"
		if classID >= 0 && classID < len(labels) {
			label = labels[classID]
		}
		dets = append(dets, Detection{
			ClassID:    classID,
			Label:      label,
			Confidence: conf,
			X1:         output[i],
			Y1:         output[i+1],
			X2:         output[i+2],
			Y2:         output[i+3],
		})
	}
	return dets
}
