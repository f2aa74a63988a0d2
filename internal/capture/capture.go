// Package capture isolates RTSP decoding in an ffmpeg subprocess (spec C3),
// the same subprocess-isolation shape as the pack's CVFrameExtractor: launch
// a decoder via os/exec, read fixed-size raw frames off its stdout pipe, and
// restart it with backoff whenever it exits or stalls.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/pool"
	"github.com/warpcomdev/edgevisiond/internal/ring"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// State is the lifecycle of one camera's capture subprocess.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

const (
	frameWidth  = 640
	frameHeight = 480
	bytesPerPx  = 3 // 24-bit BGR
	frameBytes  = frameWidth * frameHeight * bytesPerPx

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second

	// silenceDegraded is how long a running subprocess can go without
	// delivering a frame before the camera is considered degraded, per
	// T_silence.
	silenceDegraded = 15 * time.Second
	// silenceRestart is how long a degraded subprocess can stay silent
	// before it is killed and restarted, per T_silence x 2.
	silenceRestart = 2 * silenceDegraded
	// silencePollInterval bounds how promptly a silence timeout is
	// detected; it only affects detection latency, not the thresholds
	// themselves.
	silencePollInterval = 250 * time.Millisecond

	// cleanRunReset is how long a subprocess must run without needing a
	// silence-triggered restart before backoff resets to initialBackoff.
	cleanRunReset = 5 * time.Minute

	// restartWindow and maxRestartsInWindow bound how many restarts a
	// camera may accumulate before it is given up on as StateFailed.
	restartWindow       = 10 * time.Minute
	maxRestartsInWindow = 5
)

// Source captures one camera's RTSP stream into a ring buffer.
type Source struct {
	CameraID  string
	StreamURI string

	pool *pool.Pool
	ring *ring.Buffer
	log  servicelog.Logger

	ffmpegPath string

	mu          sync.Mutex
	state       State
	frameNum    uint64
	restarts    int
	lastError   error
	lastFrameAt time.Time
	restartLog  []time.Time
}

// New builds a capture Source for one camera. ffmpegPath is the decoder
// binary (configurable so tests can substitute a fake); r is the ring
// buffer frames are pushed into; p rents the pixel buffers.
func New(cameraID, streamURI, ffmpegPath string, p *pool.Pool, r *ring.Buffer, log servicelog.Logger) *Source {
	return &Source{
		CameraID:   cameraID,
		StreamURI:  streamURI,
		ffmpegPath: ffmpegPath,
		pool:       p,
		ring:       r,
		log:        log.With(servicelog.String("camera", cameraID)),
		state:      StateStarting,
	}
}

// State returns the current subprocess lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the capture loop until ctx is cancelled, restarting the
// decoder subprocess with exponential backoff (1s doubling to a 60s cap) on
// every exit or silence timeout, per spec §4.3. After 5 restarts within a
// 10-minute window the camera is given up on and transitions to
// StateFailed; backoff resets to initialBackoff once a run has stayed clean
// for cleanRunReset.
func (s *Source) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			s.setState(StateFailed)
			return
		default:
		}

		if s.tooManyRestarts(time.Now()) {
			s.setState(StateFailed)
			s.log.Error("too many restarts within window, giving up")
			return
		}

		s.setState(StateStarting)
		runStart := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.setState(StateFailed)
			return
		}

		restartedAt := time.Now()
		s.recordRestart(restartedAt)
		if restartedAt.Sub(runStart) >= cleanRunReset {
			backoff = initialBackoff
		}

		s.mu.Lock()
		s.restarts++
		s.lastError = err
		s.mu.Unlock()
		s.log.Warn("capture subprocess exited, restarting", servicelog.Error(err), servicelog.Duration("backoff", backoff))

		s.setState(StateRestarting)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			s.setState(StateFailed)
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// recordRestart appends a restart timestamp and prunes entries that have
// fallen outside restartWindow as of t.
func (s *Source) recordRestart(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartLog = append(s.restartLog, t)
	cutoff := t.Add(-restartWindow)
	pruned := s.restartLog[:0]
	for _, rt := range s.restartLog {
		if rt.After(cutoff) {
			pruned = append(pruned, rt)
		}
	}
	s.restartLog = pruned
}

// tooManyRestarts reports whether restartLog holds at least
// maxRestartsInWindow entries within restartWindow of now.
func (s *Source) tooManyRestarts(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-restartWindow)
	count := 0
	for _, rt := range s.restartLog {
		if rt.After(cutoff) {
			count++
		}
	}
	return count >= maxRestartsInWindow
}

// runOnce launches one ffmpeg subprocess and reads frames from it until it
// exits, goes silent for silenceRestart, or ctx is cancelled. It returns the
// reason the subprocess stopped.
func (s *Source) runOnce(ctx context.Context) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := []string{
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", s.StreamURI,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", frameWidth, frameHeight),
		"pipe:1",
	}
	cmd := exec.CommandContext(attemptCtx, s.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	var stderrBuf diagBuffer
	go stderrBuf.drain(stderr)

	s.mu.Lock()
	s.lastFrameAt = time.Now()
	s.mu.Unlock()
	s.setState(StateRunning)

	silenceDone := make(chan struct{})
	go func() {
		defer close(silenceDone)
		s.monitorSilence(attemptCtx, cancel)
	}()

	readErr := s.readFrames(attemptCtx, bufio.NewReaderSize(stdout, frameBytes*2))
	cancel()
	<-silenceDone

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if readErr != nil {
		return fmt.Errorf("%w (stderr: %s)", readErr, stderrBuf.String())
	}
	if attemptCtx.Err() != nil {
		return fmt.Errorf("stream silent for %s, forcing restart (stderr: %s)", silenceRestart, stderrBuf.String())
	}
	if waitErr != nil {
		return fmt.Errorf("decoder exited: %w (stderr: %s)", waitErr, stderrBuf.String())
	}
	return fmt.Errorf("decoder exited cleanly")
}

// monitorSilence watches for frame silence independent of whether the
// subprocess itself is still alive: a stream can stall (e.g. a frozen RTSP
// session) without the decoder process ever exiting. It transitions
// running -> degraded at silenceDegraded, then cancels the attempt at
// silenceRestart so Run can launch a fresh subprocess.
func (s *Source) monitorSilence(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(silencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			elapsed := time.Since(s.lastFrameAt)
			cur := s.state
			s.mu.Unlock()

			switch {
			case elapsed >= silenceRestart:
				s.setState(StateRestarting)
				cancel()
				return
			case elapsed >= silenceDegraded:
				if cur == StateRunning {
					s.setState(StateDegraded)
				}
			}
		}
	}
}

// readFrames pulls fixed-size raw frames from r and pushes them into the
// ring until EOF, an error, or ctx cancellation.
func (s *Source) readFrames(ctx context.Context, r *bufio.Reader) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		buf := s.pool.Rent(frameBytes)
		if _, err := io.ReadFull(r, buf); err != nil {
			s.pool.Return(buf)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		now := time.Now()
		s.mu.Lock()
		s.frameNum++
		num := s.frameNum
		s.lastFrameAt = now
		wasDegraded := s.state == StateDegraded
		if wasDegraded {
			s.state = StateRunning
		}
		s.mu.Unlock()

		f := &ring.Frame{
			Raw: model.RawFrame{
				CameraID:    s.CameraID,
				FrameNumber: num,
				CapturedAt:  now,
				Width:       frameWidth,
				Height:      frameHeight,
			},
			Buffer:   buf,
			Captured: now,
		}
		s.ring.Push(f)
	}
}

// diagBuffer accumulates stderr text for inclusion in restart diagnostics.
type diagBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (d *diagBuffer) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d.mu.Lock()
		if len(d.buf) > 4096 {
			d.buf = d.buf[len(d.buf)-4096:]
		}
		d.buf = append(d.buf, scanner.Bytes()...)
		d.buf = append(d.buf, '\n')
		d.mu.Unlock()
	}
}

func (d *diagBuffer) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}
