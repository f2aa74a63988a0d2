// Package supervisor implements the stability supervisor (spec C11):
// watchdog heartbeats, a thermal governor, a cron-scheduled daily restart,
// periodic checkpointing, and a typed event bus. The event bus's
// non-blocking broadcast-with-drop is grounded on the pack's Tracker
// pub/sub (miface/pkg/miface/tracker.go: Subscribe() <-chan, drop-if-slow
// send); the daily restart uses robfig/cron/v3 in place of a hand-rolled
// "sleep until 3am" loop, since the corpus carries a real cron scheduler.
package supervisor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// EventKind identifies what a supervisor Event describes.
type EventKind string

const (
	EventWatchdogMiss    EventKind = "watchdog_miss"
	EventThermalThrottle EventKind = "thermal_throttle"
	EventThermalShutdown EventKind = "thermal_shutdown"
	EventDailyRestart    EventKind = "daily_restart"
	EventCheckpoint      EventKind = "checkpoint"
	EventCameraLiveness  EventKind = "camera_liveness"
)

// Event is one supervisor-observed occurrence.
type Event struct {
	Kind EventKind
	Time time.Time
	Data map[string]string
}

// Bus is a non-blocking pub/sub event bus: Publish never blocks on a slow
// subscriber, it drops the event for that subscriber instead, matching the
// pack's Tracker broadcast pattern.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus builds an empty event Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events plus an unsubscribe func.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			close(c)
			delete(b.subs, id)
		}
	}
}

// Publish delivers ev to every subscriber able to receive it immediately,
// dropping it for any subscriber whose channel is full.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ThermalConfig tunes the thermal governor's thresholds (spec §4.11).
type ThermalConfig struct {
	ThrottleC  float64
	ShutdownC  float64
	Hysteresis time.Duration
}

// DefaultThermalConfig returns the spec's default thresholds.
func DefaultThermalConfig() ThermalConfig {
	return ThermalConfig{ThrottleC: 70.0, ShutdownC: 75.0, Hysteresis: 60 * time.Second}
}

// Governor tracks CPU temperature and decides when to throttle or trigger
// shutdown. Throttle fires immediately at ThrottleC (a single hot sample is
// enough) but only lifts after a sustained Hysteresis below threshold, so a
// single cool sample can't flap the pipeline back to full load. Shutdown
// requires a sustained Hysteresis breach before firing, since it's a far
// more disruptive action than throttling.
type Governor struct {
	cfg ThermalConfig

	mu            sync.Mutex
	shutdownSince time.Time
	belowSince    time.Time
	throttled     bool
}

// NewGovernor builds a thermal Governor.
func NewGovernor(cfg ThermalConfig) *Governor {
	return &Governor{cfg: cfg}
}

// Observe feeds one temperature reading and reports whether the pipeline
// should currently be throttled, and whether an emergency shutdown should
// be triggered.
func (g *Governor) Observe(now time.Time, tempC float64) (throttle, shutdown bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tempC >= g.cfg.ShutdownC {
		if g.shutdownSince.IsZero() {
			g.shutdownSince = now
		}
		g.throttled = true
		g.belowSince = time.Time{}
		if now.Sub(g.shutdownSince) >= g.cfg.Hysteresis {
			return true, true
		}
		return true, false
	}
	g.shutdownSince = time.Time{}

	if tempC >= g.cfg.ThrottleC {
		g.throttled = true
		g.belowSince = time.Time{}
		return true, false
	}

	if !g.throttled {
		return false, false
	}
	if g.belowSince.IsZero() {
		g.belowSince = now
	}
	if now.Sub(g.belowSince) >= g.cfg.Hysteresis {
		g.throttled = false
		g.belowSince = time.Time{}
		return false, false
	}
	return true, false
}

// Watchdog expects a heartbeat at least every Timeout; MissedCheck reports
// whether the deadline has passed.
type Watchdog struct {
	mu       sync.Mutex
	lastBeat time.Time
	timeout  time.Duration
}

// NewWatchdog builds a Watchdog with the given heartbeat timeout.
func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{lastBeat: time.Now(), timeout: timeout}
}

// Beat records a heartbeat.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	w.lastBeat = time.Now()
	w.mu.Unlock()
}

// Missed reports whether the watchdog timeout has elapsed since the last
// heartbeat.
func (w *Watchdog) Missed(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastBeat) > w.timeout
}

// Checkpointer periodically persists a model.Checkpoint snapshot.
type Checkpointer struct {
	log      servicelog.Logger
	bus      *Bus
	snapshot func() model.Checkpoint
	persist  func(model.Checkpoint) error
}

// NewCheckpointer builds a Checkpointer. snapshot builds the current state;
// persist writes it durably (to the store or a sidecar file).
func NewCheckpointer(bus *Bus, log servicelog.Logger, snapshot func() model.Checkpoint, persist func(model.Checkpoint) error) *Checkpointer {
	return &Checkpointer{log: log, bus: bus, snapshot: snapshot, persist: persist}
}

// Run persists a checkpoint every interval until ctx is cancelled.
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp := c.snapshot()
			if err := c.persist(cp); err != nil {
				c.log.Error("checkpoint persist failed", servicelog.Error(err))
				continue
			}
			c.bus.Publish(Event{Kind: EventCheckpoint, Time: time.Now()})
		}
	}
}

// Supervisor wires the watchdog, thermal governor, daily restart cron, and
// checkpointer together against one event bus.
type Supervisor struct {
	Bus       *Bus
	Watchdog  *Watchdog
	Governor  *Governor
	log       servicelog.Logger
	cron      *cron.Cron
	onRestart func()
}

// New builds a Supervisor. onRestart is invoked at the daily restart slot
// (03:00 local, per spec §4.11); it should perform a graceful drain and
// re-exec or restart the service.
func New(log servicelog.Logger, watchdogTimeout time.Duration, thermal ThermalConfig, onRestart func()) *Supervisor {
	return &Supervisor{
		Bus:       NewBus(),
		Watchdog:  NewWatchdog(watchdogTimeout),
		Governor:  NewGovernor(thermal),
		log:       log,
		cron:      cron.New(),
		onRestart: onRestart,
	}
}

// Start schedules the daily restart job and begins running the cron
// scheduler.
func (s *Supervisor) Start() error {
	_, err := s.cron.AddFunc("0 3 * * *", func() {
		s.Bus.Publish(Event{Kind: EventDailyRestart, Time: time.Now()})
		if s.onRestart != nil {
			s.onRestart()
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight job.
func (s *Supervisor) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// MonitorWatchdog polls the watchdog every interval and publishes a
// watchdog-miss event when the heartbeat deadline passes.
func (s *Supervisor) MonitorWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Watchdog.Missed(time.Now()) {
				s.Bus.Publish(Event{Kind: EventWatchdogMiss, Time: time.Now()})
			}
		}
	}
}

// MonitorThermal feeds readFunc's output into the Governor on interval and
// publishes throttle/shutdown events as thresholds are crossed.
func (s *Supervisor) MonitorThermal(ctx context.Context, interval time.Duration, readFunc func() (float64, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tempC, err := readFunc()
			if err != nil {
				s.log.Warn("thermal read failed", servicelog.Error(err))
				continue
			}
			throttle, shutdown := s.Governor.Observe(time.Now(), tempC)
			if throttle {
				s.Bus.Publish(Event{Kind: EventThermalThrottle, Time: time.Now(), Data: map[string]string{"temp_c": formatTemp(tempC)}})
			}
			if shutdown {
				s.Bus.Publish(Event{Kind: EventThermalShutdown, Time: time.Now(), Data: map[string]string{"temp_c": formatTemp(tempC)}})
			}
		}
	}
}

func formatTemp(c float64) string {
	return strconv.FormatFloat(c, 'f', 1, 64)
}
