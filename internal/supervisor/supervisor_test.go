package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernorThrottlesImmediatelyOnCrossingThreshold(t *testing.T) {
	g := NewGovernor(ThermalConfig{ThrottleC: 70, ShutdownC: 75, Hysteresis: time.Minute})
	base := time.Now()

	throttle, shutdown := g.Observe(base, 71)
	assert.True(t, throttle, "should report hot immediately, with no hysteresis delay on entry")
	assert.False(t, shutdown)

	throttle, shutdown = g.Observe(base.Add(30*time.Second), 71)
	assert.True(t, throttle)
	assert.False(t, shutdown)
}

func TestGovernorLiftsThrottleOnlyAfterSustainedCooldown(t *testing.T) {
	g := NewGovernor(ThermalConfig{ThrottleC: 70, ShutdownC: 75, Hysteresis: time.Minute})
	base := time.Now()

	throttle, _ := g.Observe(base, 72)
	assert.True(t, throttle)

	throttle, shutdown := g.Observe(base.Add(time.Second), 50)
	assert.True(t, throttle, "a brief dip below threshold should not lift throttle yet")
	assert.False(t, shutdown)

	throttle, shutdown = g.Observe(base.Add(61*time.Second), 50)
	assert.False(t, throttle, "throttle should lift once the cooldown has been sustained")
	assert.False(t, shutdown)
}

func TestGovernorRampThroughThrottleBeforeShutdown(t *testing.T) {
	g := NewGovernor(ThermalConfig{ThrottleC: 70, ShutdownC: 75, Hysteresis: time.Minute})
	base := time.Now()

	throttle, shutdown := g.Observe(base, 72)
	assert.True(t, throttle, "a rapid ramp through the throttle threshold must still emit a throttle event")
	assert.False(t, shutdown)

	throttle, shutdown = g.Observe(base.Add(time.Second), 76)
	assert.True(t, throttle)
	assert.False(t, shutdown, "shutdown still requires a sustained breach")
}

func TestGovernorShutsDownAfterSustainedBreach(t *testing.T) {
	g := NewGovernor(ThermalConfig{ThrottleC: 70, ShutdownC: 75, Hysteresis: time.Minute})
	base := time.Now()

	g.Observe(base, 80)
	_, shutdown := g.Observe(base.Add(61*time.Second), 80)
	assert.True(t, shutdown)
}

func TestGovernorShutdownBreachResetsIfTempDropsBeforeSustained(t *testing.T) {
	g := NewGovernor(ThermalConfig{ThrottleC: 70, ShutdownC: 75, Hysteresis: time.Minute})
	base := time.Now()

	g.Observe(base, 80)
	_, shutdown := g.Observe(base.Add(time.Second), 50)
	assert.False(t, shutdown, "a brief shutdown-range breach followed by a drop must not trigger shutdown")

	// Climbing back over ShutdownC restarts the sustained-breach clock.
	_, shutdown = g.Observe(base.Add(2*time.Second), 80)
	assert.False(t, shutdown)
	_, shutdown = g.Observe(base.Add(61*time.Second), 80)
	assert.False(t, shutdown, "hysteresis window restarted at the 2s mark, not the original breach")
}

func TestWatchdogMissedAfterTimeout(t *testing.T) {
	w := NewWatchdog(10 * time.Millisecond)
	assert.False(t, w.Missed(time.Now()))
	assert.True(t, w.Missed(time.Now().Add(20*time.Millisecond)))
	w.Beat()
	assert.False(t, w.Missed(time.Now()))
}

func TestBusDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Kind: EventCheckpoint, Time: time.Now()})

	select {
	case ev := <-ch:
		assert.Equal(t, EventCheckpoint, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Fill the buffer, then publish again: second publish must not block.
	b.Publish(Event{Kind: EventCheckpoint})
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: EventDailyRestart})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	require.NotNil(t, ch)
}
