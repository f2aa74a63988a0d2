package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/capture"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
	"github.com/warpcomdev/edgevisiond/internal/supervisor"
)

func noopLogger() servicelog.Logger {
	return servicelog.New(nil, "/dev/null", false)
}

func TestCheckPublishesOnceWhenCameraGoesMissing(t *testing.T) {
	bus := supervisor.NewBus()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	m := NewMonitor(bus, noopLogger())
	m.check("cam1", capture.StateFailed)
	m.check("cam1", capture.StateFailed) // repeated breach must not re-alert

	select {
	case ev := <-ch:
		assert.Equal(t, supervisor.EventCameraLiveness, ev.Kind)
		assert.Equal(t, "missing", ev.Data["status"])
	case <-time.After(time.Second):
		t.Fatal("expected a missing event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCheckPublishesRecoveryAfterMissing(t *testing.T) {
	bus := supervisor.NewBus()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	m := NewMonitor(bus, noopLogger())
	m.check("cam1", capture.StateDegraded)
	<-ch // missing event

	m.check("cam1", capture.StateRunning)
	select {
	case ev := <-ch:
		assert.Equal(t, "recovered", ev.Data["status"])
	case <-time.After(time.Second):
		t.Fatal("expected a recovered event")
	}
}

func TestCheckNoEventWhileLive(t *testing.T) {
	bus := supervisor.NewBus()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	m := NewMonitor(bus, noopLogger())
	m.check("cam1", capture.StateRunning)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for a live camera: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, m.states["cam1"].alertID)
}
