// Package alerting watches camera capture state for stream outages and
// raises a dedup'd event on the shared supervisor bus: the same
// watch-then-alert shape as the teacher's monitorUSB, generalized from "USB
// camera disconnected" to "camera capture subprocess not producing frames".
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warpcomdev/edgevisiond/internal/capture"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
	"github.com/warpcomdev/edgevisiond/internal/supervisor"
)

var cameraLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "edgevision_camera_live",
	Help: "1 if a camera's capture subprocess is producing frames, 0 otherwise.",
}, []string{"camera"})

// Source is the subset of capture.Source the monitor needs to judge
// liveness.
type Source interface {
	State() capture.State
}

type camState struct {
	missing bool
	alertID string
}

// Monitor polls a set of capture sources and publishes a
// supervisor.EventCameraLiveness the first time a camera's state goes
// degraded or failed, then a clearing event once it recovers.
type Monitor struct {
	bus *supervisor.Bus
	log servicelog.Logger

	states map[string]*camState
}

// NewMonitor builds a Monitor publishing onto bus.
func NewMonitor(bus *supervisor.Bus, log servicelog.Logger) *Monitor {
	return &Monitor{bus: bus, log: log, states: make(map[string]*camState)}
}

// Watch polls every source in sources every interval until ctx is
// cancelled.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, sources map[string]Source) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, src := range sources {
				m.check(id, src.State())
			}
		}
	}
}

func (m *Monitor) check(cameraID string, state capture.State) {
	st, ok := m.states[cameraID]
	if !ok {
		st = &camState{}
		m.states[cameraID] = st
	}

	live := state != capture.StateDegraded && state != capture.StateFailed
	cameraLive.WithLabelValues(cameraID).Set(boolToFloat(live))

	if !live && !st.missing {
		st.missing = true
		st.alertID = fmt.Sprintf("%s_stream_liveness_%d", cameraID, time.Now().UnixNano())
		m.log.Error("camera stream not live", servicelog.String("camera", cameraID), servicelog.String("state", string(state)))
		m.bus.Publish(supervisor.Event{
			Kind: supervisor.EventCameraLiveness,
			Time: time.Now(),
			Data: map[string]string{"camera": cameraID, "state": string(state), "alert_id": st.alertID, "status": "missing"},
		})
		return
	}
	if live && st.missing {
		m.log.Info("camera stream recovered", servicelog.String("camera", cameraID))
		m.bus.Publish(supervisor.Event{
			Kind: supervisor.EventCameraLiveness,
			Time: time.Now(),
			Data: map[string]string{"camera": cameraID, "alert_id": st.alertID, "status": "recovered"},
		})
		st.missing = false
		st.alertID = ""
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
