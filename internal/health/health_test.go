package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateHealthyWhenAllComponentsReport(t *testing.T) {
	r := New(DefaultThresholds())
	r.Report("capture:cam0", Healthy, "ok")
	r.Report("sync", Healthy, "ok")

	snap := r.Evaluate([]string{"capture:cam0", "sync"})
	assert.Equal(t, Healthy, snap.Overall)
}

func TestEvaluateUnhealthyWhenComponentMissing(t *testing.T) {
	r := New(DefaultThresholds())
	r.Report("capture:cam0", Healthy, "ok")

	snap := r.Evaluate([]string{"capture:cam0", "sync"})
	assert.Equal(t, Unhealthy, snap.Overall)
}

func TestEvaluateDegradedDominatesHealthy(t *testing.T) {
	r := New(DefaultThresholds())
	r.Report("capture:cam0", Healthy, "ok")
	r.Report("sync", Degraded, "behind schedule")

	snap := r.Evaluate([]string{"capture:cam0", "sync"})
	assert.Equal(t, Degraded, snap.Overall)
}

func TestEvaluateStaleComponentBecomesUnhealthy(t *testing.T) {
	r := New(Thresholds{StaleAfter: time.Millisecond})
	r.Report("sync", Healthy, "ok")
	time.Sleep(5 * time.Millisecond)

	snap := r.Evaluate([]string{"sync"})
	assert.Equal(t, Unhealthy, snap.Overall)
}
