package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAndFlushProducesWindow(t *testing.T) {
	a, err := New(5 * time.Minute)
	require.NoError(t, err)

	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	a.Observe("cam0", base, 2, 1, map[string]int{"dog": 1}, 12.5, false, false)
	a.Observe("cam0", base.Add(time.Minute), 4, 1, map[string]int{"dog": 2}, 15.0, true, false)

	windows, err := a.Flush(base.Add(10*time.Minute), false)
	require.NoError(t, err)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.Equal(t, "cam0", w.CameraID)
	assert.Equal(t, 2, w.FramesProcessed)
	assert.Equal(t, 1, w.KeyFramesProcessed)
	assert.Equal(t, 3.0, w.PeopleAvg)
	assert.Equal(t, 4, w.PeopleMax)
	assert.Equal(t, 2, w.PeopleMin)
}

func TestFlushOnlyReturnsWindowsBeforeCutoff(t *testing.T) {
	a, err := New(5 * time.Minute)
	require.NoError(t, err)

	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	a.Observe("cam0", base, 1, 0, nil, 1, false, false)

	windows, err := a.Flush(base, false)
	require.NoError(t, err)
	assert.Empty(t, windows, "window has not ended yet, should not flush")

	windows, err = a.Flush(base.Add(6*time.Minute), false)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}

func TestRawPayloadRoundTripsThroughZstd(t *testing.T) {
	a, err := New(5 * time.Minute)
	require.NoError(t, err)

	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	a.Observe("cam0", base, 1, 0, nil, 3.0, false, false)
	a.Observe("cam0", base, 1, 0, nil, 4.0, false, false)

	windows, err := a.Flush(base.Add(10*time.Minute), true)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.NotEmpty(t, windows[0].RawPayload)

	raw, err := Decompress(windows[0].RawPayload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "3")
}
