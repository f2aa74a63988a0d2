package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowStart(t *testing.T) {
	d := 5 * time.Minute
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"exact boundary", base, base},
		{"mid window", base.Add(90 * time.Second), base},
		{"just before next boundary", base.Add(4*time.Minute + 59*time.Second), base},
		{"next boundary", base.Add(5 * time.Minute), base.Add(5 * time.Minute)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WindowStart(tc.in, d)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
		})
	}
}

func TestWindowStartZeroDuration(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now, WindowStart(now, 0))
}
