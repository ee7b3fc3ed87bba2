package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepUp(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		max     int
		want    int
	}{
		{"from zero", 0, 1440, 30},
		{"below two hours", 30, 1440, 60},
		{"to boundary", 90, 1440, 120},
		{"above boundary", 120, 1440, 180},
		{"large steps", 240, 1440, 300},
		{"clamped to cap", 170, 180, 180},
		{"already at cap", 180, 180, 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StepUp(tt.minutes, tt.max))
		})
	}
}

func TestStepDown(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		want    int
	}{
		{"collapse to until stopped", 30, 0},
		{"below boundary", 90, 60},
		{"at boundary", 120, 90},
		{"above boundary", 180, 120},
		{"large steps", 300, 240},
		{"already zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StepDown(tt.minutes))
		})
	}
}

func TestCost(t *testing.T) {
	assert.Equal(t, 0.0, Cost(0, 2.5), "open-ended has no estimate")
	assert.Equal(t, 2.5, Cost(60, 2.5))
	assert.Equal(t, 1.25, Cost(30, 2.5))
	assert.Equal(t, 3.75, Cost(90, 2.5))
	// rounded to the minor unit
	assert.Equal(t, 0.92, Cost(22, 2.5))
}

func TestBillableMinutes(t *testing.T) {
	assert.Equal(t, 0, BillableMinutes(0))
	assert.Equal(t, 1, BillableMinutes(10*time.Second), "started minutes round up")
	assert.Equal(t, 60, BillableMinutes(time.Hour))
	assert.Equal(t, 61, BillableMinutes(time.Hour+time.Second))
}

func TestAdjustEndFirstStepFromOpenEnded(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	end := AdjustEnd(nil, 30, now, 1440)
	require.NotNil(t, end)
	assert.Equal(t, now.Add(FirstModifyStepMinutes*time.Minute), *end)

	assert.Nil(t, AdjustEnd(nil, -30, now, 1440), "stepping down stays open-ended")
}

func TestAdjustEndNeverInPast(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	current := now.Add(10 * time.Minute)

	assert.Nil(t, AdjustEnd(&current, -30, now, 1440), "reducing below now collapses to open-ended")

	boundary := now.Add(30 * time.Minute)
	assert.Nil(t, AdjustEnd(&boundary, -30, now, 1440), "landing exactly on now collapses too")
}

func TestAdjustEndClampedToZoneCap(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	current := now.Add(170 * time.Minute)

	end := AdjustEnd(&current, 30, now, 180)
	require.NotNil(t, end)
	assert.Equal(t, now.Add(180*time.Minute), *end)
}
