package client

import (
	"fmt"
	"time"
)

// Display modes: open-ended sessions count up, fixed-end sessions count
// down.
const (
	ModeCountUp   = "count_up"
	ModeCountDown = "count_down"
)

// Color hints for the timer display.
const (
	ColorOK       = "ok"
	ColorExpiring = "expiring"
)

// DisplayValue is the derived timer state recomputed every tick.
type DisplayValue struct {
	Mode      string `json:"mode"`
	Text      string `json:"text"`
	ColorHint string `json:"color_hint"`
}

// formatClock renders a duration as H:MM:SS, clamping negatives to zero.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
