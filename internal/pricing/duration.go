package pricing

import (
	"math"
	"time"
)

// Picker stepping for the pre-start duration chooser. Zero means "until
// stopped"; steps are 30 minutes below two hours and 60 minutes above.
const (
	stepSmall     = 30
	stepLarge     = 60
	stepBoundary  = 120
	// FirstModifyStepMinutes is the increment used for the first adjustment
	// of a running open-ended session toward a fixed end.
	FirstModifyStepMinutes = 15
	// ModifyStepMinutes is the normal adjustment step for a running session.
	ModifyStepMinutes = 30
)

// StepUp advances the picker one notch, clamped to the zone cap.
func StepUp(minutes, maxMinutes int) int {
	var next int
	switch {
	case minutes < stepSmall:
		next = stepSmall
	case minutes < stepBoundary:
		next = minutes + stepSmall
	default:
		next = minutes + stepLarge
	}
	if next > maxMinutes {
		next = maxMinutes
	}
	return next
}

// StepDown lowers the picker one notch, collapsing to 0 ("until stopped")
// below 30 minutes.
func StepDown(minutes int) int {
	var next int
	if minutes > stepBoundary {
		next = minutes - stepLarge
	} else {
		next = minutes - stepSmall
	}
	if next < stepSmall {
		return 0
	}
	return next
}

// Cost computes the session price for a determined duration, rounded to the
// currency's minor unit. Open-ended sessions have no estimate; callers must
// not ask for one.
func Cost(durationMinutes int, hourlyRate float64) float64 {
	if durationMinutes <= 0 {
		return 0
	}
	amount := float64(durationMinutes) / 60 * hourlyRate
	return math.Round(amount*100) / 100
}

// BillableMinutes converts elapsed time to whole billed minutes, rounding
// any started minute up.
func BillableMinutes(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	return int(math.Ceil(elapsed.Minutes()))
}

// AdjustEnd applies a running-session end adjustment and returns the new end
// time, nil meaning the session collapsed back to open-ended. The first step
// away from open-ended uses the smaller increment; the result never lands in
// the past and never beyond now plus the zone cap.
func AdjustEnd(current *time.Time, deltaMinutes int, now time.Time, maxMinutes int) *time.Time {
	var proposed time.Time
	if current == nil {
		if deltaMinutes <= 0 {
			return nil
		}
		proposed = now.Add(time.Duration(FirstModifyStepMinutes) * time.Minute)
	} else {
		proposed = current.Add(time.Duration(deltaMinutes) * time.Minute)
	}

	cap := now.Add(time.Duration(maxMinutes) * time.Minute)
	if proposed.After(cap) {
		proposed = cap
	}
	if !proposed.After(now) {
		return nil
	}
	return &proposed
}
