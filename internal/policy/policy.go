package policy

import (
	"time"

	"parkpilot/internal/models"
)

// CheckStartAllowed evaluates driver-level day and time-of-day restrictions
// against the current moment. It returns the rejection reason when parking
// may not start, or empty when it may.
func CheckStartAllowed(ds models.DriverSettings, now time.Time) models.RejectionReason {
	if len(ds.AllowedDays) > 0 && !dayAllowed(ds.AllowedDays, now.Weekday()) {
		return models.RejectOutsideAllowedDays
	}

	minute := now.Hour()*60 + now.Minute()
	if ds.AllowedTimeStart != "" {
		if start, ok := parseClock(ds.AllowedTimeStart); ok && minute < start {
			return models.RejectOutsideAllowedTime
		}
	}
	if ds.AllowedTimeEnd != "" {
		if end, ok := parseClock(ds.AllowedTimeEnd); ok && minute >= end {
			return models.RejectOutsideAllowedTime
		}
	}
	return ""
}

// PastDailyCutoff reports whether the local time-of-day has passed the
// driver's configured daily cutoff. An unset or unparsable cutoff never
// triggers.
func PastDailyCutoff(ds models.DriverSettings, now time.Time) bool {
	if ds.AllowedTimeEnd == "" {
		return false
	}
	end, ok := parseClock(ds.AllowedTimeEnd)
	if !ok {
		return false
	}
	return now.Hour()*60+now.Minute() >= end
}

func dayAllowed(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' ||
		s[3] < '0' || s[3] > '9' || s[4] < '0' || s[4] > '9' {
		return 0, false
	}
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
