package models

import "time"

// Session status values. The transition is one-way: no record re-enters
// "active" after "ended".
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Actors that may perform the ended transition.
const (
	EndedByUser = "user"
	EndedByAuto = "auto"
)

// Auto-stop reasons recorded when EndedBy = auto.
const (
	AutoStopDurationExpired = "duration_expired"
	AutoStopAllowedTimeEnd  = "allowed_time_end"
	AutoStopMaxTime         = "session_ended_by_max_time"
)

// Session is one parking session. EndTime nil means open-ended ("until
// stopped"); non-nil means a fixed end chosen at start or adjusted later.
type Session struct {
	ID               int64      `db:"id" json:"id"`
	UserID           int64      `db:"user_id" json:"user_id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	ZoneCode         string     `db:"zone_code" json:"zone_code"`
	ZoneRef          string     `db:"zone_ref" json:"zone_ref"`
	PlateText        string     `db:"plate_text" json:"plate_text"`
	Status           string     `db:"status" json:"status"`
	StartTime        time.Time  `db:"start_time" json:"start_time"`
	EndTime          *time.Time `db:"end_time" json:"end_time,omitempty"`
	EndedBy          string     `db:"ended_by" json:"ended_by,omitempty"`
	AutoStopReason   string     `db:"auto_stop_reason" json:"auto_stop_reason,omitempty"`
	HourlyRate       float64    `db:"hourly_rate" json:"hourly_rate"`
	Currency         string     `db:"currency" json:"currency"`
	ExpiringPushSent bool       `db:"expiring_push_sent" json:"expiring_push_sent"`
	ClientRef        string     `db:"client_ref" json:"client_ref"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// OpenEnded reports whether the session has no predetermined end.
func (s *Session) OpenEnded() bool {
	return s.EndTime == nil
}

// EffectiveEnd returns the moment the session must end: the explicit end
// time for fixed sessions, start plus the fallback cap for open-ended ones.
func (s *Session) EffectiveEnd(fallbackCapMinutes int) time.Time {
	if s.EndTime != nil {
		return *s.EndTime
	}
	return s.StartTime.Add(time.Duration(fallbackCapMinutes) * time.Minute)
}
