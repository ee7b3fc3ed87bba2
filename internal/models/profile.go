package models

import "time"

// DriverSettings restrict when a driver may park. AllowedDays is the set of
// permitted weekdays; the time window is "HH:MM" local wall clock, empty
// meaning unrestricted.
type DriverSettings struct {
	AllowedDays      []time.Weekday
	AllowedTimeStart string
	AllowedTimeEnd   string
	MaxPlates        int
}

// NotificationSettings carry per-kind opt-in booleans and the expiring-soon
// lead time.
type NotificationSettings struct {
	SessionStarted      bool
	SessionEndedByUser  bool
	ExpiringSoon        bool
	EndedBySystem       bool
	ExpiringLeadMinutes int
}

// LeadMinutes returns the configured expiring-soon lead time, falling back
// to the given default.
func (n NotificationSettings) LeadMinutes(def int) int {
	if n.ExpiringLeadMinutes <= 0 {
		return def
	}
	return n.ExpiringLeadMinutes
}

// Profile is the per-user record from the user profile store.
type Profile struct {
	UserID       int64
	TenantID     string
	Driver       DriverSettings
	Notification NotificationSettings
	PushToken    string
}
