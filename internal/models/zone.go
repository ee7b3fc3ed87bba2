package models

// DefaultMaxDurationMinutes caps sessions in zones that carry no explicit
// maximum (24 hours).
const DefaultMaxDurationMinutes = 1440

// Zone is a geofenced pricing area from the zone catalog. Code is the
// display code shown to drivers; Ref is the stable reference that outlives
// display-code renames.
type Zone struct {
	Ref                string  `db:"ref" json:"ref"`
	Code               string  `db:"code" json:"code"`
	Lat                float64 `db:"lat" json:"lat"`
	Lng                float64 `db:"lng" json:"lng"`
	HourlyRate         float64 `db:"hourly_rate" json:"hourly_rate"`
	Currency           string  `db:"currency" json:"currency"`
	MaxDurationMinutes int     `db:"max_duration_minutes" json:"max_duration_minutes"`
	SpecialRules       bool    `db:"special_rules" json:"special_rules"`
}

// MaxDuration returns the zone cap in minutes, applying the default when the
// catalog record carries none.
func (z *Zone) MaxDuration() int {
	if z.MaxDurationMinutes <= 0 {
		return DefaultMaxDurationMinutes
	}
	return z.MaxDurationMinutes
}
