package models

import "time"

// Transaction is the immutable billing record created exactly once when a
// session ends, regardless of which actor ended it.
type Transaction struct {
	ID              int64     `db:"id" json:"id"`
	SessionID       int64     `db:"session_id" json:"session_id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	ZoneCode        string    `db:"zone_code" json:"zone_code"`
	PlateText       string    `db:"plate_text" json:"plate_text"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	HourlyRate      float64   `db:"hourly_rate" json:"hourly_rate"`
	Amount          float64   `db:"amount" json:"amount"`
	Currency        string    `db:"currency" json:"currency"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
