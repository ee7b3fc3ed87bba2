package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"parkpilot/internal/models"
)

// ErrProfileNotFound indicates a missing user profile record.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository reads per-user driver settings, notification settings
// and the push target token.
type ProfileRepository struct {
	db *sql.DB
}

// NewProfileRepository returns repository.
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns the full profile for a user.
func (r *ProfileRepository) Get(ctx context.Context, userID int64) (*models.Profile, error) {
	const query = `
		SELECT user_id, tenant_id,
		       allowed_days, allowed_time_start, allowed_time_end, max_plates,
		       notify_session_started, notify_session_ended, notify_expiring_soon,
		       notify_ended_by_system, expiring_lead_minutes,
		       push_token
		FROM user_profiles
		WHERE user_id = $1
	`
	var (
		p          models.Profile
		daysCSV    sql.NullString
		timeStart  sql.NullString
		timeEnd    sql.NullString
		pushToken  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.TenantID,
		&daysCSV,
		&timeStart,
		&timeEnd,
		&p.Driver.MaxPlates,
		&p.Notification.SessionStarted,
		&p.Notification.SessionEndedByUser,
		&p.Notification.ExpiringSoon,
		&p.Notification.EndedBySystem,
		&p.Notification.ExpiringLeadMinutes,
		&pushToken,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Driver.AllowedDays = parseAllowedDays(daysCSV.String)
	p.Driver.AllowedTimeStart = timeStart.String
	p.Driver.AllowedTimeEnd = timeEnd.String
	p.PushToken = pushToken.String
	return &p, nil
}

// ClearPushToken removes a stale push target, conditional on the stored
// token still matching the one that failed.
func (r *ProfileRepository) ClearPushToken(ctx context.Context, userID int64, token string) error {
	const query = `
		UPDATE user_profiles
		SET push_token = NULL
		WHERE user_id = $1 AND push_token = $2
	`
	_, err := r.db.ExecContext(ctx, query, userID, token)
	return err
}

// parseAllowedDays decodes the CSV weekday-number column ("0,5,6" style,
// Sunday = 0). Empty means unrestricted.
func parseAllowedDays(csv string) []time.Weekday {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}
