package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parkpilot/internal/models"
)

// ErrSessionNotFound indicates the requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, user_id, tenant_id, zone_code, zone_ref, plate_text, status,
		start_time, end_time, ended_by, auto_stop_reason, hourly_rate, currency,
		expiring_push_sent, client_ref, created_at, updated_at`

// SessionRepository handles persistence of parking sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new active session and fills store-assigned fields.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	const query = `
		INSERT INTO parking_sessions
			(user_id, tenant_id, zone_code, zone_ref, plate_text, status, start_time, end_time,
			 hourly_rate, currency, client_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		session.UserID,
		session.TenantID,
		session.ZoneCode,
		session.ZoneRef,
		session.PlateText,
		session.Status,
		session.StartTime,
		session.EndTime,
		session.HourlyRate,
		session.Currency,
		session.ClientRef,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// FindActiveByUser returns the user's active session, if any. At most one
// exists by the start-operation precondition; the newest wins if history is
// ever inconsistent.
func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID int64) (*models.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM parking_sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, userID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListActive returns all currently active sessions, oldest first so the
// reconciliation sweep handles the longest-running records first.
func (r *SessionRepository) ListActive(ctx context.Context) ([]models.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM parking_sessions
		WHERE status = 'active'
		ORDER BY start_time ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListByUser returns last N sessions for user, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM parking_sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateEndTime moves the session's end (nil collapses it to open-ended).
// Conditional on the record still being active; returns false when a
// termination already landed.
func (r *SessionRepository) UpdateEndTime(ctx context.Context, sessionID int64, endTime *time.Time) (bool, error) {
	const query = `
		UPDATE parking_sessions
		SET end_time = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, sessionID, endTime)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClaimExpiringPush flips expiring_push_sent with a single conditional
// write. Returns true only for the caller that actually claimed the flag, so
// repeated reconciliation runs never resend the push.
func (r *SessionRepository) ClaimExpiringPush(ctx context.Context, sessionID int64) (bool, error) {
	const query = `
		UPDATE parking_sessions
		SET expiring_push_sent = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND expiring_push_sent = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// TerminateInput carries everything the ended transition writes.
type TerminateInput struct {
	SessionID       int64
	UserID          int64
	TenantID        string
	ZoneCode        string
	PlateText       string
	EndedAt         time.Time
	EndedBy         string
	AutoStopReason  string
	DurationMinutes int
	HourlyRate      float64
	Amount          float64
	Currency        string
}

// Terminate performs the ended transition, the billing transaction insert
// and (for fleet tenants) the audit entry as one database transaction. The
// status update is conditional on the record still being active: whichever
// actor lands first wins and the loser's call returns false without writing
// anything.
func (r *SessionRepository) Terminate(ctx context.Context, in TerminateInput) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	const endQuery = `
		UPDATE parking_sessions
		SET status = 'ended',
		    ended_by = $2,
		    auto_stop_reason = NULLIF($3, ''),
		    end_time = COALESCE(end_time, $4),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := tx.ExecContext(ctx, endQuery, in.SessionID, in.EndedBy, in.AutoStopReason, in.EndedAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Someone else already ended it; the whole write is a no-op.
		return false, nil
	}

	const txQuery = `
		INSERT INTO parking_transactions
			(session_id, user_id, tenant_id, zone_code, plate_text, duration_minutes,
			 hourly_rate, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`
	if _, err := tx.ExecContext(ctx, txQuery,
		in.SessionID,
		in.UserID,
		in.TenantID,
		in.ZoneCode,
		in.PlateText,
		in.DurationMinutes,
		in.HourlyRate,
		in.Amount,
		in.Currency,
	); err != nil {
		return false, err
	}

	if in.EndedBy == models.EndedByAuto && in.TenantID != models.DefaultTenant {
		const auditQuery = `
			INSERT INTO parking_audit_log (tenant_id, session_id, action, reason, actor, created_at)
			VALUES ($1, $2, 'auto_stop', $3, $4, NOW())
		`
		if _, err := tx.ExecContext(ctx, auditQuery, in.TenantID, in.SessionID, in.AutoStopReason, in.EndedBy); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s          models.Session
		endTime    sql.NullTime
		endedBy    sql.NullString
		stopReason sql.NullString
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TenantID,
		&s.ZoneCode,
		&s.ZoneRef,
		&s.PlateText,
		&s.Status,
		&s.StartTime,
		&endTime,
		&endedBy,
		&stopReason,
		&s.HourlyRate,
		&s.Currency,
		&s.ExpiringPushSent,
		&s.ClientRef,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	s.EndedBy = endedBy.String
	s.AutoStopReason = stopReason.String
	return &s, nil
}
