package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkpilot/internal/models"
)

var testBase = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

func sessionRows(s models.Session) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "tenant_id", "zone_code", "zone_ref", "plate_text", "status",
		"start_time", "end_time", "ended_by", "auto_stop_reason", "hourly_rate", "currency",
		"expiring_push_sent", "client_ref", "created_at", "updated_at",
	})
	var end interface{}
	if s.EndTime != nil {
		end = *s.EndTime
	}
	rows.AddRow(
		s.ID, s.UserID, s.TenantID, s.ZoneCode, s.ZoneRef, s.PlateText, s.Status,
		s.StartTime, end, nullable(s.EndedBy), nullable(s.AutoStopReason), s.HourlyRate, s.Currency,
		s.ExpiringPushSent, s.ClientRef, s.CreatedAt, s.UpdatedAt,
	)
	return rows
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func activeFixture() models.Session {
	return models.Session{
		ID:         3,
		UserID:     7,
		TenantID:   models.DefaultTenant,
		ZoneCode:   "Z101",
		ZoneRef:    "zone-ref-1",
		PlateText:  "AB-123-CD",
		Status:     models.SessionStatusActive,
		StartTime:  testBase.Add(-time.Hour),
		HourlyRate: 2.0,
		Currency:   "EUR",
		ClientRef:  "client-ref-1",
		CreatedAt:  testBase.Add(-time.Hour),
		UpdatedAt:  testBase.Add(-time.Hour),
	}
}

func terminateFixture() TerminateInput {
	return TerminateInput{
		SessionID:       3,
		UserID:          7,
		TenantID:        models.DefaultTenant,
		ZoneCode:        "Z101",
		PlateText:       "AB-123-CD",
		EndedAt:         testBase,
		EndedBy:         models.EndedByUser,
		DurationMinutes: 60,
		HourlyRate:      2.0,
		Amount:          2.0,
		Currency:        "EUR",
	}
}

func TestCreateFillsStoreAssignedFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	session := activeFixture()
	session.ID = 0

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO parking_sessions")).
		WithArgs(
			session.UserID, session.TenantID, session.ZoneCode, session.ZoneRef,
			session.PlateText, session.Status, session.StartTime, nil,
			session.HourlyRate, session.Currency, session.ClientRef,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(3), testBase, testBase))

	repo := NewSessionRepository(db)
	created, err := repo.Create(context.Background(), &session)
	require.NoError(t, err)
	assert.Equal(t, int64(3), created.ID)
	assert.Equal(t, testBase, created.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM parking_sessions").
		WithArgs(int64(7)).
		WillReturnRows(sessionRows(activeFixture()))

	repo := NewSessionRepository(db)
	session, err := repo.FindActiveByUser(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, int64(3), session.ID)
	assert.Nil(t, session.EndTime)
	assert.Empty(t, session.EndedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByUserNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// An empty result is the normal idle case, not an error.
	mock.ExpectQuery("SELECT (.+) FROM parking_sessions").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewSessionRepository(db)
	session, err := repo.FindActiveByUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, session)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEndTimeConditionalOnActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	end := testBase.Add(30 * time.Minute)
	mock.ExpectExec("UPDATE parking_sessions").
		WithArgs(int64(3), end).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSessionRepository(db)
	ok, err := repo.UpdateEndTime(context.Background(), 3, &end)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEndTimeLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE parking_sessions").
		WithArgs(int64(3), nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSessionRepository(db)
	ok, err := repo.UpdateEndTime(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.False(t, ok, "already-ended record is untouched")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimExpiringPush(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET expiring_push_sent = TRUE")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET expiring_push_sent = TRUE")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSessionRepository(db)

	claimed, err := repo.ClaimExpiringPush(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, claimed, "first caller claims the flag")

	claimed, err = repo.ClaimExpiringPush(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, claimed, "second caller finds it claimed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminateWinnerCommitsTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := terminateFixture()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'ended'")).
		WithArgs(in.SessionID, in.EndedBy, in.AutoStopReason, in.EndedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parking_transactions")).
		WithArgs(
			in.SessionID, in.UserID, in.TenantID, in.ZoneCode, in.PlateText,
			in.DurationMinutes, in.HourlyRate, in.Amount, in.Currency,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewSessionRepository(db)
	won, err := repo.Terminate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminateLoserRollsBackWithoutBilling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := terminateFixture()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'ended'")).
		WithArgs(in.SessionID, in.EndedBy, in.AutoStopReason, in.EndedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewSessionRepository(db)
	won, err := repo.Terminate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, won, "no billing insert for the loser")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminateAutoStopWritesFleetAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := terminateFixture()
	in.TenantID = "fleet-acme"
	in.EndedBy = models.EndedByAuto
	in.AutoStopReason = models.AutoStopDurationExpired

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'ended'")).
		WithArgs(in.SessionID, in.EndedBy, in.AutoStopReason, in.EndedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parking_transactions")).
		WithArgs(
			in.SessionID, in.UserID, in.TenantID, in.ZoneCode, in.PlateText,
			in.DurationMinutes, in.HourlyRate, in.Amount, in.Currency,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parking_audit_log")).
		WithArgs(in.TenantID, in.SessionID, in.AutoStopReason, in.EndedBy).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewSessionRepository(db)
	won, err := repo.Terminate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminateAutoStopDefaultTenantSkipsAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := terminateFixture()
	in.EndedBy = models.EndedByAuto
	in.AutoStopReason = models.AutoStopMaxTime

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'ended'")).
		WithArgs(in.SessionID, in.EndedBy, in.AutoStopReason, in.EndedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parking_transactions")).
		WithArgs(
			in.SessionID, in.UserID, in.TenantID, in.ZoneCode, in.PlateText,
			in.DurationMinutes, in.HourlyRate, in.Amount, in.Currency,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewSessionRepository(db)
	won, err := repo.Terminate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminateBillingFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := terminateFixture()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'ended'")).
		WithArgs(in.SessionID, in.EndedBy, in.AutoStopReason, in.EndedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parking_transactions")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	repo := NewSessionRepository(db)
	won, err := repo.Terminate(context.Background(), in)
	require.Error(t, err)
	assert.False(t, won, "status flip never lands without the billing record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	older := activeFixture()
	newer := activeFixture()
	newer.ID = 4
	newer.StartTime = testBase.Add(-10 * time.Minute)

	rows := sessionRows(older)
	var end interface{}
	rows.AddRow(
		newer.ID, newer.UserID, newer.TenantID, newer.ZoneCode, newer.ZoneRef, newer.PlateText,
		newer.Status, newer.StartTime, end, nil, nil, newer.HourlyRate, newer.Currency,
		newer.ExpiringPushSent, newer.ClientRef, newer.CreatedAt, newer.UpdatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM parking_sessions").WillReturnRows(rows)

	repo := NewSessionRepository(db)
	sessions, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(3), sessions[0].ID)
	assert.Equal(t, int64(4), sessions[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
