package repository

import (
	"context"
	"database/sql"

	"parkpilot/internal/models"
)

// TransactionRepository reads billing transactions. Inserts happen inside
// SessionRepository.Terminate so the billing record and the ended transition
// commit as one unit.
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository returns repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ListByUser returns latest transactions for user.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, session_id, user_id, tenant_id, zone_code, plate_text,
		       duration_minutes, hourly_rate, amount, currency, created_at
		FROM parking_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID,
			&tx.SessionID,
			&tx.UserID,
			&tx.TenantID,
			&tx.ZoneCode,
			&tx.PlateText,
			&tx.DurationMinutes,
			&tx.HourlyRate,
			&tx.Amount,
			&tx.Currency,
			&tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// CountBySession returns how many billing records exist for a session.
// Exactly one is expected once the session ended.
func (r *TransactionRepository) CountBySession(ctx context.Context, sessionID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM parking_transactions WHERE session_id = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
