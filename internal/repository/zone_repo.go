package repository

import (
	"context"
	"database/sql"
	"errors"

	"parkpilot/internal/models"
)

// ErrZoneNotFound indicates an unknown zone code or reference.
var ErrZoneNotFound = errors.New("zone not found")

// ZoneRepository reads the zone catalog feed. The catalog is consumed, not
// owned: this repository never writes.
type ZoneRepository struct {
	db *sql.DB
}

// NewZoneRepository returns repository.
func NewZoneRepository(db *sql.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

const zoneColumns = `ref, code, lat, lng, hourly_rate, currency, max_duration_minutes, special_rules`

// GetByCode looks a zone up by its display code.
func (r *ZoneRepository) GetByCode(ctx context.Context, code string) (*models.Zone, error) {
	const query = `
		SELECT ` + zoneColumns + `
		FROM parking_zones
		WHERE code = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, code))
}

// GetByRef looks a zone up by its stable reference.
func (r *ZoneRepository) GetByRef(ctx context.Context, ref string) (*models.Zone, error) {
	const query = `
		SELECT ` + zoneColumns + `
		FROM parking_zones
		WHERE ref = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ref))
}

func (r *ZoneRepository) scanOne(row *sql.Row) (*models.Zone, error) {
	var z models.Zone
	err := row.Scan(
		&z.Ref,
		&z.Code,
		&z.Lat,
		&z.Lng,
		&z.HourlyRate,
		&z.Currency,
		&z.MaxDurationMinutes,
		&z.SpecialRules,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrZoneNotFound
	}
	if err != nil {
		return nil, err
	}
	return &z, nil
}
