package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"beverage_dispenser/internal/models"
)

type StatsSQLite struct {
	db *sql.DB
}

func NewStatsSQLite(db *sql.DB) *StatsSQLite {
	return &StatsSQLite{db: db}
}

const (
	statsRowID = 1

	upsertStatsSQL = `
		INSERT INTO dispenser_stats (id, cups_dispensed, beverages_poured, total_volume_ml, errors, last_operation_s, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cups_dispensed=excluded.cups_dispensed,
			beverages_poured=excluded.beverages_poured,
			total_volume_ml=excluded.total_volume_ml,
			errors=excluded.errors,
			last_operation_s=excluded.last_operation_s,
			updated_at=excluded.updated_at
	`

	selectStatsSQL = `
		SELECT cups_dispensed, beverages_poured, total_volume_ml, errors, last_operation_s
		FROM dispenser_stats WHERE id=?
	`
)

// Save upserts the single dispenser_stats row.
func (r *StatsSQLite) Save(ctx context.Context, s models.Stats) error {
	_, err := r.db.ExecContext(ctx, upsertStatsSQL,
		statsRowID,
		s.CupsDispensed,
		s.BeveragesPoured,
		s.TotalVolumeMl,
		s.Errors,
		s.LastOperationSec,
		time.Now().UTC(),
	)
	return err
}

// Load fetches the persisted counters. A fresh database yields zero stats.
func (r *StatsSQLite) Load(ctx context.Context) (models.Stats, error) {
	row := r.db.QueryRowContext(ctx, selectStatsSQL, statsRowID)

	var s models.Stats
	if err := row.Scan(
		&s.CupsDispensed,
		&s.BeveragesPoured,
		&s.TotalVolumeMl,
		&s.Errors,
		&s.LastOperationSec,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Stats{}, nil
		}
		return models.Stats{}, err
	}
	return s, nil
}
