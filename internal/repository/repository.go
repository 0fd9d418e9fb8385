package repository

import (
	"context"
	"database/sql"
	"time"

	"beverage_dispenser/internal/models"
)

type StatsRepo interface {
	Save(ctx context.Context, s models.Stats) error
	Load(ctx context.Context) (models.Stats, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.Event) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type Repository struct {
	StatsRepo StatsRepo
	EventRepo EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		StatsRepo: NewStatsSQLite(db),
		EventRepo: NewEventSQLite(db),
	}
}
