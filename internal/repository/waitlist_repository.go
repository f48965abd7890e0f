package repository

import (
	"context"
	"database/sql"
	"log/slog"
)

type WaitlistRepository interface {
	Add(ctx context.Context, email string) error
}

type waitlistRepository struct {
	db *sql.DB
}

func NewWaitlistRepository(db *sql.DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

// Add is idempotent per email; re-joining is not an error.
func (r *waitlistRepository) Add(ctx context.Context, email string) error {
	query := `INSERT INTO waitlist (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
