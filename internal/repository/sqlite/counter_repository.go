package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"biosecure-portal/internal/repository"
)

const createCountersTable = `
CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// CounterRepository stores named monotonic counters, e.g. the user id
// allocator.
type CounterRepository struct {
	db *sql.DB
}

func NewCounterRepository(db *sql.DB) repository.CounterRepository {
	return &CounterRepository{db: db}
}

func (r *CounterRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createCountersTable); err != nil {
		return fmt.Errorf("create counters table: %w", err)
	}
	return nil
}

// Next returns the counter's current value and advances it by one. The counter
// is seeded on first use.
func (r *CounterRepository) Next(ctx context.Context, name string, seed int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin counter tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO counters (name, value) VALUES (?, ?)
ON CONFLICT(name) DO NOTHING`, name, seed); err != nil {
		return 0, fmt.Errorf("seed counter: %w", err)
	}

	var value int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("advance counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counter tx: %w", err)
	}
	return value, nil
}
