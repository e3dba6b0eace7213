package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

const createAuthLogsTable = `
CREATE TABLE IF NOT EXISTS auth_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	method TEXT NOT NULL,
	success INTEGER NOT NULL,
	match_score INTEGER NOT NULL DEFAULT 0,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auth_logs_email ON auth_logs(email);
`

type AuthLogRepository struct {
	db *sql.DB
}

func NewAuthLogRepository(db *sql.DB) repository.AuthLogRepository {
	return &AuthLogRepository{db: db}
}

func (r *AuthLogRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAuthLogsTable); err != nil {
		return fmt.Errorf("create auth logs table: %w", err)
	}
	return nil
}

func (r *AuthLogRepository) Append(ctx context.Context, entry *domain.AuthLog) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO auth_logs (user_id, email, method, success, match_score, at)
VALUES (?, ?, ?, ?, ?, ?)`,
		entry.UserID,
		entry.Email,
		entry.Method,
		entry.Success,
		entry.MatchScore,
		entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert auth log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("auth log last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r *AuthLogRepository) ListByEmail(ctx context.Context, email string, limit int) ([]domain.AuthLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, email, method, success, match_score, at
FROM auth_logs
WHERE email = ? COLLATE NOCASE
ORDER BY at DESC
LIMIT ?`,
		email, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list auth logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuthLog
	for rows.Next() {
		var entry domain.AuthLog
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Email,
			&entry.Method,
			&entry.Success,
			&entry.MatchScore,
			&entry.At,
		); err != nil {
			return nil, fmt.Errorf("scan auth log: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
