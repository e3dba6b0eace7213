package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

const createCeremoniesTable = `
CREATE TABLE IF NOT EXISTS ceremonies (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL,
	data BLOB NOT NULL,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
`

// CeremonyRepository stores pending WebAuthn ceremony state so a submitted
// credential or assertion can be checked against the challenge that was
// actually issued for it.
type CeremonyRepository struct {
	db *sql.DB
}

func NewCeremonyRepository(db *sql.DB) repository.CeremonyRepository {
	return &CeremonyRepository{db: db}
}

func (r *CeremonyRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createCeremoniesTable); err != nil {
		return fmt.Errorf("create ceremonies table: %w", err)
	}
	return nil
}

func (r *CeremonyRepository) Save(ctx context.Context, ceremony *domain.Ceremony) error {
	if ceremony.CreatedAt.IsZero() {
		ceremony.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ceremonies (id, kind, user_id, data, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		ceremony.ID,
		string(ceremony.Kind),
		ceremony.UserID,
		ceremony.Data,
		ceremony.ExpiresAt,
		ceremony.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ceremony: %w", err)
	}
	return nil
}

// Take removes and returns the ceremony, making each challenge single-use.
// Expired ceremonies are deleted and reported as not found.
func (r *CeremonyRepository) Take(ctx context.Context, id string) (*domain.Ceremony, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, kind, user_id, data, expires_at, created_at
FROM ceremonies
WHERE id = ?`,
		id,
	)

	var ceremony domain.Ceremony
	var kind string
	if err := row.Scan(
		&ceremony.ID,
		&kind,
		&ceremony.UserID,
		&ceremony.Data,
		&ceremony.ExpiresAt,
		&ceremony.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ceremony not found")
		}
		return nil, fmt.Errorf("scan ceremony: %w", err)
	}
	ceremony.Kind = domain.CeremonyKind(kind)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM ceremonies WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete ceremony: %w", err)
	}

	if time.Now().UTC().After(ceremony.ExpiresAt) {
		return nil, fmt.Errorf("ceremony expired")
	}
	return &ceremony, nil
}
