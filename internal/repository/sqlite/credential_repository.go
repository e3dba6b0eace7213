package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS credentials (
	id BLOB PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(user_id),
	public_key BLOB NOT NULL,
	attestation_type TEXT NOT NULL DEFAULT '',
	transports TEXT NOT NULL DEFAULT '[]',
	user_present INTEGER NOT NULL DEFAULT 0,
	user_verified INTEGER NOT NULL DEFAULT 0,
	backup_eligible INTEGER NOT NULL DEFAULT 0,
	backup_state INTEGER NOT NULL DEFAULT 0,
	aaguid BLOB,
	sign_count INTEGER NOT NULL DEFAULT 0,
	clone_warning INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_used_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id);
`

type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) repository.CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createCredentialsTable); err != nil {
		return fmt.Errorf("create credentials table: %w", err)
	}
	return nil
}

func (r *CredentialRepository) Save(ctx context.Context, cred *domain.Credential) error {
	transports, err := json.Marshal(cred.Transport)
	if err != nil {
		return fmt.Errorf("marshal transports: %w", err)
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO credentials (id, user_id, public_key, attestation_type, transports,
	user_present, user_verified, backup_eligible, backup_state,
	aaguid, sign_count, clone_warning, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID,
		cred.UserID,
		cred.PublicKey,
		cred.AttestationType,
		string(transports),
		cred.Flags.UserPresent,
		cred.Flags.UserVerified,
		cred.Flags.BackupEligible,
		cred.Flags.BackupState,
		cred.AAGUID,
		cred.SignCount,
		cred.CloneWarning,
		cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) GetByUserID(ctx context.Context, userID string) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, public_key, attestation_type, transports,
	user_present, user_verified, backup_eligible, backup_state,
	aaguid, sign_count, clone_warning, created_at, last_used_at
FROM credentials
WHERE user_id = ?
ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

func (r *CredentialRepository) GetByCredentialID(ctx context.Context, credID []byte) (*domain.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, public_key, attestation_type, transports,
	user_present, user_verified, backup_eligible, backup_state,
	aaguid, sign_count, clone_warning, created_at, last_used_at
FROM credentials
WHERE id = ?`,
		credID,
	)
	return scanCredential(row)
}

func (r *CredentialRepository) UpdateCounter(ctx context.Context, credID []byte, signCount uint32, cloneWarning bool) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE credentials SET sign_count = ?, clone_warning = ?, last_used_at = ? WHERE id = ?`,
		signCount, cloneWarning, time.Now().UTC(), credID,
	)
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential counter rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("credential not found")
	}
	return nil
}

func (r *CredentialRepository) Delete(ctx context.Context, credID []byte) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, credID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func scanCredential(row interface {
	Scan(dest ...any) error
}) (*domain.Credential, error) {
	var cred domain.Credential
	var transports string
	var lastUsed sql.NullTime
	if err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.PublicKey,
		&cred.AttestationType,
		&transports,
		&cred.Flags.UserPresent,
		&cred.Flags.UserVerified,
		&cred.Flags.BackupEligible,
		&cred.Flags.BackupState,
		&cred.AAGUID,
		&cred.SignCount,
		&cred.CloneWarning,
		&cred.CreatedAt,
		&lastUsed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential not found")
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	if lastUsed.Valid {
		cred.LastUsedAt = lastUsed.Time
	}
	var list []protocol.AuthenticatorTransport
	if err := json.Unmarshal([]byte(transports), &list); err != nil {
		return nil, fmt.Errorf("unmarshal transports: %w", err)
	}
	cred.Transport = list
	return &cred, nil
}
