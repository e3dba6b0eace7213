package repository

import (
	"context"

	"biosecure-portal/internal/domain"
)

// CredentialRepository defines persistence operations for registered
// public-key credentials.
type CredentialRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, cred *domain.Credential) error
	GetByUserID(ctx context.Context, userID string) ([]domain.Credential, error)
	GetByCredentialID(ctx context.Context, credID []byte) (*domain.Credential, error)
	UpdateCounter(ctx context.Context, credID []byte, signCount uint32, cloneWarning bool) error
	Delete(ctx context.Context, credID []byte) error
}

// CeremonyRepository stores pending WebAuthn ceremonies. Take removes and
// returns the ceremony so a challenge can only be answered once.
type CeremonyRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, ceremony *domain.Ceremony) error
	Take(ctx context.Context, id string) (*domain.Ceremony, error)
}
