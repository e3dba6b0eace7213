package repository

import (
	"context"

	"biosecure-portal/internal/domain"
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUserID(ctx context.Context, userID string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	SetFingerprint(ctx context.Context, email, fingerprint string) error
}

// CounterRepository persists named monotonic counters. Next returns the
// current value and advances the counter in one transaction.
type CounterRepository interface {
	Init(ctx context.Context) error
	Next(ctx context.Context, name string, seed int64) (int64, error)
}
