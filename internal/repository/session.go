package repository

import (
	"context"

	"biosecure-portal/internal/domain"
)

// SessionRepository defines persistence operations for Session records,
// keyed by token.
type SessionRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, token string) (*domain.Session, error)
	Delete(ctx context.Context, token string) error
}
