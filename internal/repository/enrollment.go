package repository

import (
	"context"

	"biosecure-portal/internal/domain"
)

// EnrollmentRepository defines persistence operations for intake records.
type EnrollmentRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, enrollment *domain.Enrollment) error
	GetByEmail(ctx context.Context, email string) (*domain.Enrollment, error)
	List(ctx context.Context) ([]domain.Enrollment, error)
}

// AuthLogRepository appends and reads authentication audit records.
type AuthLogRepository interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, entry *domain.AuthLog) error
	ListByEmail(ctx context.Context, email string, limit int) ([]domain.AuthLog, error)
}
