package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

const createEnrollmentsTable = `
CREATE TABLE IF NOT EXISTS enrollments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	phone TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	enrolled_at DATETIME NOT NULL
);
`

type EnrollmentRepository struct {
	db *sql.DB
}

func NewEnrollmentRepository(db *sql.DB) repository.EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createEnrollmentsTable); err != nil {
		return fmt.Errorf("create enrollments table: %w", err)
	}
	return nil
}

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *domain.Enrollment) error {
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO enrollments (id, name, email, phone, credential_id, fallback, enrolled_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		enrollment.ID,
		enrollment.Name,
		enrollment.Email,
		enrollment.Phone,
		enrollment.CredentialID,
		enrollment.Fallback,
		enrollment.EnrolledAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("enrollment already exists: %w", err)
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *EnrollmentRepository) GetByEmail(ctx context.Context, email string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, email, phone, credential_id, fallback, enrolled_at
FROM enrollments
WHERE email = ?`,
		email,
	)
	return scanEnrollment(row)
}

func (r *EnrollmentRepository) List(ctx context.Context) ([]domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, email, phone, credential_id, fallback, enrolled_at
FROM enrollments
ORDER BY enrolled_at`)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []domain.Enrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *enrollment)
	}
	return enrollments, rows.Err()
}

func scanEnrollment(row interface {
	Scan(dest ...any) error
}) (*domain.Enrollment, error) {
	var enrollment domain.Enrollment
	if err := row.Scan(
		&enrollment.ID,
		&enrollment.Name,
		&enrollment.Email,
		&enrollment.Phone,
		&enrollment.CredentialID,
		&enrollment.Fallback,
		&enrollment.EnrolledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("enrollment not found")
		}
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	return &enrollment, nil
}
