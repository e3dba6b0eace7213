package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
	"biosecure-portal/internal/webauthn"
)

var (
	// ErrAlreadyEnrolled is returned when the email already has an intake record.
	ErrAlreadyEnrolled = errors.New("email already enrolled")
	// ErrMissingFields is returned when a required intake field is empty.
	ErrMissingFields = errors.New("missing required fields")
)

// EnrollmentService records enrollment intake submissions captured before the
// WebAuthn ceremony completes.
type EnrollmentService interface {
	Intake(ctx context.Context, name, email, phone, credentialID string) (*domain.Enrollment, error)
	List(ctx context.Context) ([]domain.Enrollment, error)
}

type enrollmentService struct {
	enrollments repository.EnrollmentRepository
}

func NewEnrollmentService(enrollments repository.EnrollmentRepository) EnrollmentService {
	return &enrollmentService{enrollments: enrollments}
}

func (s *enrollmentService) Intake(ctx context.Context, name, email, phone, credentialID string) (*domain.Enrollment, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)
	credentialID = strings.TrimSpace(credentialID)

	if name == "" || email == "" || phone == "" || credentialID == "" {
		return nil, ErrMissingFields
	}

	if _, err := s.enrollments.GetByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyEnrolled
	}

	enrollment := &domain.Enrollment{
		ID:           fmt.Sprintf("user_%d", time.Now().UnixMilli()),
		Name:         name,
		Email:        email,
		Phone:        phone,
		CredentialID: credentialID,
		Fallback:     webauthn.IsFallbackIdentifier(credentialID),
		EnrolledAt:   time.Now().UTC(),
	}

	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil, ErrAlreadyEnrolled
		}
		return nil, err
	}
	return enrollment, nil
}

func (s *enrollmentService) List(ctx context.Context) ([]domain.Enrollment, error) {
	return s.enrollments.List(ctx)
}
