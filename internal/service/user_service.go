package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
	"biosecure-portal/internal/webauthn"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when attempting to sign up with an existing email.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotEnrolled is returned when fingerprint login is attempted before enrollment.
	ErrNotEnrolled = errors.New("fingerprint not enrolled")
)

// User ids are allocated as USR-<n> from a persisted counter starting at 1001.
const (
	userIDCounterName = "user-id-counter"
	userIDCounterSeed = 1001
)

// UserService describes account lifecycle and fingerprint-enrollment operations.
type UserService interface {
	CreateUser(ctx context.Context, email, password, name string, isAdmin bool) (*domain.User, error)
	VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUserID(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	RegisterFingerprint(ctx context.Context, email string) (string, error)
	ClearFingerprint(ctx context.Context, email string) error
	VerifyFingerprint(ctx context.Context, email string) (*domain.User, error)
	HasFingerprint(ctx context.Context, email string) (bool, error)
}

type userService struct {
	users    repository.UserRepository
	counters repository.CounterRepository

	// serializes user id allocation across request goroutines
	allocMu sync.Mutex
}

func NewUserService(users repository.UserRepository, counters repository.CounterRepository) UserService {
	return &userService{
		users:    users,
		counters: counters,
	}
}

func (s *userService) CreateUser(ctx context.Context, email, password, name string, isAdmin bool) (*domain.User, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("a valid email is required")
	}
	if password == "" {
		return nil, errors.New("password is required")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.nextUserID(ctx)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		UserID:       userID,
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		IsAdmin:      isAdmin,
	}

	if err := s.users.Create(ctx, user); err != nil {
		// the unique index is the arbiter under concurrent signups
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	return sanitizeUser(user), nil
}

func (s *userService) VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) GetByUserID(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByUserID(ctx, strings.TrimSpace(userID))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

// RegisterFingerprint marks the user as biometrically enrolled by storing the
// deterministic enrollment tag; the credential itself is persisted separately
// by the ceremony engine. Returns the stored tag.
func (s *userService) RegisterFingerprint(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	tag := webauthn.EnrollmentTag(email)
	if err := s.users.SetFingerprint(ctx, email, tag); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return tag, nil
}

// ClearFingerprint drops the enrollment tag, e.g. after the user's last
// credential is revoked.
func (s *userService) ClearFingerprint(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := s.users.SetFingerprint(ctx, email, ""); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *userService) VerifyFingerprint(ctx context.Context, email string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Fingerprint == "" {
		return nil, ErrNotEnrolled
	}
	if user.Fingerprint != webauthn.EnrollmentTag(email) {
		return nil, ErrInvalidCredentials
	}
	return sanitizeUser(user), nil
}

func (s *userService) HasFingerprint(ctx context.Context, email string) (bool, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return false, nil
		}
		return false, err
	}
	return user.Enrolled(), nil
}

func (s *userService) nextUserID(ctx context.Context) (string, error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	n, err := s.counters.Next(ctx, userIDCounterName, userIDCounterSeed)
	if err != nil {
		return "", fmt.Errorf("allocate user id: %w", err)
	}
	return fmt.Sprintf("USR-%d", n), nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := *user
	clean.PasswordHash = ""
	return &clean
}
