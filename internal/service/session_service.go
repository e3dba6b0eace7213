package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

// ErrSessionNotFound is returned when a session token is unknown, expired, or
// fails signature verification.
var ErrSessionNotFound = errors.New("session not found or expired")

// DefaultSessionTTL matches the portal's 24 hour session lifetime.
const DefaultSessionTTL = 24 * time.Hour

// SessionService manages the authenticated-session lifecycle. Sessions are
// created on successful login, read lazily (expired records are deleted on
// access), and removed on logout.
type SessionService interface {
	Create(ctx context.Context, user *domain.User) (*domain.Session, error)
	Get(ctx context.Context, token string) (*domain.Session, error)
	Logout(ctx context.Context, token string) error
}

type sessionService struct {
	sessions repository.SessionRepository
	secret   []byte
	ttl      time.Duration
}

func NewSessionService(sessions repository.SessionRepository, secret string, ttl time.Duration) SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionService{
		sessions: sessions,
		secret:   []byte(secret),
		ttl:      ttl,
	}
}

func (s *sessionService) Create(ctx context.Context, user *domain.User) (*domain.Session, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   user.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	session := &domain.Session{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	if _, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}); err != nil {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	if session.Expired(time.Now().UTC()) {
		// lazy expiration: drop the record so later reads miss cleanly
		_ = s.sessions.Delete(ctx, token)
		return nil, ErrSessionNotFound
	}

	session.User = sanitizeUser(session.User)
	return session, nil
}

func (s *sessionService) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}
