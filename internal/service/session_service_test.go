package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
	"biosecure-portal/internal/repository/sqlite"
)

const testSecret = "test-secret"

func newSessionFixture(t *testing.T) (SessionService, repository.SessionRepository, *domain.User) {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	users := sqlite.NewUserRepository(db)
	counters := sqlite.NewCounterRepository(db)
	sessions := sqlite.NewSessionRepository(db)
	for _, init := range []func(context.Context) error{users.Init, counters.Init, sessions.Init} {
		if err := init(ctx); err != nil {
			t.Fatalf("init repository: %v", err)
		}
	}

	userSvc := NewUserService(users, counters)
	user, err := userSvc.CreateUser(ctx, "alice@uni.edu", "longenough", "Alice", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	return NewSessionService(sessions, testSecret, DefaultSessionTTL), sessions, user
}

func TestSessionCreateAndGet(t *testing.T) {
	svc, _, user := newSessionFixture(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, user)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Token == "" {
		t.Fatalf("session token is empty")
	}

	wantExpiry := time.Now().Add(DefaultSessionTTL)
	if d := session.ExpiresAt.Sub(wantExpiry); d < -time.Minute || d > time.Minute {
		t.Errorf("session expiry %v not ~24h out", session.ExpiresAt)
	}

	got, err := svc.Get(ctx, session.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.User.UserID != user.UserID {
		t.Errorf("session user = %q, want %q", got.User.UserID, user.UserID)
	}
	if got.User.PasswordHash != "" {
		t.Errorf("password hash leaked through session")
	}
}

func TestSessionGetRejectsForgedToken(t *testing.T) {
	svc, _, user := newSessionFixture(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, user); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// signed with the wrong secret
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.UserID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}

	if _, err := svc.Get(ctx, forged); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("forged token error = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.Get(ctx, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("empty token error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionLazyExpiration(t *testing.T) {
	svc, sessions, user := newSessionFixture(t)
	ctx := context.Background()

	// a token whose signature is valid but whose stored record is already past
	// its expiry
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.UserID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	expired := &domain.Session{
		User:      user,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
		CreatedAt: time.Now().UTC().Add(-25 * time.Hour),
	}
	if err := sessions.Save(ctx, expired); err != nil {
		t.Fatalf("save expired session: %v", err)
	}

	if _, err := svc.Get(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session error = %v, want ErrSessionNotFound", err)
	}

	// the expired record was deleted on access
	if _, err := sessions.Get(ctx, token); err == nil {
		t.Errorf("expired session record still present after read")
	}

	// repeated reads miss cleanly
	if _, err := svc.Get(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second read error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionLogout(t *testing.T) {
	svc, _, user := newSessionFixture(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, user)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Get(ctx, session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session after logout error = %v, want ErrSessionNotFound", err)
	}

	// logging out an unknown token is not an error
	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Errorf("repeated logout: %v", err)
	}
}
