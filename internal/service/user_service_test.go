package service

import (
	"context"
	"errors"
	"testing"

	"biosecure-portal/internal/repository/sqlite"
)

func newUserService(t *testing.T) UserService {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepository(db)
	counters := sqlite.NewCounterRepository(db)
	ctx := context.Background()
	if err := users.Init(ctx); err != nil {
		t.Fatalf("init users: %v", err)
	}
	if err := counters.Init(ctx); err != nil {
		t.Fatalf("init counters: %v", err)
	}

	return NewUserService(users, counters)
}

func TestCreateUserAllocatesSequentialIDs(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	first, err := svc.CreateUser(ctx, "alice@uni.edu", "correct horse", "Alice", false)
	if err != nil {
		t.Fatalf("create first user: %v", err)
	}
	if first.UserID != "USR-1001" {
		t.Errorf("first user id = %q, want USR-1001", first.UserID)
	}
	if first.PasswordHash != "" {
		t.Errorf("password hash leaked in response")
	}
	if first.ID == "" {
		t.Errorf("internal id not assigned")
	}

	second, err := svc.CreateUser(ctx, "bob@uni.edu", "hunter2hunter2", "Bob", true)
	if err != nil {
		t.Fatalf("create second user: %v", err)
	}
	if second.UserID != "USR-1002" {
		t.Errorf("second user id = %q, want USR-1002", second.UserID)
	}
	if !second.IsAdmin {
		t.Errorf("admin flag not persisted")
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice@uni.edu", "correct horse", "Alice", false); err != nil {
		t.Fatalf("create user: %v", err)
	}

	// email uniqueness is case-insensitive
	_, err := svc.CreateUser(ctx, "ALICE@UNI.EDU", "different pass", "Alice Again", false)
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("duplicate signup error = %v, want ErrUserAlreadyExists", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "longenough"},
		{"email without at sign", "alice.uni.edu", "longenough"},
		{"empty password", "alice@uni.edu", ""},
		{"short password", "alice@uni.edu", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateUser(ctx, tc.email, tc.password, "Alice", false); err == nil {
				t.Errorf("CreateUser(%q, %q) succeeded, want error", tc.email, tc.password)
			}
		})
	}
}

func TestVerifyCredentials(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice@uni.edu", "Sup3rSecret", "Alice", false); err != nil {
		t.Fatalf("create user: %v", err)
	}

	user, err := svc.VerifyCredentials(ctx, "alice@uni.edu", "Sup3rSecret")
	if err != nil {
		t.Fatalf("verify with correct password: %v", err)
	}
	if user.Email != "alice@uni.edu" {
		t.Errorf("user email = %q", user.Email)
	}

	// password matching is exact and case sensitive
	if _, err := svc.VerifyCredentials(ctx, "alice@uni.edu", "sup3rsecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong-case password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.VerifyCredentials(ctx, "alice@uni.edu", "Sup3rSecret "); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("padded password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.VerifyCredentials(ctx, "nobody@uni.edu", "Sup3rSecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestFingerprintEnrollmentLifecycle(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "bob@x.edu", "longenough", "Bob", false); err != nil {
		t.Fatalf("create user: %v", err)
	}

	enrolled, err := svc.HasFingerprint(ctx, "bob@x.edu")
	if err != nil {
		t.Fatalf("fingerprint status: %v", err)
	}
	if enrolled {
		t.Fatalf("user reported enrolled before registration")
	}

	if _, err := svc.VerifyFingerprint(ctx, "bob@x.edu"); !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("fingerprint login before enrollment error = %v, want ErrNotEnrolled", err)
	}

	tag, err := svc.RegisterFingerprint(ctx, "bob@x.edu")
	if err != nil {
		t.Fatalf("register fingerprint: %v", err)
	}
	if tag != "FP_bobxedu_enrolled" {
		t.Errorf("enrollment tag = %q, want FP_bobxedu_enrolled", tag)
	}

	enrolled, err = svc.HasFingerprint(ctx, "bob@x.edu")
	if err != nil {
		t.Fatalf("fingerprint status after enrollment: %v", err)
	}
	if !enrolled {
		t.Errorf("user not reported enrolled after registration")
	}

	user, err := svc.VerifyFingerprint(ctx, "bob@x.edu")
	if err != nil {
		t.Fatalf("fingerprint login after enrollment: %v", err)
	}
	if user.Fingerprint != tag {
		t.Errorf("fingerprint = %q, want %q", user.Fingerprint, tag)
	}

	if err := svc.ClearFingerprint(ctx, "bob@x.edu"); err != nil {
		t.Fatalf("clear fingerprint: %v", err)
	}
	enrolled, err = svc.HasFingerprint(ctx, "bob@x.edu")
	if err != nil {
		t.Fatalf("fingerprint status after clear: %v", err)
	}
	if enrolled {
		t.Errorf("user still reported enrolled after clearing")
	}
	if err := svc.ClearFingerprint(ctx, "ghost@uni.edu"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("clear for unknown user error = %v, want ErrUserNotFound", err)
	}
}

func TestFingerprintStatusUnknownUser(t *testing.T) {
	svc := newUserService(t)

	enrolled, err := svc.HasFingerprint(context.Background(), "ghost@uni.edu")
	if err != nil {
		t.Fatalf("fingerprint status for unknown user: %v", err)
	}
	if enrolled {
		t.Errorf("unknown user reported enrolled")
	}
}

func TestRegisterFingerprintUnknownUser(t *testing.T) {
	svc := newUserService(t)

	if _, err := svc.RegisterFingerprint(context.Background(), "ghost@uni.edu"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("register for unknown user error = %v, want ErrUserNotFound", err)
	}
}

func TestListUsersOmitsPasswordHashes(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	for _, email := range []string{"a@uni.edu", "b@uni.edu"} {
		if _, err := svc.CreateUser(ctx, email, "longenough", "Someone", false); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
	}

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("listed %d users, want 2", len(users))
	}
	for _, u := range users {
		if u.PasswordHash != "" {
			t.Errorf("password hash leaked for %s", u.Email)
		}
	}
}
