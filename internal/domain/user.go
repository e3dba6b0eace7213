package domain

import "time"

// User represents a portal account. UserID is the human-facing identifier
// (USR-1001, USR-1002, ...) allocated from a persisted counter; ID is a random
// internal record id.
type User struct {
	UserID       string
	ID           string
	Email        string
	PasswordHash string
	Name         string
	IsAdmin      bool
	// Fingerprint holds the enrollment tag (FP_<email>_enrolled) once a
	// biometric credential has been registered; empty means not enrolled.
	Fingerprint string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Enrolled reports whether the user has completed biometric enrollment.
func (u *User) Enrolled() bool {
	return u != nil && u.Fingerprint != ""
}

// Session is an authenticated session. It is created on successful login,
// invalidated lazily once ExpiresAt has passed, and removed on logout.
type Session struct {
	User      *User
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Enrollment is an intake record captured before the WebAuthn ceremony
// completes. CredentialID may be a real credential identifier or a fallback
// FP_<timestamp>_<random> value from environments without a platform
// authenticator.
type Enrollment struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	CredentialID string
	Fallback     bool
	EnrolledAt   time.Time
}

// AuthLog records a single authentication or verification attempt.
type AuthLog struct {
	ID         int64
	UserID     string
	Email      string
	Method     string
	Success    bool
	MatchScore int
	At         time.Time
}

// Authentication methods recorded in the audit log.
const (
	AuthMethodPassword    = "password"
	AuthMethodFingerprint = "fingerprint"
	AuthMethodWebAuthn    = "webauthn"
)
