// Package webauthn implements the server side of the WebAuthn registration
// and authentication ceremonies: it issues challenges bound to a persisted
// ceremony record, verifies attestations and assertions against stored public
// keys, and tracks signature counters for clone detection.
package webauthn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

var (
	// ErrUserNotFound indicates the ceremony subject does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoCredentials indicates the user has no registered credentials to
	// authenticate with.
	ErrNoCredentials = errors.New("user has no registered credentials")
	// ErrCeremonyNotFound indicates the ceremony id is unknown, already
	// answered, or expired.
	ErrCeremonyNotFound = errors.New("ceremony not found or expired")
	// ErrCredentialNotFound indicates the credential does not exist or is not
	// owned by the user.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrInvalidResponse indicates the authenticator response could not be
	// parsed.
	ErrInvalidResponse = errors.New("invalid authenticator response")
	// ErrVerificationFailed indicates signature or challenge verification
	// failed.
	ErrVerificationFailed = errors.New("verification failed")
)

// MatchScore is the constant confidence percentage reported to the UI after a
// successful verification. It is a display value, not a computed biometric
// similarity; the actual gate is the assertion signature check.
const MatchScore = 98

// Engine orchestrates WebAuthn ceremonies against the user and credential
// stores.
type Engine struct {
	wa         *webauthn.WebAuthn
	cfg        Config
	users      repository.UserRepository
	creds      repository.CredentialRepository
	ceremonies repository.CeremonyRepository
	logger     *logrus.Logger
}

func NewEngine(
	cfg Config,
	users repository.UserRepository,
	creds repository.CredentialRepository,
	ceremonies repository.CeremonyRepository,
	logger *logrus.Logger,
) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	wa, err := webauthn.New(cfg.toLibrary())
	if err != nil {
		return nil, fmt.Errorf("create webauthn relying party: %w", err)
	}

	return &Engine{
		wa:         wa,
		cfg:        cfg,
		users:      users,
		creds:      creds,
		ceremonies: ceremonies,
		logger:     logger,
	}, nil
}

// ceremonyUser adapts a portal user and their stored credentials to the
// go-webauthn User interface. The user handle is the portal user id.
type ceremonyUser struct {
	user  *domain.User
	creds []domain.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.user.UserID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, len(u.creds))
	for i := range u.creds {
		out[i] = u.creds[i].ToWebAuthn()
	}
	return out
}

// BeginRegistration issues creation options for the user and persists the
// ceremony so the attestation can later be checked against this exact
// challenge. Returns the options and the ceremony id.
func (e *Engine) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, string, error) {
	cu, err := e.loadUserByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	exclusions := make([]protocol.CredentialDescriptor, len(cu.creds))
	for i, cred := range cu.creds {
		exclusions[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}

	options, session, err := e.wa.BeginRegistration(cu, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}

	ceremonyID, err := e.saveCeremony(ctx, domain.CeremonyRegistration, cu.user.UserID, session)
	if err != nil {
		return nil, "", err
	}
	return options, ceremonyID, nil
}

// FinishRegistration verifies the attestation response against the pending
// ceremony and persists the new credential. Returns the credential id in
// base64url form.
func (e *Engine) FinishRegistration(ctx context.Context, userID, ceremonyID string, response io.Reader) (string, error) {
	cu, err := e.loadUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	session, err := e.takeCeremony(ctx, ceremonyID, domain.CeremonyRegistration, cu.user.UserID)
	if err != nil {
		return "", err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	credential, err := e.wa.CreateCredential(cu, *session, parsed)
	if err != nil {
		e.logger.WithField("user_id", userID).Warnf("registration verification failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	cred := domain.CredentialFromWebAuthn(cu.user.UserID, credential)
	if err := e.creds.Save(ctx, cred); err != nil {
		return "", fmt.Errorf("save credential: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":          userID,
		"attestation_type": cred.AttestationType,
	}).Info("credential registered")

	return base64.RawURLEncoding.EncodeToString(cred.ID), nil
}

// BeginAuthentication issues assertion options for the user's registered
// credentials and persists the ceremony. Returns the options and ceremony id.
func (e *Engine) BeginAuthentication(ctx context.Context, email string) (*protocol.CredentialAssertion, string, error) {
	cu, err := e.loadUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if len(cu.creds) == 0 {
		return nil, "", ErrNoCredentials
	}

	options, session, err := e.wa.BeginLogin(cu)
	if err != nil {
		return nil, "", fmt.Errorf("begin authentication: %w", err)
	}

	ceremonyID, err := e.saveCeremony(ctx, domain.CeremonyAuthentication, cu.user.UserID, session)
	if err != nil {
		return nil, "", err
	}
	return options, ceremonyID, nil
}

// FinishAuthentication validates the assertion signature against the stored
// public key and the pending ceremony's challenge, then advances the
// credential's signature counter. Returns the authenticated user.
func (e *Engine) FinishAuthentication(ctx context.Context, email, ceremonyID string, response io.Reader) (*domain.User, error) {
	cu, err := e.loadUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	session, err := e.takeCeremony(ctx, ceremonyID, domain.CeremonyAuthentication, cu.user.UserID)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	credential, err := e.wa.ValidateLogin(cu, *session, parsed)
	if err != nil {
		e.logger.WithField("email", email).Warnf("assertion verification failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if credential.Authenticator.CloneWarning {
		e.logger.WithField("email", email).Warn("authenticator clone warning: sign counter did not advance")
	}
	if err := e.creds.UpdateCounter(ctx, credential.ID, credential.Authenticator.SignCount, credential.Authenticator.CloneWarning); err != nil {
		return nil, fmt.Errorf("update sign counter: %w", err)
	}

	return cu.user, nil
}

// RevokeCredential removes a stored credential owned by the user. The id is
// the base64url form returned from registration.
func (e *Engine) RevokeCredential(ctx context.Context, userID, credentialID string) error {
	raw, err := base64.RawURLEncoding.DecodeString(credentialID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	cred, err := e.creds.GetByCredentialID(ctx, raw)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("get credential: %w", err)
	}
	if cred.UserID != userID {
		return ErrCredentialNotFound
	}

	if err := e.creds.Delete(ctx, raw); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	e.logger.WithField("user_id", userID).Info("credential revoked")
	return nil
}

// IsRegistered reports whether the user has at least one stored credential.
func (e *Engine) IsRegistered(ctx context.Context, userID string) (bool, error) {
	creds, err := e.creds.GetByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("get credentials: %w", err)
	}
	return len(creds) > 0, nil
}

func (e *Engine) loadUserByID(ctx context.Context, userID string) (*ceremonyUser, error) {
	user, err := e.users.GetByUserID(ctx, userID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return e.withCredentials(ctx, user)
}

func (e *Engine) loadUserByEmail(ctx context.Context, email string) (*ceremonyUser, error) {
	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return e.withCredentials(ctx, user)
}

func (e *Engine) withCredentials(ctx context.Context, user *domain.User) (*ceremonyUser, error) {
	creds, err := e.creds.GetByUserID(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &ceremonyUser{user: user, creds: creds}, nil
}

func (e *Engine) saveCeremony(ctx context.Context, kind domain.CeremonyKind, userID string, session *webauthn.SessionData) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshal ceremony session: %w", err)
	}

	ceremonyID := uuid.NewString()
	err = e.ceremonies.Save(ctx, &domain.Ceremony{
		ID:        ceremonyID,
		Kind:      kind,
		UserID:    userID,
		Data:      data,
		ExpiresAt: time.Now().UTC().Add(e.cfg.CeremonyTTL),
	})
	if err != nil {
		return "", fmt.Errorf("save ceremony: %w", err)
	}
	return ceremonyID, nil
}

func (e *Engine) takeCeremony(ctx context.Context, ceremonyID string, kind domain.CeremonyKind, userID string) (*webauthn.SessionData, error) {
	ceremony, err := e.ceremonies.Take(ctx, ceremonyID)
	if err != nil {
		return nil, ErrCeremonyNotFound
	}
	if ceremony.Kind != kind || ceremony.UserID != userID {
		return nil, ErrCeremonyNotFound
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(ceremony.Data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal ceremony session: %w", err)
	}
	return &session, nil
}
