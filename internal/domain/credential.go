package domain

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Credential is a registered public-key credential, scoped to a user. It
// carries everything needed to validate a later assertion: the COSE public
// key, the signature counter for clone detection, and authenticator flags.
type Credential struct {
	ID              []byte
	UserID          string
	PublicKey       []byte
	AttestationType string
	Transport       []protocol.AuthenticatorTransport
	Flags           CredentialFlags
	AAGUID          []byte
	SignCount       uint32
	CloneWarning    bool
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// CredentialFlags captures authenticator capability flags observed at
// registration.
type CredentialFlags struct {
	UserPresent    bool
	UserVerified   bool
	BackupEligible bool
	BackupState    bool
}

// ToWebAuthn converts the stored credential into the go-webauthn type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
	}
}

// CredentialFromWebAuthn builds a stored credential from a freshly verified
// go-webauthn credential.
func CredentialFromWebAuthn(userID string, wc *webauthn.Credential) *Credential {
	return &Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		AAGUID:       wc.Authenticator.AAGUID,
		SignCount:    wc.Authenticator.SignCount,
		CloneWarning: wc.Authenticator.CloneWarning,
		CreatedAt:    time.Now().UTC(),
	}
}

// Ceremony is a pending WebAuthn ceremony: the server-issued challenge and
// user handle awaiting the authenticator's response. Ceremonies are
// single-use and expire if not completed.
type Ceremony struct {
	ID        string
	Kind      CeremonyKind
	UserID    string
	Data      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

type CeremonyKind string

const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
)
