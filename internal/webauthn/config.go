package webauthn

import (
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Config configures the relying party and ceremony policy.
type Config struct {
	// RPID is the relying party identifier, typically the portal's domain.
	RPID string

	// RPDisplayName is the human-readable relying party name shown in
	// authenticator prompts.
	RPDisplayName string

	// RPOrigins are the origins allowed to complete ceremonies.
	RPOrigins []string

	// Timeout applies to both ceremonies. Default: 60s.
	Timeout time.Duration

	// UserVerification is "required", "preferred" or "discouraged".
	UserVerification string

	// Attestation is "none", "indirect" or "direct".
	Attestation string

	// AuthenticatorAttachment is "platform", "cross-platform" or "" (any).
	// The portal targets built-in fingerprint readers, so the default is
	// "platform".
	AuthenticatorAttachment string

	// CeremonyTTL bounds how long an issued challenge stays answerable.
	// Default: 5m.
	CeremonyTTL time.Duration
}

func (c *Config) SetDefaults() {
	if c.RPDisplayName == "" {
		c.RPDisplayName = "BioSecure - University Management System"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.Attestation == "" {
		c.Attestation = "none"
	}
	if c.AuthenticatorAttachment == "" {
		c.AuthenticatorAttachment = "platform"
	}
	if c.CeremonyTTL == 0 {
		c.CeremonyTTL = 5 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("rp id is required")
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("at least one rp origin is required")
	}
	switch c.UserVerification {
	case "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}
	switch c.Attestation {
	case "none", "indirect", "direct":
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.Attestation)
	}
	switch c.AuthenticatorAttachment {
	case "", "platform", "cross-platform":
	default:
		return fmt.Errorf("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}
	return nil
}

func (c *Config) toLibrary() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:          c.RPID,
		RPDisplayName: c.RPDisplayName,
		RPOrigins:     c.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.Timeout,
				TimeoutUVD: c.Timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.Timeout,
				TimeoutUVD: c.Timeout,
			},
		},
	}

	switch c.Attestation {
	case "none":
		cfg.AttestationPreference = protocol.PreferNoAttestation
	case "indirect":
		cfg.AttestationPreference = protocol.PreferIndirectAttestation
	case "direct":
		cfg.AttestationPreference = protocol.PreferDirectAttestation
	}

	cfg.AuthenticatorSelection = protocol.AuthenticatorSelection{}
	switch c.UserVerification {
	case "required":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationRequired
	case "preferred":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationPreferred
	case "discouraged":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationDiscouraged
	}
	switch c.AuthenticatorAttachment {
	case "platform":
		cfg.AuthenticatorSelection.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		cfg.AuthenticatorSelection.AuthenticatorAttachment = protocol.CrossPlatform
	}

	return cfg
}
