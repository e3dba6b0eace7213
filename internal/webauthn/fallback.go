package webauthn

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const fallbackAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var tagStrip = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// FallbackIdentifier synthesizes a placeholder credential identifier of shape
// FP_<timestamp>_<random> for clients without a platform authenticator
// (preview and iframe environments). It is an enrollment marker, not a
// credential.
func FallbackIdentifier() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = fallbackAlphabet[int(b)%len(fallbackAlphabet)]
	}
	return fmt.Sprintf("FP_%d_%s", time.Now().UnixMilli(), buf)
}

// IsFallbackIdentifier reports whether id has the fallback FP_ shape.
func IsFallbackIdentifier(id string) bool {
	return strings.HasPrefix(id, "FP_")
}

// EnrollmentTag derives the deterministic per-email enrollment tag stored in
// the user record: FP_<email>_enrolled, lowercased and stripped of every
// character outside [A-Za-z0-9_].
func EnrollmentTag(email string) string {
	return tagStrip.ReplaceAllString("FP_"+strings.ToLower(email)+"_enrolled", "")
}
