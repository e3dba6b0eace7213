package webauthn

import (
	"strings"
	"testing"
)

func TestFallbackIdentifierShape(t *testing.T) {
	id := FallbackIdentifier()

	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 || parts[0] != "FP" {
		t.Fatalf("fallback id = %q, want FP_<timestamp>_<random>", id)
	}
	if len(parts[2]) != 16 {
		t.Errorf("random suffix %q has length %d, want 16", parts[2], len(parts[2]))
	}
	for _, r := range parts[2] {
		if !strings.ContainsRune(fallbackAlphabet, r) {
			t.Errorf("random suffix contains %q, outside base36 alphabet", r)
		}
	}

	if !IsFallbackIdentifier(id) {
		t.Errorf("IsFallbackIdentifier(%q) = false", id)
	}
}

func TestFallbackIdentifiersAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := FallbackIdentifier()
		if seen[id] {
			t.Fatalf("duplicate fallback id %q", id)
		}
		seen[id] = true
	}
}

func TestIsFallbackIdentifier(t *testing.T) {
	if IsFallbackIdentifier("pQz8_real_credential") {
		t.Errorf("non-FP id reported as fallback")
	}
	if !IsFallbackIdentifier("FP_1700000000000_abcdef1234567890") {
		t.Errorf("FP_ id not reported as fallback")
	}
}

func TestEnrollmentTag(t *testing.T) {
	cases := []struct {
		email string
		want  string
	}{
		{"bob@x.edu", "FP_bobxedu_enrolled"},
		{"Alice@Uni.EDU", "FP_aliceuniedu_enrolled"},
		{"jo.anne+test@school.org", "FP_joannetestschoolorg_enrolled"},
	}
	for _, tc := range cases {
		if got := EnrollmentTag(tc.email); got != tc.want {
			t.Errorf("EnrollmentTag(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}
