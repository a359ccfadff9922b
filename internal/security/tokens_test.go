package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"attendguard/internal/rbac"
)

func TestIssueAndValidate(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}

	token, jti, expiresAt, err := p.Issue("sess-1", "user-1", rbac.RoleManager)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" || jti == "" {
		t.Fatal("expected token and jti")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expected a future expiry")
	}

	id, err := p.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if id.SessionID != "sess-1" || id.UserID != "user-1" || id.Role != rbac.RoleManager {
		t.Fatalf("identity = %+v", id)
	}
	if id.JTI != jti {
		t.Fatalf("jti = %q, want %q", id.JTI, jti)
	}
}

func TestValidate_RejectsGarbage(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	for _, bad := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := p.Validate(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Validate(%q) err = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestValidate_RejectsModifiedToken(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, _, err := p.Issue("sess-1", "user-1", rbac.RoleEmployee)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	// Splice the payload from a second token onto the first signature.
	other, _, _, err := p.Issue("sess-1", "user-1", rbac.RoleMasterAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	spliced := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]
	if _, err := p.Validate(spliced); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("spliced token err = %v, want ErrInvalidToken", err)
	}
}

func TestValidate_RejectsWrongIssuer(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	issuerA := NewTokenProvider(signer, pub, "issuer-a", "aud", time.Minute)
	issuerB := NewTokenProvider(signer, pub, "issuer-b", "aud", time.Minute)

	token, _, _, err := issuerA.Issue("sess-1", "user-1", rbac.RoleEmployee)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuerB.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-issuer err = %v, want ErrInvalidToken", err)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("some-secret")
	if len(fp) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(fp))
	}
	if !FingerprintEqual("some-secret", fp) {
		t.Fatal("matching secret must compare equal")
	}
	if FingerprintEqual("other-secret", fp) {
		t.Fatal("different secret must not compare equal")
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("correct horse")); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Fatal("wrong password must not compare")
	}
}
