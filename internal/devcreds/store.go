// Package devcreds provides an in-memory credential store used to satisfy
// password re-confirmation and MFA checks in development and tests. Not a
// user directory; production deployments plug a real verifier into the
// gateway instead.
package devcreds

import (
	"context"
	"sync"

	"attendguard/internal/security"
)

// Verifier checks re-authentication credentials for a user.
type Verifier interface {
	// VerifyPassword reports whether password matches the user's stored
	// credential. Unknown users always fail.
	VerifyPassword(ctx context.Context, userID string, password []byte) bool
	// VerifyMFACode reports whether code matches the user's pending MFA code.
	// A successful check consumes the code.
	VerifyMFACode(ctx context.Context, userID, code string) bool
}

type record struct {
	passwordHash string
	mfaCodeFP    string
}

// MemoryStore is an in-memory Verifier implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	m      map[string]record
	hasher *security.Hasher
}

// NewMemoryStore returns an empty dev credential store.
func NewMemoryStore(hasher *security.Hasher) *MemoryStore {
	return &MemoryStore{
		m:      make(map[string]record),
		hasher: hasher,
	}
}

// SetPassword stores a bcrypt hash of password for userID.
func (s *MemoryStore) SetPassword(ctx context.Context, userID string, password []byte) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.m[userID]
	r.passwordHash = hash
	s.m[userID] = r
	return nil
}

// SetMFACode stores the fingerprint of a pending MFA code for userID,
// replacing any previous one. The raw code is never retained.
func (s *MemoryStore) SetMFACode(ctx context.Context, userID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.m[userID]
	r.mfaCodeFP = security.Fingerprint(code)
	s.m[userID] = r
}

// VerifyPassword reports whether password matches the stored credential.
func (s *MemoryStore) VerifyPassword(ctx context.Context, userID string, password []byte) bool {
	s.mu.RLock()
	r, ok := s.m[userID]
	s.mu.RUnlock()
	if !ok || r.passwordHash == "" {
		return false
	}
	return s.hasher.Compare(r.passwordHash, password) == nil
}

// VerifyMFACode reports whether code matches the pending code and consumes it.
func (s *MemoryStore) VerifyMFACode(ctx context.Context, userID, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[userID]
	if !ok || r.mfaCodeFP == "" || !security.FingerprintEqual(code, r.mfaCodeFP) {
		return false
	}
	r.mfaCodeFP = ""
	s.m[userID] = r
	return true
}
