// Package session holds the in-memory registry of active sessions. The store
// owns session lifecycle end to end: creation, validation, tamper and hijack
// handling, re-authentication requirements, and idle expiry.
package session

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendguard/internal/policy"
	"attendguard/internal/rbac"
	"attendguard/internal/session/domain"
)

// Sentinel errors; the gateway maps them to decision reasons.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrRoleTampering   = errors.New("session role tampering detected")
	ErrSessionHijack   = errors.New("session hijack suspected")
	ErrInvalidInput    = errors.New("invalid session input")
)

// Action describes what a failed role-change attempt did to session state.
type Action string

const (
	ActionNone                   Action = "NONE"
	ActionSessionInvalidated     Action = "SESSION_INVALIDATED"
	ActionAllSessionsInvalidated Action = "ALL_SESSIONS_INVALIDATED"
)

// Re-authentication methods surfaced to callers.
const (
	MethodPasswordConfirmation = "PASSWORD_CONFIRMATION"
	MethodMFAVerification      = "MFA_VERIFICATION"
)

// RoleChangeResult is the outcome of AttemptRoleChange. Success is always
// false: sessions are never promoted in place.
type RoleChangeResult struct {
	Success bool
	Action  Action
}

// ReAuthRequirement lists the methods a caller must complete before a
// sensitive action proceeds.
type ReAuthRequirement struct {
	Required bool
	Methods  []string
}

// Store is a concurrent session registry keyed by session ID with a
// userID-to-sessions index for bulk invalidation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byUser   map[string]map[string]struct{}

	sessionTimeout        time.Duration
	criticalActionTimeout time.Duration
	nowF                  func() time.Time

	sweepOnce sync.Once
	done      chan struct{}
}

// NewStore returns a Store. sessionTimeout bounds idle time before expiry;
// criticalActionTimeout bounds session age and idle time before sensitive
// actions demand re-authentication.
func NewStore(sessionTimeout, criticalActionTimeout time.Duration) *Store {
	return &Store{
		sessions:              make(map[string]*domain.Session),
		byUser:                make(map[string]map[string]struct{}),
		sessionTimeout:        sessionTimeout,
		criticalActionTimeout: criticalActionTimeout,
		nowF:                  func() time.Time { return time.Now().UTC() },
		done:                  make(chan struct{}),
	}
}

// Create registers a new session for userID with a fixed role and returns its
// unguessable identifier.
func (s *Store) Create(userID string, role rbac.Role, email, ipAddress, userAgent string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidInput
	}
	if !rbac.Known(role) {
		return "", ErrInvalidInput
	}
	now := s.nowF()
	sess := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Role:         role,
		Email:        strings.TrimSpace(email),
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][sess.ID] = struct{}{}
	return sess.ID, nil
}

// Validate checks that sessionID exists, is not expired, belongs to userID,
// and still carries role. On success it refreshes last activity and returns
// nil. A user mismatch is a hijack signature and invalidates every session
// owned by the session's real owner; a role mismatch is a tamper signature
// and invalidates just this session.
func (s *Store) Validate(sessionID, userID string, role rbac.Role) error {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.IdleFor(now) > s.sessionTimeout {
		s.removeLocked(sessionID)
		return ErrSessionExpired
	}
	if sess.UserID != userID {
		s.invalidateUserLocked(sess.UserID)
		return ErrSessionHijack
	}
	if sess.Role != role {
		s.removeLocked(sessionID)
		return ErrRoleTampering
	}
	sess.LastActivity = now
	return nil
}

// AttemptRoleChange handles an in-session role-change request. Such requests
// are never legitimate: requesting the top role from a lower session is a
// critical incident that invalidates every session for the user; any other
// requested change invalidates just this session. Real role changes happen
// through a re-authenticated administrative flow, never here.
func (s *Store) AttemptRoleChange(sessionID string, newRole rbac.Role) (RoleChangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return RoleChangeResult{Success: false, Action: ActionNone}, ErrSessionNotFound
	}
	if newRole == rbac.RoleMasterAdmin && sess.Role != rbac.RoleMasterAdmin {
		s.invalidateUserLocked(sess.UserID)
		return RoleChangeResult{Success: false, Action: ActionAllSessionsInvalidated}, nil
	}
	s.removeLocked(sessionID)
	return RoleChangeResult{Success: false, Action: ActionSessionInvalidated}, nil
}

// InvalidateUserSessions removes every session owned by userID and returns
// how many were removed.
func (s *Store) InvalidateUserSessions(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidateUserLocked(userID)
}

// RequireReAuthentication reports which re-authentication methods the session
// must complete before performing an action at the given sensitivity.
func (s *Store) RequireReAuthentication(sessionID, action string, sensitivity policy.Sensitivity) (ReAuthRequirement, error) {
	now := s.nowF()
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ReAuthRequirement{}, ErrSessionNotFound
	}

	var methods []string
	switch sensitivity {
	case policy.SensitivityCritical:
		if sess.Age(now) > s.criticalActionTimeout {
			methods = append(methods, MethodPasswordConfirmation)
		}
		if !sess.MFACompleted {
			methods = append(methods, MethodMFAVerification)
		}
	case policy.SensitivityHigh:
		if sess.IdleFor(now) > s.criticalActionTimeout {
			methods = append(methods, MethodPasswordConfirmation)
		}
	}
	return ReAuthRequirement{Required: len(methods) > 0, Methods: methods}, nil
}

// MarkMFACompleted records that the session finished MFA verification.
func (s *Store) MarkMFACompleted(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.MFACompleted = true
	return nil
}

// Get returns a copy of the session, or nil if absent. Read-only view for
// dashboards and tests.
func (s *Store) Get(sessionID string) *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CountForUser returns the number of live sessions owned by userID.
func (s *Store) CountForUser(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}

// StartSweeper launches the periodic expiry sweep. Stop cancels it.
func (s *Store) StartSweeper(interval time.Duration) {
	s.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := s.sweep(); n > 0 {
						log.Printf("session: swept %d expired sessions", n)
					}
				case <-s.done:
					return
				}
			}
		}()
	})
}

// Stop cancels the background sweeper. Safe to call once.
func (s *Store) Stop() {
	close(s.done)
}

// sweep removes sessions idle beyond the session timeout and returns the
// number removed.
func (s *Store) sweep() int {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.IdleFor(now) > s.sessionTimeout {
			s.removeLocked(id)
			removed++
		}
	}
	return removed
}

func (s *Store) removeLocked(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	if owned := s.byUser[sess.UserID]; owned != nil {
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
}

func (s *Store) invalidateUserLocked(userID string) int {
	owned := s.byUser[userID]
	count := len(owned)
	for id := range owned {
		delete(s.sessions, id)
	}
	delete(s.byUser, userID)
	return count
}
