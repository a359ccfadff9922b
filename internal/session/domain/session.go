package domain

import (
	"time"

	"attendguard/internal/rbac"
)

// Session represents an authenticated user session. Role is fixed at
// creation; any path that appears to change it destroys the session instead.
type Session struct {
	ID           string
	UserID       string
	Role         rbac.Role
	Email        string
	CreatedAt    time.Time
	LastActivity time.Time
	IPAddress    string
	UserAgent    string
	MFACompleted bool
}

// IdleFor returns how long the session has been idle at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Age returns how long ago the session was created at now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
