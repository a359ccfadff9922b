package domain

import "time"

// Severity grades an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Event types recorded by the gateway and its collaborators.
const (
	EventAuthorizationGranted = "AUTHORIZATION_GRANTED"
	EventAuthorizationDenied  = "AUTHORIZATION_DENIED"
	EventEscalationAttempt    = "PRIVILEGE_ESCALATION_ATTEMPT"
	EventRoleTampering        = "ROLE_TAMPERING_DETECTED"
	EventSessionHijack        = "SESSION_HIJACK_SUSPECTED"
	EventTokenManipulation    = "TOKEN_MANIPULATION_DETECTED"
	EventUserBlacklisted      = "USER_BLACKLISTED"
	EventUserUnblacklisted    = "USER_UNBLACKLISTED"
	EventIntegrityViolation   = "AUDIT_INTEGRITY_VIOLATION"
	EventReAuthCompleted      = "RE_AUTHENTICATION_COMPLETED"
)

// Entry is one immutable, hash-chained audit record. Hash covers the JSON
// encoding of the entry with Hash itself cleared, so PreviousHash is inside
// the signed content and the chain cannot be re-spliced undetected.
type Entry struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	UserID       string         `json:"user_id,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
	PreviousHash string         `json:"previous_hash"`
	Hash         string         `json:"hash,omitempty"`
}

// CriticalCategory reports whether typ belongs to the escalation/tamper
// family that is always treated as critical regardless of recorded severity.
func CriticalCategory(typ string) bool {
	switch typ {
	case EventEscalationAttempt, EventRoleTampering, EventSessionHijack,
		EventTokenManipulation, EventUserBlacklisted, EventIntegrityViolation:
		return true
	}
	return false
}
