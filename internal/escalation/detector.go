// Package escalation classifies privilege-escalation attempts. The detector
// keeps a bounded sliding window of recent attempts per user and a blacklist
// of users who crossed the attempt threshold. Attempt history is transient;
// the durable record of each decision lives in the audit log.
package escalation

import (
	"log"
	"sync"
	"time"

	"attendguard/internal/rbac"
)

// Severity grades a detected escalation.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Action tells the caller what to do with the request and the user's sessions.
type Action string

const (
	ActionBlockAndLog           Action = "BLOCK_AND_LOG"
	ActionBlockRequest          Action = "BLOCK_REQUEST"
	ActionBlockAndInvalidateAll Action = "BLOCK_AND_INVALIDATE_ALL"
)

// Attack-shape flags attached to detection results.
const (
	FlagMultiSessionEscalation = "MULTI_SESSION_ESCALATION"
	FlagTargetedEndpointAttack = "TARGETED_ENDPOINT_ATTACK"
)

// Pattern types returned by AnalyzePattern.
const (
	PatternNone          = "NONE"
	PatternTokenReplay   = "TOKEN_REPLAY_DETECTED"
	PatternCrossSession  = "CROSS_SESSION_COLLUSION"
	PatternRapidAttempts = "RAPID_ESCALATION_ATTEMPTS"
)

// ThreatLevel is a coarse per-user risk rating for dashboards. It never
// decides access by itself.
type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "SAFE"
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// Attempt is one observed escalation attempt.
type Attempt struct {
	UserID        string
	SessionID     string
	CurrentRole   rbac.Role
	RequestedRole rbac.Role
	Endpoint      string
	Timestamp     time.Time
}

// Result is the outcome of DetectEscalation.
type Result struct {
	Detected    bool
	Severity    Severity
	Action      Action
	Flags       []string
	Blacklisted bool
}

// Pattern carries out-of-band attack signals supplied by the caller, e.g. a
// replayed token observed at the token layer.
type Pattern struct {
	UserID       string
	AttemptCount int
	Interval     time.Duration
	SessionIDs   []string
	TokenReplay  bool
}

// PatternResult is the outcome of AnalyzePattern.
type PatternResult struct {
	Suspicious bool
	Action     Action
	Type       string
}

// SensitiveMatcher reports whether an endpoint belongs to the configured
// sensitive-path set. *policy.Table implements it.
type SensitiveMatcher interface {
	IsSensitive(endpoint string) bool
}

// Detector holds per-user attempt windows and the blacklist. The blacklist
// has its own lock so membership checks, which sit on every request's fast
// path, are never starved by attempt recording.
type Detector struct {
	mu         sync.RWMutex
	attempts   map[string][]Attempt
	historical map[string]int

	blmu      sync.RWMutex
	blacklist map[string]struct{}

	window      time.Duration
	maxAttempts int
	sensitive   SensitiveMatcher
	nowF        func() time.Time

	pruneOnce sync.Once
	done      chan struct{}
}

// NewDetector returns a Detector. window bounds how long attempts count
// against a user; maxAttempts within the window triggers blacklisting.
// sensitive may be nil, disabling targeted-endpoint flagging.
func NewDetector(window time.Duration, maxAttempts int, sensitive SensitiveMatcher) *Detector {
	return &Detector{
		attempts:    make(map[string][]Attempt),
		historical:  make(map[string]int),
		blacklist:   make(map[string]struct{}),
		window:      window,
		maxAttempts: maxAttempts,
		sensitive:   sensitive,
		nowF:        func() time.Time { return time.Now().UTC() },
		done:        make(chan struct{}),
	}
}

// DetectEscalation classifies one attempt. An attempt is an escalation iff
// the requested role outranks the current role, or the requested role is the
// top role while the current one is not. Detected attempts are recorded into
// the user's window and the recent history decides severity and action.
func (d *Detector) DetectEscalation(a Attempt) Result {
	if a.Timestamp.IsZero() {
		a.Timestamp = d.nowF()
	}

	if d.IsBlacklisted(a.UserID) {
		// Blacklisted users stay blocked no matter what they ask for.
		return Result{
			Detected:    true,
			Severity:    SeverityCritical,
			Action:      ActionBlockAndInvalidateAll,
			Blacklisted: true,
		}
	}

	topGrab := a.RequestedRole == rbac.RoleMasterAdmin && a.CurrentRole != rbac.RoleMasterAdmin
	if !rbac.Outranks(a.RequestedRole, a.CurrentRole) && !topGrab {
		return Result{Detected: false}
	}

	d.mu.Lock()
	recent := pruneBefore(d.attempts[a.UserID], a.Timestamp.Add(-d.window))
	recent = append(recent, a)
	d.attempts[a.UserID] = recent
	d.historical[a.UserID]++
	windowCopy := make([]Attempt, len(recent))
	copy(windowCopy, recent)
	d.mu.Unlock()

	res := Result{Detected: true, Severity: SeverityMedium, Action: ActionBlockAndLog}

	if distinctSessions(windowCopy) > 1 {
		res.Severity = SeverityHigh
		res.Action = ActionBlockRequest
		res.Flags = append(res.Flags, FlagMultiSessionEscalation)
	}
	if d.targetedAttack(windowCopy) {
		res.Severity = SeverityHigh
		res.Action = ActionBlockRequest
		res.Flags = append(res.Flags, FlagTargetedEndpointAttack)
	}
	if topGrab {
		// Grabbing the top role is a critical incident on the first
		// attempt: every session the user holds must go, even though the
		// user is not yet blacklisted.
		res.Severity = SeverityCritical
		res.Action = ActionBlockAndInvalidateAll
	}
	if len(windowCopy) >= d.maxAttempts {
		d.addToBlacklist(a.UserID)
		res.Severity = SeverityCritical
		res.Action = ActionBlockAndInvalidateAll
		res.Blacklisted = true
	}
	return res
}

// AnalyzePattern classifies attack shapes the caller assembled from
// out-of-band signals. Token replay is the most severe: the credential itself
// is compromised, so every session must go.
func (d *Detector) AnalyzePattern(p Pattern) PatternResult {
	if p.TokenReplay {
		return PatternResult{Suspicious: true, Action: ActionBlockAndInvalidateAll, Type: PatternTokenReplay}
	}
	if distinctStrings(p.SessionIDs) > 1 {
		return PatternResult{Suspicious: true, Action: ActionBlockRequest, Type: PatternCrossSession}
	}
	if p.AttemptCount >= d.maxAttempts && p.Interval > 0 && p.Interval <= d.window {
		return PatternResult{Suspicious: true, Action: ActionBlockRequest, Type: PatternRapidAttempts}
	}
	return PatternResult{Suspicious: false, Type: PatternNone}
}

// UserThreatLevel rates userID from blacklist membership and attempt history.
func (d *Detector) UserThreatLevel(userID string) ThreatLevel {
	if d.IsBlacklisted(userID) {
		return ThreatCritical
	}
	now := d.nowF()
	d.mu.RLock()
	recent := len(pruneBefore(d.attempts[userID], now.Add(-d.window)))
	historical := d.historical[userID]
	d.mu.RUnlock()

	switch {
	case recent >= 2:
		return ThreatHigh
	case recent == 1:
		return ThreatMedium
	case historical > 0:
		return ThreatLow
	default:
		return ThreatSafe
	}
}

// IsBlacklisted reports blacklist membership. Fast-path read.
func (d *Detector) IsBlacklisted(userID string) bool {
	d.blmu.RLock()
	defer d.blmu.RUnlock()
	_, ok := d.blacklist[userID]
	return ok
}

// RemoveFromBlacklist clears userID from the blacklist and reports whether it
// was present. This is the explicit administrative reset; the detector never
// un-blacklists on its own.
func (d *Detector) RemoveFromBlacklist(userID string) bool {
	d.blmu.Lock()
	defer d.blmu.Unlock()
	_, ok := d.blacklist[userID]
	delete(d.blacklist, userID)
	return ok
}

// BlacklistedCount returns the current blacklist size.
func (d *Detector) BlacklistedCount() int {
	d.blmu.RLock()
	defer d.blmu.RUnlock()
	return len(d.blacklist)
}

// StartPruner launches the periodic history prune. Stop cancels it. Blacklist
// entries are never pruned.
func (d *Detector) StartPruner(interval time.Duration) {
	d.pruneOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := d.prune(); n > 0 {
						log.Printf("escalation: pruned %d stale attempts", n)
					}
				case <-d.done:
					return
				}
			}
		}()
	})
}

// Stop cancels the background pruner. Safe to call once.
func (d *Detector) Stop() {
	close(d.done)
}

func (d *Detector) addToBlacklist(userID string) {
	d.blmu.Lock()
	defer d.blmu.Unlock()
	d.blacklist[userID] = struct{}{}
}

// prune drops attempts older than the window across all users and returns the
// number removed.
func (d *Detector) prune() int {
	cutoff := d.nowF().Add(-d.window)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for user, list := range d.attempts {
		kept := pruneBefore(list, cutoff)
		removed += len(list) - len(kept)
		if len(kept) == 0 {
			delete(d.attempts, user)
		} else {
			d.attempts[user] = kept
		}
	}
	return removed
}

// targetedAttack reports whether the window shows concentration on sensitive
// endpoints: at least two attempts, every one on a sensitive path.
func (d *Detector) targetedAttack(window []Attempt) bool {
	if d.sensitive == nil || len(window) < 2 {
		return false
	}
	for _, a := range window {
		if a.Endpoint == "" || !d.sensitive.IsSensitive(a.Endpoint) {
			return false
		}
	}
	return true
}

func pruneBefore(list []Attempt, cutoff time.Time) []Attempt {
	out := list[:0:0]
	for _, a := range list {
		if !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func distinctSessions(list []Attempt) int {
	seen := make(map[string]struct{}, len(list))
	for _, a := range list {
		if a.SessionID != "" {
			seen[a.SessionID] = struct{}{}
		}
	}
	return len(seen)
}

func distinctStrings(list []string) int {
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		if s != "" {
			seen[s] = struct{}{}
		}
	}
	return len(seen)
}
