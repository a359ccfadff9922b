package escalation

import (
	"sync"
	"testing"
	"time"

	"attendguard/internal/rbac"
)

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

type fakeMatcher struct{ paths map[string]bool }

func (f *fakeMatcher) IsSensitive(endpoint string) bool { return f.paths[endpoint] }

func newTestDetector() *Detector {
	return NewDetector(60*time.Second, 3, &fakeMatcher{paths: map[string]bool{
		"/api/admin/settings": true,
		"/api/roles/assign":   true,
	}})
}

func attempt(user, session string, current, requested rbac.Role, endpoint string) Attempt {
	return Attempt{
		UserID:        user,
		SessionID:     session,
		CurrentRole:   current,
		RequestedRole: requested,
		Endpoint:      endpoint,
	}
}

func TestDetect_NotAnEscalation(t *testing.T) {
	d := newTestDetector()
	res := d.DetectEscalation(attempt("u1", "s1", rbac.RoleAdmin, rbac.RoleManager, ""))
	if res.Detected {
		t.Error("requesting a lower role is not an escalation")
	}
	res = d.DetectEscalation(attempt("u1", "s1", rbac.RoleAdmin, rbac.RoleAdmin, ""))
	if res.Detected {
		t.Error("requesting the same role is not an escalation")
	}
}

func TestDetect_SingleAttemptIsMedium(t *testing.T) {
	d := newTestDetector()
	res := d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	if !res.Detected {
		t.Fatal("requesting a higher role should be detected")
	}
	if res.Severity != SeverityMedium || res.Action != ActionBlockAndLog {
		t.Errorf("got %s/%s, want MEDIUM/BLOCK_AND_LOG", res.Severity, res.Action)
	}
}

func TestDetect_TopRoleGrabIsCriticalOnFirstAttempt(t *testing.T) {
	d := newTestDetector()
	res := d.DetectEscalation(attempt("u1", "s1", rbac.RoleAdmin, rbac.RoleMasterAdmin, ""))
	if !res.Detected {
		t.Fatal("requesting MASTER_ADMIN from ADMIN should be detected")
	}
	if res.Severity != SeverityCritical || res.Action != ActionBlockAndInvalidateAll {
		t.Errorf("got %s/%s, want CRITICAL/BLOCK_AND_INVALIDATE_ALL", res.Severity, res.Action)
	}
	if res.Blacklisted {
		t.Error("a single top-role grab must not blacklist the user")
	}
	if d.IsBlacklisted("u1") {
		t.Error("u1 should not be on the blacklist")
	}
}

func TestDetect_ThresholdBlacklists(t *testing.T) {
	d := newTestDetector()
	d.DetectEscalation(attempt("u3", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	d.DetectEscalation(attempt("u3", "s1", rbac.RoleEmployee, rbac.RoleAdmin, ""))
	res := d.DetectEscalation(attempt("u3", "s1", rbac.RoleEmployee, rbac.RoleAdmin, ""))
	if res.Severity != SeverityCritical || res.Action != ActionBlockAndInvalidateAll {
		t.Errorf("3rd attempt: got %s/%s, want CRITICAL/BLOCK_AND_INVALIDATE_ALL", res.Severity, res.Action)
	}
	if !res.Blacklisted {
		t.Error("3rd attempt should report the user blacklisted")
	}
	if !d.IsBlacklisted("u3") {
		t.Error("u3 should be on the blacklist")
	}

	// Any further attempt is blocked purely by blacklist membership.
	res = d.DetectEscalation(attempt("u3", "s9", rbac.RoleMasterAdmin, rbac.RoleEmployee, ""))
	if !res.Detected || !res.Blacklisted || res.Severity != SeverityCritical {
		t.Errorf("blacklisted user should always be blocked, got %+v", res)
	}
}

func TestDetect_AttemptsOutsideWindowDoNotCount(t *testing.T) {
	d := newTestDetector()
	base := time.Now().UTC()
	d.nowF = func() time.Time { return base }

	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))

	// Third attempt lands 2 minutes later; the first two have aged out.
	d.nowF = func() time.Time { return base.Add(2 * time.Minute) }
	res := d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	if res.Severity != SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM after window rollover", res.Severity)
	}
	if d.IsBlacklisted("u1") {
		t.Error("u1 should not be blacklisted")
	}
}

func TestDetect_MultiSessionEscalation(t *testing.T) {
	d := newTestDetector()
	d.DetectEscalation(attempt("u2", "s1", rbac.RoleEmployee, rbac.RoleAdmin, ""))
	res := d.DetectEscalation(attempt("u2", "s2", rbac.RoleEmployee, rbac.RoleAdmin, ""))
	if res.Severity != SeverityHigh || res.Action != ActionBlockRequest {
		t.Errorf("got %s/%s, want HIGH/BLOCK_REQUEST", res.Severity, res.Action)
	}
	if !containsFlag(res.Flags, FlagMultiSessionEscalation) {
		t.Errorf("flags = %v, want MULTI_SESSION_ESCALATION", res.Flags)
	}
}

func TestDetect_TargetedEndpointAttack(t *testing.T) {
	d := newTestDetector()
	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleAdmin, "/api/admin/settings"))
	res := d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleAdmin, "/api/roles/assign"))
	if !containsFlag(res.Flags, FlagTargetedEndpointAttack) {
		t.Errorf("flags = %v, want TARGETED_ENDPOINT_ATTACK", res.Flags)
	}
	if res.Severity != SeverityHigh {
		t.Errorf("severity = %s, want HIGH", res.Severity)
	}
}

func TestDetect_MixedEndpointsNotTargeted(t *testing.T) {
	d := newTestDetector()
	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleAdmin, "/api/admin/settings"))
	res := d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleAdmin, "/api/attendance/checkin"))
	if containsFlag(res.Flags, FlagTargetedEndpointAttack) {
		t.Error("mixed endpoints should not flag a targeted attack")
	}
}

func TestAnalyzePattern(t *testing.T) {
	d := newTestDetector()

	res := d.AnalyzePattern(Pattern{UserID: "u1", TokenReplay: true})
	if !res.Suspicious || res.Type != PatternTokenReplay || res.Action != ActionBlockAndInvalidateAll {
		t.Errorf("token replay: got %+v", res)
	}

	res = d.AnalyzePattern(Pattern{UserID: "u1", SessionIDs: []string{"a", "b"}})
	if !res.Suspicious || res.Type != PatternCrossSession {
		t.Errorf("cross-session: got %+v", res)
	}

	res = d.AnalyzePattern(Pattern{UserID: "u1", AttemptCount: 5, Interval: 10 * time.Second})
	if !res.Suspicious || res.Type != PatternRapidAttempts {
		t.Errorf("rapid attempts: got %+v", res)
	}

	res = d.AnalyzePattern(Pattern{UserID: "u1", AttemptCount: 1, Interval: 10 * time.Second})
	if res.Suspicious || res.Type != PatternNone {
		t.Errorf("benign pattern: got %+v", res)
	}
}

func TestUserThreatLevel(t *testing.T) {
	d := newTestDetector()
	if lvl := d.UserThreatLevel("clean"); lvl != ThreatSafe {
		t.Errorf("clean user level = %s, want SAFE", lvl)
	}

	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	if lvl := d.UserThreatLevel("u1"); lvl != ThreatMedium {
		t.Errorf("one recent attempt level = %s, want MEDIUM", lvl)
	}

	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	if lvl := d.UserThreatLevel("u1"); lvl != ThreatHigh {
		t.Errorf("two recent attempts level = %s, want HIGH", lvl)
	}

	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))
	if lvl := d.UserThreatLevel("u1"); lvl != ThreatCritical {
		t.Errorf("blacklisted level = %s, want CRITICAL", lvl)
	}
}

func TestUserThreatLevel_HistoricalOnlyIsLow(t *testing.T) {
	d := newTestDetector()
	base := time.Now().UTC()
	d.nowF = func() time.Time { return base }
	d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleManager, ""))

	d.nowF = func() time.Time { return base.Add(5 * time.Minute) }
	if lvl := d.UserThreatLevel("u1"); lvl != ThreatLow {
		t.Errorf("aged-out attempt level = %s, want LOW", lvl)
	}
}

func TestRemoveFromBlacklist(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 3; i++ {
		d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleAdmin, ""))
	}
	if !d.IsBlacklisted("u1") {
		t.Fatal("u1 should be blacklisted")
	}
	if !d.RemoveFromBlacklist("u1") {
		t.Error("RemoveFromBlacklist should report the entry existed")
	}
	if d.IsBlacklisted("u1") {
		t.Error("u1 should be cleared")
	}
	if d.RemoveFromBlacklist("u1") {
		t.Error("second removal should report absence")
	}
}

func TestPrune_DropsStaleKeepsBlacklist(t *testing.T) {
	d := newTestDetector()
	base := time.Now().UTC()
	d.nowF = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		d.DetectEscalation(attempt("u1", "s1", rbac.RoleEmployee, rbac.RoleAdmin, ""))
	}

	d.nowF = func() time.Time { return base.Add(10 * time.Minute) }
	if n := d.prune(); n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	if !d.IsBlacklisted("u1") {
		t.Error("pruning must never clear the blacklist")
	}
}

func TestDetector_ConcurrentAccess(t *testing.T) {
	d := newTestDetector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := "user-" + string(rune('a'+n%4))
			d.DetectEscalation(attempt(user, "s1", rbac.RoleEmployee, rbac.RoleAdmin, ""))
			d.IsBlacklisted(user)
			d.UserThreatLevel(user)
		}(i)
	}
	wg.Wait()
}
