package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"attendguard/internal/audit/domain"
)

type captureSink struct {
	mu      sync.Mutex
	entries []domain.Entry
	saved   chan struct{}
	fail    bool
}

func newCaptureSink() *captureSink {
	return &captureSink{saved: make(chan struct{}, 64)}
}

func (s *captureSink) Save(_ context.Context, entry *domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.saved <- struct{}{}
		return errors.New("sink unavailable")
	}
	s.entries = append(s.entries, *entry)
	s.saved <- struct{}{}
	return nil
}

type captureAlerter struct {
	mu    sync.Mutex
	fired []domain.Entry
	ch    chan struct{}
}

func newCaptureAlerter() *captureAlerter {
	return &captureAlerter{ch: make(chan struct{}, 64)}
}

func (a *captureAlerter) CriticalEvent(_ context.Context, entry domain.Entry) error {
	a.mu.Lock()
	a.fired = append(a.fired, entry)
	a.mu.Unlock()
	a.ch <- struct{}{}
	return nil
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async delivery")
	}
}

func TestLogSecurityEvent_ChainLinkage(t *testing.T) {
	c := NewChainLog(nil, nil)

	first := c.LogSecurityEvent(context.Background(), Event{
		Type:     domain.EventAuthorizationGranted,
		Severity: domain.SeverityInfo,
		UserID:   "user-1",
		Endpoint: "/api/reports",
	})
	if first.PreviousHash != GenesisHash {
		t.Fatalf("first entry previous hash = %q, want genesis", first.PreviousHash)
	}
	if first.Hash == "" || first.ID == "" {
		t.Fatal("expected hash and id to be assigned")
	}

	second := c.LogSecurityEvent(context.Background(), Event{
		Type:   domain.EventAuthorizationDenied,
		UserID: "user-1",
	})
	if second.PreviousHash != first.Hash {
		t.Fatalf("second entry previous hash = %q, want %q", second.PreviousHash, first.Hash)
	}
	if got := c.TailHash(); got != second.Hash {
		t.Fatalf("tail hash = %q, want %q", got, second.Hash)
	}
	if second.Severity != domain.SeverityInfo {
		t.Fatalf("default severity = %q, want INFO", second.Severity)
	}
}

func TestVerifyLogIntegrity_CleanChain(t *testing.T) {
	c := NewChainLog(nil, nil)
	if !c.VerifyLogIntegrity() {
		t.Fatal("empty chain should verify")
	}
	for i := 0; i < 10; i++ {
		c.LogSecurityEvent(context.Background(), Event{
			Type:     domain.EventAuthorizationGranted,
			Severity: domain.SeverityInfo,
			UserID:   fmt.Sprintf("user-%d", i%3),
			Details:  map[string]any{"seq": i},
		})
	}
	if !c.VerifyLogIntegrity() {
		t.Fatal("untouched chain should verify")
	}
}

func TestVerifyLogIntegrity_DetectsTampering(t *testing.T) {
	cases := []struct {
		name  string
		field string
	}{
		{"rewritten payload", "user_id"},
		{"rewritten hash", "hash"},
		{"rewritten link", "previous_hash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChainLog(nil, nil)
			for i := 0; i < 5; i++ {
				c.LogSecurityEvent(context.Background(), Event{
					Type:   domain.EventAuthorizationGranted,
					UserID: "user-1",
				})
			}
			c.corruptEntryForTest(2, tc.field, "attacker-value")
			if c.VerifyLogIntegrity() {
				t.Fatal("tampered chain must not verify")
			}
		})
	}
}

func TestVerifyLogIntegrity_MiddleDeletionBreaksChain(t *testing.T) {
	c := NewChainLog(nil, nil)
	for i := 0; i < 4; i++ {
		c.LogSecurityEvent(context.Background(), Event{Type: domain.EventAuthorizationGranted})
	}
	c.mu.Lock()
	c.entries = append(c.entries[:1], c.entries[2:]...)
	c.mu.Unlock()
	if c.VerifyLogIntegrity() {
		t.Fatal("chain with a deleted entry must not verify")
	}
}

func TestCriticalEntries_IndexAndAlert(t *testing.T) {
	alerter := newCaptureAlerter()
	c := NewChainLog(nil, alerter)

	c.LogSecurityEvent(context.Background(), Event{
		Type:     domain.EventAuthorizationGranted,
		Severity: domain.SeverityInfo,
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type:     domain.EventEscalationAttempt,
		Severity: domain.SeverityMedium,
		UserID:   "attacker-1",
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type:     domain.EventAuthorizationDenied,
		Severity: domain.SeverityCritical,
		UserID:   "attacker-2",
	})
	waitSignal(t, alerter.ch)
	waitSignal(t, alerter.ch)

	crit := c.CriticalEntries()
	if len(crit) != 2 {
		t.Fatalf("critical entries = %d, want 2", len(crit))
	}
	if crit[0].Type != domain.EventEscalationAttempt {
		t.Fatalf("first critical entry type = %q", crit[0].Type)
	}

	alerter.mu.Lock()
	fired := len(alerter.fired)
	alerter.mu.Unlock()
	if fired != 2 {
		t.Fatalf("alerter fired %d times, want 2", fired)
	}
}

func TestLogSecurityEvent_SinkFailureDoesNotBreakChain(t *testing.T) {
	sink := newCaptureSink()
	sink.fail = true
	c := NewChainLog(sink, nil)

	c.LogSecurityEvent(context.Background(), Event{Type: domain.EventAuthorizationGranted})
	c.LogSecurityEvent(context.Background(), Event{Type: domain.EventAuthorizationDenied})
	waitSignal(t, sink.saved)
	waitSignal(t, sink.saved)

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if !c.VerifyLogIntegrity() {
		t.Fatal("chain must stay valid when the sink fails")
	}
}

func TestGetSecurityLogs_Filters(t *testing.T) {
	c := NewChainLog(nil, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.nowF = func() time.Time { return base }

	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventAuthorizationGranted, Severity: domain.SeverityInfo, UserID: "alice",
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventEscalationAttempt, Severity: domain.SeverityMedium, UserID: "bob",
		Timestamp: base.Add(time.Hour),
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventAuthorizationDenied, Severity: domain.SeverityMedium, UserID: "alice",
		Timestamp: base.Add(2 * time.Hour),
	})

	if got := c.GetSecurityLogs(Filter{UserID: "alice"}); len(got) != 2 {
		t.Fatalf("user filter matched %d, want 2", len(got))
	}
	if got := c.GetSecurityLogs(Filter{Severity: domain.SeverityMedium}); len(got) != 2 {
		t.Fatalf("severity filter matched %d, want 2", len(got))
	}
	if got := c.GetSecurityLogs(Filter{Type: domain.EventEscalationAttempt}); len(got) != 1 {
		t.Fatalf("type filter matched %d, want 1", len(got))
	}
	got := c.GetSecurityLogs(Filter{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)})
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("time window filter = %+v, want the bob entry", got)
	}
	if got := c.GetSecurityLogs(Filter{}); len(got) != 3 {
		t.Fatalf("empty filter matched %d, want 3", len(got))
	}
}

func TestGetSecurityLogs_ReturnsCopies(t *testing.T) {
	c := NewChainLog(nil, nil)
	c.LogSecurityEvent(context.Background(), Event{
		Type:    domain.EventAuthorizationGranted,
		Details: map[string]any{"ip": "10.0.0.1"},
	})
	got := c.GetSecurityLogs(Filter{})
	got[0].Details["ip"] = "changed"
	if !c.VerifyLogIntegrity() {
		t.Fatal("mutating a query result must not reach the chain")
	}
}

func TestGetMetrics(t *testing.T) {
	c := NewChainLog(nil, nil)
	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventAuthorizationGranted, Severity: domain.SeverityInfo, UserID: "alice",
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventAuthorizationDenied, Severity: domain.SeverityMedium, UserID: "bob",
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventEscalationAttempt, Severity: domain.SeverityMedium, UserID: "bob",
	})
	c.LogSecurityEvent(context.Background(), Event{
		Type: domain.EventUserBlacklisted, Severity: domain.SeverityCritical, UserID: "bob",
	})

	m := c.GetMetrics()
	if m.TotalEvents != 4 {
		t.Fatalf("total = %d, want 4", m.TotalEvents)
	}
	if m.CriticalEvents != 2 {
		t.Fatalf("critical = %d, want 2", m.CriticalEvents)
	}
	if m.BlockedAttempts != 3 {
		t.Fatalf("blocked = %d, want 3", m.BlockedAttempts)
	}
	if m.UniqueUsers != 2 {
		t.Fatalf("unique users = %d, want 2", m.UniqueUsers)
	}
	if m.EventsByType[domain.EventAuthorizationDenied] != 1 {
		t.Fatalf("by-type = %+v", m.EventsByType)
	}
	if m.EventsBySeverity[string(domain.SeverityMedium)] != 2 {
		t.Fatalf("by-severity = %+v", m.EventsBySeverity)
	}
}

func TestLogSecurityEvent_ConcurrentAppends(t *testing.T) {
	c := NewChainLog(nil, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				c.LogSecurityEvent(context.Background(), Event{
					Type:   domain.EventAuthorizationGranted,
					UserID: fmt.Sprintf("user-%d", g),
				})
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 200 {
		t.Fatalf("len = %d, want 200", c.Len())
	}
	if !c.VerifyLogIntegrity() {
		t.Fatal("concurrently built chain must verify")
	}
}
