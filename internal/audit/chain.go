// Package audit is the tamper-evident record of every security decision.
// Entries form a SHA-256 hash chain: each entry embeds the hash of its
// predecessor, so a retroactive edit anywhere invalidates everything after
// it. The in-memory chain is authoritative; persistence and alerting are
// best-effort collaborators that can fail without touching the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"attendguard/internal/audit/domain"
	"attendguard/internal/ids"
)

// GenesisHash is the fixed previous-hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// sinkTimeout bounds a single best-effort sink write or alert emit.
const sinkTimeout = 5 * time.Second

// Sink persists entries durably. Writes are asynchronous and best-effort;
// a failing sink never blocks or corrupts the in-memory chain.
type Sink interface {
	Save(ctx context.Context, entry *domain.Entry) error
}

// Alerter receives critical entries out of band. Implementations must not
// block; the chain fires and forgets.
type Alerter interface {
	CriticalEvent(ctx context.Context, entry domain.Entry) error
}

// Event is the caller-supplied part of an audit entry. ID, timestamp (when
// zero), and chain linkage are assigned on append.
type Event struct {
	Type      string
	Severity  domain.Severity
	UserID    string
	Endpoint  string
	Timestamp time.Time
	Details   map[string]any
}

// Filter selects entries for Query. Zero fields match everything.
type Filter struct {
	Start    time.Time
	End      time.Time
	UserID   string
	Severity domain.Severity
	Type     string
}

// Metrics summarizes the chain for dashboards.
type Metrics struct {
	TotalEvents      int
	CriticalEvents   int
	BlockedAttempts  int
	UniqueUsers      int
	EventsByType     map[string]int
	EventsBySeverity map[string]int
}

// ChainLog is the append-only hash chain. Appends hold the write lock for
// the whole hash-and-link step, giving the chain its strict total order;
// readers work against the same lock but only copy.
type ChainLog struct {
	mu       sync.RWMutex
	entries  []domain.Entry
	critical []int
	tailHash string

	sink    Sink
	alerter Alerter
	nowF    func() time.Time
	idF     func() string
}

// NewChainLog returns a ChainLog. sink and alerter may be nil.
func NewChainLog(sink Sink, alerter Alerter) *ChainLog {
	return &ChainLog{
		tailHash: GenesisHash,
		sink:     sink,
		alerter:  alerter,
		nowF:     func() time.Time { return time.Now().UTC() },
		idF:      ids.New,
	}
}

// LogSecurityEvent appends one entry and returns it. Critical entries (by
// severity or category) are indexed separately and forwarded to the alerter.
func (c *ChainLog) LogSecurityEvent(ctx context.Context, ev Event) domain.Entry {
	entry := domain.Entry{
		ID:        c.idF(),
		Type:      ev.Type,
		Severity:  ev.Severity,
		UserID:    ev.UserID,
		Endpoint:  ev.Endpoint,
		Timestamp: ev.Timestamp,
		Details:   ev.Details,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.nowF()
	}
	if entry.Severity == "" {
		entry.Severity = domain.SeverityInfo
	}

	c.mu.Lock()
	entry.PreviousHash = c.tailHash
	entry.Hash = hashEntry(entry)
	c.entries = append(c.entries, entry)
	c.tailHash = entry.Hash
	isCritical := entry.Severity == domain.SeverityCritical || domain.CriticalCategory(entry.Type)
	if isCritical {
		c.critical = append(c.critical, len(c.entries)-1)
	}
	c.mu.Unlock()

	c.persistAsync(entry)
	if isCritical {
		c.alertAsync(entry)
	}
	return entry
}

// VerifyLogIntegrity walks the chain from genesis, recomputing every hash and
// checking the previous-hash linkage. Any mismatch invalidates the chain.
func (c *ChainLog) VerifyLogIntegrity() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prev := GenesisHash
	for i := range c.entries {
		e := c.entries[i]
		if e.PreviousHash != prev {
			return false
		}
		if hashEntry(e) != e.Hash {
			return false
		}
		prev = e.Hash
	}
	return true
}

// GetSecurityLogs returns copies of the entries matching filter, in append
// order.
func (c *ChainLog) GetSecurityLogs(filter Filter) []domain.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Entry
	for i := range c.entries {
		e := c.entries[i]
		if !filter.Start.IsZero() && e.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && e.Timestamp.After(filter.End) {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		out = append(out, copyEntry(e))
	}
	return out
}

// CriticalEntries returns copies of the critical-only view, in append order.
func (c *ChainLog) CriticalEntries() []domain.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Entry, 0, len(c.critical))
	for _, idx := range c.critical {
		out = append(out, copyEntry(c.entries[idx]))
	}
	return out
}

// GetMetrics summarizes the chain.
func (c *ChainLog) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := Metrics{
		TotalEvents:      len(c.entries),
		CriticalEvents:   len(c.critical),
		EventsByType:     make(map[string]int),
		EventsBySeverity: make(map[string]int),
	}
	users := make(map[string]struct{})
	for i := range c.entries {
		e := c.entries[i]
		m.EventsByType[e.Type]++
		m.EventsBySeverity[string(e.Severity)]++
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if blockedType(e.Type) {
			m.BlockedAttempts++
		}
	}
	m.UniqueUsers = len(users)
	return m
}

// Len returns the number of entries.
func (c *ChainLog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TailHash returns the hash of the most recent entry, or the genesis value
// for an empty chain.
func (c *ChainLog) TailHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tailHash
}

// corruptEntryForTest overwrites a stored field so integrity tests can break
// the chain in place. Test-only.
func (c *ChainLog) corruptEntryForTest(index int, field, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToLower(field) {
	case "hash":
		c.entries[index].Hash = value
	case "previous_hash":
		c.entries[index].PreviousHash = value
	case "user_id":
		c.entries[index].UserID = value
	}
}

func (c *ChainLog) persistAsync(entry domain.Entry) {
	if c.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := c.sink.Save(ctx, &entry); err != nil {
			log.Printf("audit: sink save failed for %s: %v", entry.ID, err)
		}
	}()
}

func (c *ChainLog) alertAsync(entry domain.Entry) {
	if c.alerter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := c.alerter.CriticalEvent(ctx, entry); err != nil {
			log.Printf("audit: alert emit failed for %s: %v", entry.ID, err)
		}
	}()
}

// hashEntry computes the SHA-256 over the entry's JSON with Hash cleared.
// Struct field order is fixed and encoding/json sorts map keys, so the
// encoding is canonical.
func hashEntry(e domain.Entry) string {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		// Details values are plain JSON-able types; reaching this means a
		// programming error upstream.
		log.Printf("audit: entry %s not marshalable: %v", e.ID, err)
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func copyEntry(e domain.Entry) domain.Entry {
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}
	return e
}

func blockedType(typ string) bool {
	switch typ {
	case domain.EventAuthorizationDenied, domain.EventEscalationAttempt,
		domain.EventRoleTampering, domain.EventSessionHijack,
		domain.EventTokenManipulation, domain.EventUserBlacklisted:
		return true
	}
	return false
}
