// Package telemetry forwards critical audit entries to external systems:
// OTel logs, Kafka, and Loki. Everything here is best-effort; a dead
// collector never blocks an authorization decision.
package telemetry

import (
	"context"
	"log"

	"attendguard/internal/audit/domain"
)

// Alerter receives critical audit entries. Implementations log and swallow
// their own transport errors where possible; callers treat any returned
// error as fire-and-forget.
type Alerter interface {
	CriticalEvent(ctx context.Context, entry domain.Entry) error
}

// Fanout delivers each entry to every non-nil alerter in order. Failures are
// logged and do not stop delivery to the rest.
type Fanout []Alerter

func (f Fanout) CriticalEvent(ctx context.Context, entry domain.Entry) error {
	for _, a := range f {
		if a == nil {
			continue
		}
		if err := a.CriticalEvent(ctx, entry); err != nil {
			log.Printf("telemetry: alert delivery failed for %s: %v", entry.ID, err)
		}
	}
	return nil
}
