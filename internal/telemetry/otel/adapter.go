package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"attendguard/internal/audit/domain"
	"attendguard/internal/telemetry"
)

// NewAlertEmitter returns an Alerter that sends critical audit entries as
// OTel log records via the given LoggerProvider. If provider is nil, returns
// a no-op alerter.
func NewAlertEmitter(provider *sdklog.LoggerProvider) telemetry.Alerter {
	if provider == nil {
		return noopAlerter{}
	}
	return &otelAlerter{logger: provider.Logger("attendguard.audit")}
}

type noopAlerter struct{}

func (noopAlerter) CriticalEvent(context.Context, domain.Entry) error { return nil }

type otelAlerter struct {
	logger otellog.Logger
}

// CriticalEvent converts the audit entry to an OTel log record and emits it.
func (a *otelAlerter) CriticalEvent(ctx context.Context, entry domain.Entry) error {
	rec := otellog.Record{}
	if entry.Timestamp.IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	} else {
		rec.SetTimestamp(entry.Timestamp)
	}
	rec.SetSeverity(severityOf(entry.Severity))
	rec.SetSeverityText(string(entry.Severity))
	rec.SetBody(otellog.StringValue(entry.Type))
	rec.AddAttributes(
		otellog.String("audit_id", entry.ID),
		otellog.String("event_type", entry.Type),
	)
	if entry.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", entry.UserID))
	}
	if entry.Endpoint != "" {
		rec.AddAttributes(otellog.String("endpoint", entry.Endpoint))
	}
	if entry.Hash != "" {
		rec.AddAttributes(otellog.String("entry_hash", entry.Hash))
	}
	if len(entry.Details) > 0 {
		if b, err := json.Marshal(entry.Details); err == nil {
			rec.AddAttributes(otellog.String("details", string(b)))
		}
	}
	a.logger.Emit(ctx, rec)
	return nil
}

func severityOf(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityCritical:
		return otellog.SeverityFatal
	case domain.SeverityHigh:
		return otellog.SeverityError
	case domain.SeverityMedium:
		return otellog.SeverityWarn
	case domain.SeverityLow:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityInfo
	}
}
