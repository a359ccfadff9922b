// Package gateway is the single entry point for authorization decisions. It
// orders the checks so the cheapest and most damning evidence is consulted
// first: blacklist, then session integrity, then role sufficiency, then
// escalation analysis. Every decision, allowed or not, lands in the audit
// chain.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"attendguard/internal/audit"
	auditdomain "attendguard/internal/audit/domain"
	"attendguard/internal/devcreds"
	"attendguard/internal/escalation"
	"attendguard/internal/metrics"
	"attendguard/internal/policy"
	"attendguard/internal/rbac"
	"attendguard/internal/security"
	"attendguard/internal/session"
)

// Decision reason codes returned to callers. Reasons are stable identifiers,
// never raw error text.
const (
	ReasonGranted                = "ACCESS_GRANTED"
	ReasonSessionInvalid         = "SESSION_INVALID"
	ReasonRoleTampering          = "ROLE_TAMPERING"
	ReasonSessionHijack          = "SESSION_HIJACK_SUSPECTED"
	ReasonInsufficientPrivileges = "INSUFFICIENT_PRIVILEGES"
	ReasonEscalationBlocked      = "PRIVILEGE_ESCALATION_BLOCKED"
	ReasonUserBlacklisted        = "USER_BLACKLISTED"
	ReasonTokenManipulation      = "TOKEN_MANIPULATION_DETECTED"
)

// ErrNotPermitted is returned when an administrative operation is attempted
// by a role that may not perform it.
var ErrNotPermitted = errors.New("operation not permitted for role")

// Request is one access request, identity already asserted by the caller.
// RequestedRole, when set, marks an explicit in-session role-change request.
type Request struct {
	SessionID     string
	UserID        string
	ClaimedRole   rbac.Role
	Endpoint      string
	Method        string
	RequestedRole rbac.Role
}

// Decision is the structured outcome of an authorization check.
type Decision struct {
	Allowed        bool
	Reason         string
	Severity       auditdomain.Severity
	RequiredReAuth bool
	AuthMethods    []string
}

// Gateway wires the session store, escalation detector, policy table, and
// audit chain into one decision pipeline.
type Gateway struct {
	sessions *session.Store
	detector *escalation.Detector
	auditor  *audit.ChainLog
	table    *policy.Table

	tokens *security.TokenProvider
	creds  devcreds.Verifier

	// seenTokens maps token fingerprints to the session they were minted
	// for, so a token presented after its session died is recognized as
	// replay rather than a stale login. Entries are pruned once the token
	// itself has expired and can no longer validate.
	seenMu      sync.Mutex
	seenTokens  map[string]seenToken
	seenPruneAt time.Time

	nowF   func() time.Time
	tracer trace.Tracer
}

type seenToken struct {
	sessionID string
	expiresAt time.Time
}

// New returns a Gateway. tokens and creds are optional: without tokens the
// AuthorizeToken front door rejects everything, and without creds password
// confirmation cannot succeed.
func New(sessions *session.Store, detector *escalation.Detector, auditor *audit.ChainLog, table *policy.Table, tokens *security.TokenProvider, creds devcreds.Verifier) *Gateway {
	return &Gateway{
		sessions:   sessions,
		detector:   detector,
		auditor:    auditor,
		table:      table,
		tokens:     tokens,
		creds:      creds,
		seenTokens: make(map[string]seenToken),
		nowF:       func() time.Time { return time.Now().UTC() },
		tracer:     otel.Tracer("attendguard.gateway"),
	}
}

// Authorize runs the full decision pipeline for one request.
func (g *Gateway) Authorize(ctx context.Context, req Request) Decision {
	ctx, span := g.tracer.Start(ctx, "gateway.Authorize",
		trace.WithAttributes(
			attribute.String("endpoint", req.Endpoint),
			attribute.String("method", req.Method),
		))
	defer span.End()

	d := g.authorize(ctx, req)
	span.SetAttributes(
		attribute.Bool("allowed", d.Allowed),
		attribute.String("reason", d.Reason),
	)
	return d
}

func (g *Gateway) authorize(ctx context.Context, req Request) Decision {
	if g.detector.IsBlacklisted(req.UserID) {
		g.deny(ctx, req, auditdomain.EventAuthorizationDenied, ReasonUserBlacklisted, auditdomain.SeverityCritical, nil)
		return Decision{Allowed: false, Reason: ReasonUserBlacklisted, Severity: auditdomain.SeverityCritical}
	}

	if err := g.sessions.Validate(req.SessionID, req.UserID, req.ClaimedRole); err != nil {
		return g.denySessionFailure(ctx, req, err)
	}

	requirement := g.table.Resolve(req.Endpoint, req.Method)

	if req.RequestedRole != "" {
		return g.handleEscalation(ctx, req, req.RequestedRole, true)
	}

	if !rbac.IsAuthorized(req.ClaimedRole, requirement.Role) {
		if rbac.Outranks(requirement.Role, req.ClaimedRole) {
			// Asking for an endpoint above your rank is an escalation
			// attempt, not a plain miss.
			return g.handleEscalation(ctx, req, requirement.Role, false)
		}
		g.deny(ctx, req, auditdomain.EventAuthorizationDenied, ReasonInsufficientPrivileges, auditdomain.SeverityMedium, map[string]any{
			"required_role": string(requirement.Role),
			"claimed_role":  string(req.ClaimedRole),
		})
		return Decision{Allowed: false, Reason: ReasonInsufficientPrivileges, Severity: auditdomain.SeverityMedium}
	}

	decision := Decision{Allowed: true, Reason: ReasonGranted, Severity: auditdomain.SeverityInfo}
	if requirement.Sensitivity == policy.SensitivityHigh || requirement.Sensitivity == policy.SensitivityCritical {
		reauth, err := g.sessions.RequireReAuthentication(req.SessionID, req.Endpoint, requirement.Sensitivity)
		if err != nil {
			return g.denySessionFailure(ctx, req, err)
		}
		decision.RequiredReAuth = reauth.Required
		decision.AuthMethods = reauth.Methods
		for _, m := range reauth.Methods {
			metrics.ReauthChallengesTotal.WithLabelValues(m).Inc()
		}
	}

	metrics.DecisionsTotal.WithLabelValues("granted").Inc()
	g.auditor.LogSecurityEvent(ctx, audit.Event{
		Type:     auditdomain.EventAuthorizationGranted,
		Severity: auditdomain.SeverityInfo,
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
		Details: map[string]any{
			"session_id":      req.SessionID,
			"role":            string(req.ClaimedRole),
			"sensitivity":     string(requirement.Sensitivity),
			"required_reauth": decision.RequiredReAuth,
		},
	})
	return decision
}

// handleEscalation feeds the detector, applies its action to the session
// store, and records the attempt. explicit marks an in-session role-change
// request, which additionally burns the session per store policy.
func (g *Gateway) handleEscalation(ctx context.Context, req Request, requestedRole rbac.Role, explicit bool) Decision {
	res := g.detector.DetectEscalation(escalation.Attempt{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		CurrentRole:   req.ClaimedRole,
		RequestedRole: requestedRole,
		Endpoint:      req.Endpoint,
	})
	if !res.Detected {
		// Requested role does not outrank the current one. An explicit
		// change request still burns the session; a policy miss is a plain
		// insufficiency.
		if explicit {
			result, _ := g.sessions.AttemptRoleChange(req.SessionID, requestedRole)
			g.deny(ctx, req, auditdomain.EventAuthorizationDenied, ReasonInsufficientPrivileges, auditdomain.SeverityMedium, map[string]any{
				"requested_role": string(requestedRole),
				"session_action": string(result.Action),
			})
			return Decision{Allowed: false, Reason: ReasonInsufficientPrivileges, Severity: auditdomain.SeverityMedium}
		}
		g.deny(ctx, req, auditdomain.EventAuthorizationDenied, ReasonInsufficientPrivileges, auditdomain.SeverityMedium, nil)
		return Decision{Allowed: false, Reason: ReasonInsufficientPrivileges, Severity: auditdomain.SeverityMedium}
	}

	sessionAction := session.ActionNone
	if explicit {
		if result, err := g.sessions.AttemptRoleChange(req.SessionID, requestedRole); err == nil {
			sessionAction = result.Action
		}
	}
	if res.Action == escalation.ActionBlockAndInvalidateAll {
		g.sessions.InvalidateUserSessions(req.UserID)
		sessionAction = session.ActionAllSessionsInvalidated
	}

	severity := auditdomain.Severity(res.Severity)
	metrics.DecisionsTotal.WithLabelValues("blocked").Inc()
	metrics.EscalationAttemptsTotal.WithLabelValues(string(res.Severity)).Inc()

	details := map[string]any{
		"session_id":      req.SessionID,
		"current_role":    string(req.ClaimedRole),
		"requested_role":  string(requestedRole),
		"detector_action": string(res.Action),
		"session_action":  string(sessionAction),
		"explicit_change": explicit,
	}
	if len(res.Flags) > 0 {
		details["flags"] = res.Flags
	}
	g.auditor.LogSecurityEvent(ctx, audit.Event{
		Type:     auditdomain.EventEscalationAttempt,
		Severity: severity,
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
		Details:  details,
	})
	if res.Blacklisted {
		g.auditor.LogSecurityEvent(ctx, audit.Event{
			Type:     auditdomain.EventUserBlacklisted,
			Severity: auditdomain.SeverityCritical,
			UserID:   req.UserID,
			Endpoint: req.Endpoint,
		})
		metrics.BlacklistedUsers.Set(float64(g.detector.BlacklistedCount()))
		return Decision{Allowed: false, Reason: ReasonUserBlacklisted, Severity: auditdomain.SeverityCritical}
	}
	return Decision{Allowed: false, Reason: ReasonEscalationBlocked, Severity: severity}
}

func (g *Gateway) denySessionFailure(ctx context.Context, req Request, err error) Decision {
	switch {
	case errors.Is(err, session.ErrSessionHijack):
		g.deny(ctx, req, auditdomain.EventSessionHijack, ReasonSessionHijack, auditdomain.SeverityCritical, map[string]any{
			"session_id": req.SessionID,
		})
		return Decision{Allowed: false, Reason: ReasonSessionHijack, Severity: auditdomain.SeverityCritical}
	case errors.Is(err, session.ErrRoleTampering):
		g.deny(ctx, req, auditdomain.EventRoleTampering, ReasonRoleTampering, auditdomain.SeverityHigh, map[string]any{
			"session_id":   req.SessionID,
			"claimed_role": string(req.ClaimedRole),
		})
		return Decision{Allowed: false, Reason: ReasonRoleTampering, Severity: auditdomain.SeverityHigh}
	default:
		// Not-found and expired both surface as SESSION_INVALID; the caller
		// re-logs-in either way and learns nothing extra.
		g.deny(ctx, req, auditdomain.EventAuthorizationDenied, ReasonSessionInvalid, auditdomain.SeverityMedium, map[string]any{
			"session_id": req.SessionID,
		})
		return Decision{Allowed: false, Reason: ReasonSessionInvalid, Severity: auditdomain.SeverityMedium}
	}
}

func (g *Gateway) deny(ctx context.Context, req Request, eventType, reason string, severity auditdomain.Severity, details map[string]any) {
	metrics.DecisionsTotal.WithLabelValues("denied").Inc()
	if details == nil {
		details = map[string]any{}
	}
	details["reason"] = reason
	g.auditor.LogSecurityEvent(ctx, audit.Event{
		Type:     eventType,
		Severity: severity,
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
		Details:  details,
	})
}
