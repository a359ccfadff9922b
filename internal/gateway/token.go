package gateway

import (
	"context"
	"time"

	"attendguard/internal/audit"
	auditdomain "attendguard/internal/audit/domain"
	"attendguard/internal/escalation"
	"attendguard/internal/metrics"
	"attendguard/internal/rbac"
	"attendguard/internal/security"
	"attendguard/internal/session"
)

// AuthorizeToken verifies a bearer token and delegates to Authorize. Any
// parse or signature failure is recorded as token manipulation and denied;
// a valid token whose session is gone but whose fingerprint was seen before
// is treated as replay and voids every session the subject still holds.
func (g *Gateway) AuthorizeToken(ctx context.Context, token, endpoint, method string) Decision {
	if g.tokens == nil {
		return Decision{Allowed: false, Reason: ReasonTokenManipulation, Severity: auditdomain.SeverityCritical}
	}
	id, err := g.tokens.Validate(token)
	if err != nil {
		metrics.DecisionsTotal.WithLabelValues("denied").Inc()
		g.auditor.LogSecurityEvent(ctx, audit.Event{
			Type:     auditdomain.EventTokenManipulation,
			Severity: auditdomain.SeverityCritical,
			Endpoint: endpoint,
		})
		return Decision{Allowed: false, Reason: ReasonTokenManipulation, Severity: auditdomain.SeverityCritical}
	}

	fingerprint := security.Fingerprint(token)
	if g.isReplay(fingerprint, id) {
		pat := g.detector.AnalyzePattern(escalation.Pattern{UserID: id.UserID, TokenReplay: true})
		if pat.Action == escalation.ActionBlockAndInvalidateAll {
			g.sessions.InvalidateUserSessions(id.UserID)
		}
		metrics.DecisionsTotal.WithLabelValues("denied").Inc()
		g.auditor.LogSecurityEvent(ctx, audit.Event{
			Type:     auditdomain.EventTokenManipulation,
			Severity: auditdomain.SeverityCritical,
			UserID:   id.UserID,
			Endpoint: endpoint,
			Details:  map[string]any{"pattern": pat.Type, "session_id": id.SessionID},
		})
		return Decision{Allowed: false, Reason: ReasonTokenManipulation, Severity: auditdomain.SeverityCritical}
	}

	return g.Authorize(ctx, Request{
		SessionID:   id.SessionID,
		UserID:      id.UserID,
		ClaimedRole: id.Role,
		Endpoint:    endpoint,
		Method:      method,
	})
}

// seenPruneInterval bounds how often the fingerprint map is swept.
const seenPruneInterval = time.Minute

// isReplay records the fingerprint on first sight while the session is live,
// and reports replay when the fingerprint reappears after its session died.
// A fingerprint must outlive its session to catch the replay, so eviction
// keys off the token's own expiry: past exp the token cannot validate and
// the entry is dead weight.
func (g *Gateway) isReplay(fingerprint string, id *security.TokenIdentity) bool {
	sessionLive := g.sessions.Get(id.SessionID) != nil

	g.seenMu.Lock()
	defer g.seenMu.Unlock()
	g.pruneSeenLocked(g.nowF())
	if _, seen := g.seenTokens[fingerprint]; seen && !sessionLive {
		delete(g.seenTokens, fingerprint)
		return true
	}
	if sessionLive {
		g.seenTokens[fingerprint] = seenToken{sessionID: id.SessionID, expiresAt: id.ExpiresAt}
	}
	return false
}

func (g *Gateway) pruneSeenLocked(now time.Time) {
	if now.Before(g.seenPruneAt) {
		return
	}
	g.seenPruneAt = now.Add(seenPruneInterval)
	for fp, rec := range g.seenTokens {
		if now.After(rec.expiresAt) {
			delete(g.seenTokens, fp)
		}
	}
}

// ConfirmReAuthentication completes a re-authentication challenge for the
// session. method is MethodPasswordConfirmation or MethodMFAVerification;
// credential is the password or MFA code. Returns true when the challenge
// was satisfied.
func (g *Gateway) ConfirmReAuthentication(ctx context.Context, sessionID, userID, method, credential string) (bool, error) {
	sess := g.sessions.Get(sessionID)
	if sess == nil || sess.UserID != userID {
		return false, session.ErrSessionNotFound
	}

	var ok bool
	switch method {
	case session.MethodPasswordConfirmation:
		if g.creds != nil {
			ok = g.creds.VerifyPassword(ctx, userID, []byte(credential))
		}
	case session.MethodMFAVerification:
		if g.creds != nil && g.creds.VerifyMFACode(ctx, userID, credential) {
			ok = true
			if err := g.sessions.MarkMFACompleted(sessionID); err != nil {
				return false, err
			}
		}
	default:
		return false, session.ErrInvalidInput
	}

	if ok {
		g.auditor.LogSecurityEvent(ctx, audit.Event{
			Type:     auditdomain.EventReAuthCompleted,
			Severity: auditdomain.SeverityInfo,
			UserID:   userID,
			Details:  map[string]any{"session_id": sessionID, "method": method},
		})
	}
	return ok, nil
}

// Unblacklist removes userID from the escalation blacklist. Only the top
// role may do this, and the reset is always a critical audit event; there is
// no automatic expiry.
func (g *Gateway) Unblacklist(ctx context.Context, performerRole rbac.Role, performerID, userID string) (bool, error) {
	if performerRole != rbac.RoleMasterAdmin {
		return false, ErrNotPermitted
	}
	removed := g.detector.RemoveFromBlacklist(userID)
	if removed {
		g.auditor.LogSecurityEvent(ctx, audit.Event{
			Type:     auditdomain.EventUserUnblacklisted,
			Severity: auditdomain.SeverityCritical,
			UserID:   userID,
			Details:  map[string]any{"performed_by": performerID},
		})
		metrics.BlacklistedUsers.Set(float64(g.detector.BlacklistedCount()))
	}
	return removed, nil
}
