// Package server is the ops HTTP surface: health and readiness probes,
// Prometheus metrics, forensic reads over the audit chain, and a thin
// facade over the gateway for operators. The authorization contract itself
// is the gateway's function-level API; nothing here adds semantics.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"attendguard/internal/audit"
	auditdomain "attendguard/internal/audit/domain"
	"attendguard/internal/devcreds"
	"attendguard/internal/escalation"
	"attendguard/internal/gateway"
	"attendguard/internal/metrics"
	"attendguard/internal/rbac"
	"attendguard/internal/session"
)

// Pinger is the readiness probe over the durable store, typically *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds the wired subsystem. Pinger may be nil when no database is
// configured; readiness then skips the ping. DevCreds, when non-nil,
// registers the dev-only credential seeding endpoint; set it only outside
// production.
type Deps struct {
	Gateway  *gateway.Gateway
	Chain    *audit.ChainLog
	Sessions *session.Store
	Detector *escalation.Detector
	Pinger   Pinger
	DevCreds *devcreds.MemoryStore
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
}

// New builds the API and registers all routes.
func New(deps Deps) *API {
	a := &API{mux: http.NewServeMux(), deps: deps}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)

	a.mux.Handle("GET /metrics", metrics.Handler())

	a.mux.HandleFunc("POST /v1/authz/check", a.AuthzCheck)
	a.mux.HandleFunc("POST /v1/authz/reauth", a.AuthzReauth)
	a.mux.HandleFunc("POST /v1/blacklist/remove", a.BlacklistRemove)

	a.mux.HandleFunc("GET /v1/audit/logs", a.AuditLogs)
	a.mux.HandleFunc("GET /v1/audit/verify", a.AuditVerify)
	a.mux.HandleFunc("GET /v1/audit/metrics", a.AuditMetrics)

	if deps.DevCreds != nil {
		a.mux.HandleFunc("POST /v1/dev/credentials", a.DevSetCredentials)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the mux wrapped with request logging.
func (a *API) Handler() http.Handler {
	return logRequests(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "attendguard",
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Pinger.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"sessions":    a.deps.Sessions.Count(),
		"blacklisted": a.deps.Detector.BlacklistedCount(),
		"audit_chain": a.deps.Chain.Len(),
	})
}

// checkRequest is the wire shape of an authorization check. Token, when set,
// takes precedence over the session triple.
type checkRequest struct {
	Token         string `json:"token,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ClaimedRole   string `json:"claimed_role,omitempty"`
	Endpoint      string `json:"endpoint"`
	Method        string `json:"method"`
	RequestedRole string `json:"requested_role,omitempty"`
}

type decisionResponse struct {
	Allowed        bool     `json:"allowed"`
	Reason         string   `json:"reason"`
	Severity       string   `json:"severity"`
	RequiredReAuth bool     `json:"required_reauth,omitempty"`
	AuthMethods    []string `json:"auth_methods,omitempty"`
}

func (a *API) AuthzCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "endpoint is required"})
		return
	}

	var d gateway.Decision
	if req.Token != "" {
		d = a.deps.Gateway.AuthorizeToken(r.Context(), req.Token, req.Endpoint, req.Method)
	} else {
		d = a.deps.Gateway.Authorize(r.Context(), gateway.Request{
			SessionID:     req.SessionID,
			UserID:        req.UserID,
			ClaimedRole:   rbac.Role(req.ClaimedRole),
			Endpoint:      req.Endpoint,
			Method:        req.Method,
			RequestedRole: rbac.Role(req.RequestedRole),
		})
	}

	code := http.StatusOK
	if !d.Allowed {
		code = http.StatusForbidden
	}
	writeJSON(w, code, decisionResponse{
		Allowed:        d.Allowed,
		Reason:         d.Reason,
		Severity:       string(d.Severity),
		RequiredReAuth: d.RequiredReAuth,
		AuthMethods:    d.AuthMethods,
	})
}

type reauthRequest struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Method     string `json:"method"`
	Credential string `json:"credential"`
}

func (a *API) AuthzReauth(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	ok, err := a.deps.Gateway.ConfirmReAuthentication(r.Context(), req.SessionID, req.UserID, req.Method, req.Credential)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"confirmed": false, "error": err.Error()})
		return
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusForbidden
	}
	writeJSON(w, code, map[string]any{"confirmed": ok})
}

type blacklistRemoveRequest struct {
	PerformerRole string `json:"performer_role"`
	PerformerID   string `json:"performer_id"`
	UserID        string `json:"user_id"`
}

func (a *API) BlacklistRemove(w http.ResponseWriter, r *http.Request) {
	var req blacklistRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	removed, err := a.deps.Gateway.Unblacklist(r.Context(), rbac.Role(req.PerformerRole), req.PerformerID, req.UserID)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"removed": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// AuditLogs serves filtered reads over the in-memory chain. since/until are
// RFC 3339; invalid values are rejected rather than silently ignored.
func (a *API) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:   q.Get("user_id"),
		Severity: auditdomain.Severity(q.Get("severity")),
		Type:     q.Get("type"),
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "since must be RFC 3339"})
			return
		}
		filter.Start = t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "until must be RFC 3339"})
			return
		}
		filter.End = t
	}
	entries := a.deps.Chain.GetSecurityLogs(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (a *API) AuditVerify(w http.ResponseWriter, r *http.Request) {
	intact := a.deps.Chain.VerifyLogIntegrity()
	code := http.StatusOK
	if !intact {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]any{
		"intact":    intact,
		"length":    a.deps.Chain.Len(),
		"tail_hash": a.deps.Chain.TailHash(),
	})
}

func (a *API) AuditMetrics(w http.ResponseWriter, r *http.Request) {
	m := a.deps.Chain.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_events":       m.TotalEvents,
		"critical_events":    m.CriticalEvents,
		"blocked_attempts":   m.BlockedAttempts,
		"unique_users":       m.UniqueUsers,
		"events_by_type":     m.EventsByType,
		"events_by_severity": m.EventsBySeverity,
	})
}

type devCredentialsRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password,omitempty"`
	MFACode  string `json:"mfa_code,omitempty"`
}

// DevSetCredentials seeds a password and/or single-use MFA code for a user.
// Dev-only; never registered in production.
func (a *API) DevSetCredentials(w http.ResponseWriter, r *http.Request) {
	var req devCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user_id is required"})
		return
	}
	if req.Password != "" {
		if err := a.deps.DevCreds.SetPassword(r.Context(), req.UserID, []byte(req.Password)); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
	}
	if req.MFACode != "" {
		a.deps.DevCreds.SetMFACode(r.Context(), req.UserID, req.MFACode)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("http: %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
