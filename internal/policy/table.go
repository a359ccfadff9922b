// Package policy maps endpoints to required roles and sensitivity tiers.
// Rules are static configuration, matched in declaration order with the first
// match winning; nothing here derives policy at runtime.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"attendguard/internal/rbac"
)

// Sensitivity classifies how consequential an endpoint is. It drives
// re-authentication requirements, not the base access decision.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "LOW"
	SensitivityMedium   Sensitivity = "MEDIUM"
	SensitivityHigh     Sensitivity = "HIGH"
	SensitivityCritical Sensitivity = "CRITICAL"
)

// Rule declares the role required for endpoints matching Pattern. Method is
// optional; empty matches any method. Pattern segments may use "*" as a
// wildcard, and a trailing "/*" matches any suffix.
type Rule struct {
	Pattern     string      `mapstructure:"pattern"`
	Method      string      `mapstructure:"method"`
	Role        rbac.Role   `mapstructure:"role"`
	Sensitivity Sensitivity `mapstructure:"sensitivity"`
}

// Requirement is the resolved policy for one request.
type Requirement struct {
	Role        rbac.Role
	Sensitivity Sensitivity
	Pattern     string
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Table resolves {endpoint, method} to a Requirement. Immutable after Compile,
// so lookups need no locking.
type Table struct {
	rules          []compiledRule
	sensitive      []*regexp.Regexp
	defaultRole    rbac.Role
	defaultSensLow Sensitivity
}

var errEmptyPattern = errors.New("policy: rule pattern is required")

// Compile builds a Table from ordered rules, a sensitive-path pattern set, and
// the role required when no rule matches.
func Compile(rules []Rule, sensitivePaths []string, defaultRole rbac.Role) (*Table, error) {
	if !rbac.Known(defaultRole) {
		return nil, fmt.Errorf("policy: unknown default role %q", defaultRole)
	}
	t := &Table{defaultRole: defaultRole, defaultSensLow: SensitivityLow}
	for i, r := range rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, errEmptyPattern
		}
		if !rbac.Known(r.Role) {
			return nil, fmt.Errorf("policy: rule %d: unknown role %q", i, r.Role)
		}
		if r.Sensitivity == "" {
			r.Sensitivity = SensitivityLow
		}
		re, err := compilePattern(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %d: %w", i, err)
		}
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
		t.rules = append(t.rules, compiledRule{rule: r, re: re})
	}
	for _, p := range sensitivePaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("policy: sensitive path %q: %w", p, err)
		}
		t.sensitive = append(t.sensitive, re)
	}
	return t, nil
}

// Resolve returns the requirement for endpoint and method. The first rule in
// declaration order whose pattern and method match wins; unmatched endpoints
// require the default role at LOW sensitivity.
func (t *Table) Resolve(endpoint, method string) Requirement {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, cr := range t.rules {
		if cr.rule.Method != "" && cr.rule.Method != method {
			continue
		}
		if cr.re.MatchString(endpoint) {
			return Requirement{
				Role:        cr.rule.Role,
				Sensitivity: cr.rule.Sensitivity,
				Pattern:     cr.rule.Pattern,
			}
		}
	}
	return Requirement{Role: t.defaultRole, Sensitivity: t.defaultSensLow}
}

// IsSensitive reports whether endpoint is in the configured sensitive-path
// set. The escalation detector uses this to flag targeted attacks.
func (t *Table) IsSensitive(endpoint string) bool {
	for _, re := range t.sensitive {
		if re.MatchString(endpoint) {
			return true
		}
	}
	return false
}

// compilePattern turns a path pattern into an anchored regexp. "*" matches a
// single segment; a trailing "/*" matches any suffix including nested paths.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	anySuffix := strings.HasSuffix(pattern, "/*")
	if anySuffix {
		pattern = strings.TrimSuffix(pattern, "/*")
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "*" {
			segments[i] = "[^/]+"
		} else {
			segments[i] = regexp.QuoteMeta(seg)
		}
	}
	expr := "^" + strings.Join(segments, "/")
	if anySuffix {
		expr += "(/.*)?"
	}
	expr += "$"
	return regexp.Compile(expr)
}
