// Package rbac defines the closed role set of the attendance platform and the
// pure ranking and promotion rules over it. Nothing here holds state or
// performs I/O, so every function is safe to call concurrently.
package rbac

import "math"

// Role is one of the platform's fixed roles.
type Role string

const (
	RoleMasterAdmin Role = "MASTER_ADMIN"
	RoleAdmin       Role = "ADMIN"
	RoleManager     Role = "MANAGER"
	RoleEmployee    Role = "EMPLOYEE"
)

// RankUnknown is the rank of any role outside the closed set. It is never
// sufficient for any endpoint.
const RankUnknown = math.MaxInt32

var ranks = map[Role]int{
	RoleMasterAdmin: 1,
	RoleAdmin:       2,
	RoleManager:     3,
	RoleEmployee:    4,
}

// Rank returns the privilege rank of role; lower means more privileged.
// Unknown roles rank RankUnknown.
func Rank(role Role) int {
	if r, ok := ranks[role]; ok {
		return r
	}
	return RankUnknown
}

// Known reports whether role is a member of the closed role set.
func Known(role Role) bool {
	_, ok := ranks[role]
	return ok
}

// IsAuthorized reports whether currentRole satisfies requiredRole, i.e. ranks
// at least as high.
func IsAuthorized(currentRole, requiredRole Role) bool {
	return Rank(currentRole) <= Rank(requiredRole)
}

// Outranks reports whether a ranks strictly higher (is more privileged) than b.
func Outranks(a, b Role) bool {
	return Rank(a) < Rank(b)
}

// CanPromoteTo reports whether promoterRole may grant targetRole.
// MASTER_ADMIN may grant any role; ADMIN may grant ADMIN or lower but never
// MASTER_ADMIN; MANAGER may grant only EMPLOYEE; EMPLOYEE may grant nothing.
func CanPromoteTo(promoterRole, targetRole Role) bool {
	if !Known(promoterRole) || !Known(targetRole) {
		return false
	}
	switch promoterRole {
	case RoleMasterAdmin:
		return true
	case RoleAdmin:
		return targetRole != RoleMasterAdmin
	case RoleManager:
		return targetRole == RoleEmployee
	default:
		return false
	}
}

// Transition reason codes returned by ValidateTransition.
const (
	ReasonTransitionAllowed      = "TRANSITION_ALLOWED"
	ReasonOnlyTopRoleGrantsTop   = "ONLY_TOP_ROLE_CAN_GRANT_TOP_ROLE"
	ReasonPromotionNotPermitted  = "PROMOTION_NOT_PERMITTED"
	ReasonSelfPromotionForbidden = "SELF_PROMOTION_NOT_ALLOWED"
)

// TransitionResult is the outcome of ValidateTransition.
type TransitionResult struct {
	Valid  bool
	Reason string
}

// ValidateTransition checks whether performerRole may move a subject holding
// currentRole to newRole. The most specific failure wins: a performer whose
// own role equals the subject's current role may not raise it above
// themselves; granting MASTER_ADMIN requires MASTER_ADMIN; everything else
// falls to the general promotion capability rule.
func ValidateTransition(currentRole, newRole, performerRole Role) TransitionResult {
	if performerRole == currentRole && Outranks(newRole, currentRole) {
		return TransitionResult{Valid: false, Reason: ReasonSelfPromotionForbidden}
	}
	if newRole == RoleMasterAdmin && performerRole != RoleMasterAdmin {
		return TransitionResult{Valid: false, Reason: ReasonOnlyTopRoleGrantsTop}
	}
	if !CanPromoteTo(performerRole, newRole) {
		return TransitionResult{Valid: false, Reason: ReasonPromotionNotPermitted}
	}
	return TransitionResult{Valid: true, Reason: ReasonTransitionAllowed}
}
