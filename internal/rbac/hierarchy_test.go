package rbac

import "testing"

func TestRank_OrderedHighestFirst(t *testing.T) {
	if !(Rank(RoleMasterAdmin) < Rank(RoleAdmin)) {
		t.Error("MASTER_ADMIN should rank above ADMIN")
	}
	if !(Rank(RoleAdmin) < Rank(RoleManager)) {
		t.Error("ADMIN should rank above MANAGER")
	}
	if !(Rank(RoleManager) < Rank(RoleEmployee)) {
		t.Error("MANAGER should rank above EMPLOYEE")
	}
}

func TestRank_UnknownRole(t *testing.T) {
	if Rank(Role("SUPERUSER")) != RankUnknown {
		t.Errorf("unknown role rank = %d, want RankUnknown", Rank(Role("SUPERUSER")))
	}
	if Rank(Role("")) != RankUnknown {
		t.Error("empty role should rank RankUnknown")
	}
}

func TestIsAuthorized(t *testing.T) {
	tests := []struct {
		current, required Role
		want              bool
	}{
		{RoleMasterAdmin, RoleAdmin, true},
		{RoleAdmin, RoleMasterAdmin, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleManager, RoleEmployee, true},
		{RoleEmployee, RoleManager, false},
		{Role("UNKNOWN"), RoleEmployee, false},
		{RoleEmployee, Role("UNKNOWN"), true}, // unknown requirement ranks below everything
	}
	for _, tt := range tests {
		if got := IsAuthorized(tt.current, tt.required); got != tt.want {
			t.Errorf("IsAuthorized(%s, %s) = %v, want %v", tt.current, tt.required, got, tt.want)
		}
	}
}

func TestCanPromoteTo(t *testing.T) {
	tests := []struct {
		promoter, target Role
		want             bool
	}{
		{RoleMasterAdmin, RoleMasterAdmin, true},
		{RoleMasterAdmin, RoleAdmin, true},
		{RoleMasterAdmin, RoleEmployee, true},
		{RoleAdmin, RoleMasterAdmin, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleManager, true},
		{RoleManager, RoleManager, false},
		{RoleManager, RoleEmployee, true},
		{RoleEmployee, RoleEmployee, false},
		{Role("UNKNOWN"), RoleEmployee, false},
		{RoleMasterAdmin, Role("UNKNOWN"), false},
	}
	for _, tt := range tests {
		if got := CanPromoteTo(tt.promoter, tt.target); got != tt.want {
			t.Errorf("CanPromoteTo(%s, %s) = %v, want %v", tt.promoter, tt.target, got, tt.want)
		}
	}
}

func TestValidateTransition_TopRoleRule(t *testing.T) {
	// ADMIN granting MASTER_ADMIN to a MANAGER: not self-promotion, so the
	// top-role rule carries the reason.
	res := ValidateTransition(RoleManager, RoleMasterAdmin, RoleAdmin)
	if res.Valid {
		t.Fatal("ADMIN granting MASTER_ADMIN should be invalid")
	}
	if res.Reason != ReasonOnlyTopRoleGrantsTop {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonOnlyTopRoleGrantsTop)
	}
}

func TestValidateTransition_PromotionCapability(t *testing.T) {
	res := ValidateTransition(RoleEmployee, RoleManager, RoleManager)
	if res.Valid {
		t.Fatal("MANAGER granting MANAGER should be invalid")
	}
	if res.Reason != ReasonPromotionNotPermitted {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonPromotionNotPermitted)
	}
}

func TestValidateTransition_SelfPromotion(t *testing.T) {
	// Performer and subject hold the same role and the target outranks it:
	// the self-promotion rule fires before the top-role rule.
	res := ValidateTransition(RoleAdmin, RoleMasterAdmin, RoleAdmin)
	if res.Valid {
		t.Fatal("self-promotion to a higher rank should be invalid")
	}
	if res.Reason != ReasonSelfPromotionForbidden {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonSelfPromotionForbidden)
	}

	res = ValidateTransition(RoleManager, RoleAdmin, RoleManager)
	if res.Valid {
		t.Fatal("MANAGER raising MANAGER above themselves should be invalid")
	}
	if res.Reason != ReasonSelfPromotionForbidden {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonSelfPromotionForbidden)
	}

	// Same role on both sides with no rank gain is not self-promotion.
	res = ValidateTransition(RoleAdmin, RoleAdmin, RoleAdmin)
	if !res.Valid {
		t.Errorf("ADMIN granting ADMIN should be valid, got reason %s", res.Reason)
	}
}

func TestValidateTransition_Allowed(t *testing.T) {
	res := ValidateTransition(RoleEmployee, RoleManager, RoleMasterAdmin)
	if !res.Valid {
		t.Fatalf("MASTER_ADMIN promoting EMPLOYEE to MANAGER should be valid, got %s", res.Reason)
	}
	if res.Reason != ReasonTransitionAllowed {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonTransitionAllowed)
	}
}
