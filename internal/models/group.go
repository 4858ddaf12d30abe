package models

import (
	"fmt"
	"time"
)

// PermissionAction is a group operation guarded by a policy.
type PermissionAction string

const (
	ActionEditExpense    PermissionAction = "edit_expense"
	ActionDeleteExpense  PermissionAction = "delete_expense"
	ActionInviteMembers  PermissionAction = "invite_members"
	ActionApproveMembers PermissionAction = "approve_members"
	ActionManageSettings PermissionAction = "manage_settings"
)

// PermissionActions lists every action a group policy must define.
var PermissionActions = []PermissionAction{
	ActionEditExpense,
	ActionDeleteExpense,
	ActionInviteMembers,
	ActionApproveMembers,
	ActionManageSettings,
}

// PermissionPolicy decides who may perform an action.
type PermissionPolicy string

const (
	// PolicyAllMembers allows any active member except viewers.
	PolicyAllMembers PermissionPolicy = "all_members"
	// PolicyCreatorAndAdmins allows admins and the creator of the affected entity.
	PolicyCreatorAndAdmins PermissionPolicy = "creator_and_admins"
	// PolicyAdminsOnly allows active admins.
	PolicyAdminsOnly PermissionPolicy = "admins_only"
)

// Valid reports whether p is a recognized policy.
func (p PermissionPolicy) Valid() bool {
	switch p {
	case PolicyAllMembers, PolicyCreatorAndAdmins, PolicyAdminsOnly:
		return true
	}
	return false
}

// Permissions maps every action to its policy.
type Permissions map[PermissionAction]PermissionPolicy

// DefaultPermissions returns the policy applied to new groups when none is given.
func DefaultPermissions() Permissions {
	return Permissions{
		ActionEditExpense:    PolicyCreatorAndAdmins,
		ActionDeleteExpense:  PolicyCreatorAndAdmins,
		ActionInviteMembers:  PolicyAllMembers,
		ActionApproveMembers: PolicyAdminsOnly,
		ActionManageSettings: PolicyAdminsOnly,
	}
}

// Validate checks that every recognized action is set to a recognized policy and
// that no unknown action is present.
func (p Permissions) Validate() error {
	for _, action := range PermissionActions {
		policy, ok := p[action]
		if !ok {
			return fmt.Errorf("permission %q is not set", action)
		}
		if !policy.Valid() {
			return fmt.Errorf("permission %q has unknown policy %q", action, policy)
		}
	}
	if len(p) != len(PermissionActions) {
		for action := range p {
			if !isKnownAction(action) {
				return fmt.Errorf("unknown permission %q", action)
			}
		}
	}
	return nil
}

// Merge returns a copy of p with the entries of patch applied.
func (p Permissions) Merge(patch Permissions) Permissions {
	out := make(Permissions, len(p))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func isKnownAction(action PermissionAction) bool {
	for _, a := range PermissionActions {
		if a == action {
			return true
		}
	}
	return false
}

// Group is a shared ledger.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Roommates", "Ski Trip").
	Name string

	Description string

	// CreatedBy is the user ID of the creator, who becomes the first admin.
	CreatedBy string

	// DefaultCurrency is used by clients as the preselected expense currency.
	DefaultCurrency string

	// RequireApproval makes share-link joins create pending memberships.
	RequireApproval bool

	Permissions Permissions

	// Version is the optimistic lock token.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	DeletedBy string
}

// Deleted reports whether the group has been soft-deleted.
func (g *Group) Deleted() bool { return g.DeletedAt != nil }

// GroupPatch holds the fields of an UpdateGroup call. Nil fields are left unchanged.
type GroupPatch struct {
	Name            *string
	Description     *string
	DefaultCurrency *string
	RequireApproval *bool
	// Permissions entries are merged over the current policy.
	Permissions Permissions
}
