package ledger

import (
	"context"
	"errors"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// actorMembership returns the active membership of actorID or FORBIDDEN.
func actorMembership(ctx context.Context, tx storage.Tx, groupID, actorID string) (*models.Membership, error) {
	if actorID == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "caller is not authenticated")
	}
	member, err := tx.GetMember(ctx, groupID, actorID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.CodeForbidden, "caller is not a member of group %s", groupID)
	}
	if err != nil {
		return nil, err
	}
	if !member.Active() {
		return nil, apperr.New(apperr.CodeForbidden, "membership in group %s is awaiting approval", groupID)
	}
	return member, nil
}

// requireWriter rejects viewers.
func requireWriter(actor *models.Membership) error {
	if actor.Role == models.RoleViewer {
		return apperr.New(apperr.CodeForbidden, "viewers cannot change the ledger")
	}
	return nil
}

// authorize applies the group's policy for action. creatorID is the creator of
// the affected entity, or empty when the action has no owning entity.
func authorize(group *models.Group, actor *models.Membership, action models.PermissionAction, creatorID string) error {
	if err := requireWriter(actor); err != nil {
		return err
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}

	policy, ok := group.Permissions[action]
	if !ok {
		policy = models.DefaultPermissions()[action]
	}
	switch policy {
	case models.PolicyAllMembers:
		return nil
	case models.PolicyCreatorAndAdmins:
		if creatorID != "" && creatorID == actor.UserID {
			return nil
		}
	}
	return apperr.New(apperr.CodeForbidden, "%s is not allowed for %s in this group", action, actor.UserID)
}

func requireAdmin(actor *models.Membership) error {
	if actor.Role != models.RoleAdmin {
		return apperr.New(apperr.CodeForbidden, "only group admins can do this")
	}
	return nil
}
