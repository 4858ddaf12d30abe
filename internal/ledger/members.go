package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage"
)

// JoinGroupInput redeems a share link.
type JoinGroupInput struct {
	Token  string
	UserID string
	// DisplayName defaults to UserID.
	DisplayName string
}

// ApproveMemberInput activates a pending membership.
type ApproveMemberInput struct {
	ActorID         string
	GroupID         string
	UserID          string
	ExpectedVersion int64
}

// UpdateMemberRoleInput changes a member's role.
type UpdateMemberRoleInput struct {
	ActorID         string
	GroupID         string
	UserID          string
	Role            models.Role
	ExpectedVersion int64
}

// RemoveMemberInput removes a member. Removing yourself is leaving the group.
type RemoveMemberInput struct {
	ActorID         string
	GroupID         string
	UserID          string
	ExpectedVersion int64
}

// nextColor returns the first palette color no member uses yet.
func nextColor(members []*models.Membership) string {
	used := make(map[string]bool, len(members))
	for _, m := range members {
		used[m.Color] = true
	}
	for _, c := range models.MemberColors {
		if !used[c] {
			return c
		}
	}
	return models.MemberColors[len(members)%len(models.MemberColors)]
}

// checkDisplayName rejects a name that collides with another active member.
func checkDisplayName(members []*models.Membership, userID, displayName string) error {
	key := models.NormalizeDisplayName(displayName)
	for _, m := range members {
		if m.UserID != userID && m.Active() && models.NormalizeDisplayName(m.DisplayName) == key {
			return apperr.New(apperr.CodeDisplayNameTaken, "display name %q is already used in this group", displayName).
				WithField("displayName")
		}
	}
	return nil
}

func countAdmins(members []*models.Membership) int {
	n := 0
	for _, m := range members {
		if m.Active() && m.Role == models.RoleAdmin {
			n++
		}
	}
	return n
}

func membershipChange(groupID string, members []*models.Membership, extra ...string) notify.Change {
	return notify.Change{
		GroupID:    groupID,
		Categories: []models.ChangeCategory{models.CategoryGroupDetails},
		Users:      append(memberIDs(members), extra...),
	}
}

// JoinGroup adds the user to the group of the share link. Member limit and
// display-name uniqueness are checked against the memberships read inside the
// transaction, so of two concurrent joins for the last slot only one succeeds.
// An existing membership is reported as ALREADY_MEMBER without a write.
func (m *Manager) JoinGroup(ctx context.Context, in JoinGroupInput) (*models.MembershipResult, error) {
	if in.UserID == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "caller is not authenticated")
	}
	displayName := in.DisplayName
	if displayName == "" {
		displayName = in.UserID
	}
	displayName, err := requireText(displayName, "displayName", 50)
	if err != nil {
		return nil, err
	}

	var result *models.MembershipResult
	err = m.mutate(ctx, "JoinGroup", func(ctx context.Context, tx storage.Tx) error {
		now := m.now()
		link, err := redeemShareLink(ctx, tx, in.Token, now)
		if err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, link.GroupID)
		if err != nil {
			return err
		}

		existing, err := tx.GetMember(ctx, group.ID, in.UserID)
		if err == nil {
			result = &models.MembershipResult{Outcome: models.JoinOutcomeAlreadyMember, Membership: existing}
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		if len(members) >= m.cfg.MaxMembers {
			return apperr.New(apperr.CodeGroupFull, "group already has the maximum of %d members", m.cfg.MaxMembers)
		}
		if err := checkDisplayName(members, in.UserID, displayName); err != nil {
			return err
		}

		member := &models.Membership{
			GroupID:     group.ID,
			UserID:      in.UserID,
			DisplayName: displayName,
			Role:        models.RoleMember,
			Status:      models.MemberActive,
			Color:       nextColor(members),
			JoinedAt:    now,
			UpdatedAt:   now,
		}
		outcome := models.JoinOutcomeJoined
		if group.RequireApproval {
			member.Status = models.MemberPending
			outcome = models.JoinOutcomePending
		}
		if err := tx.AddMember(ctx, member); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, membershipChange(group.ID, members, in.UserID)); err != nil {
			return err
		}
		result = &models.MembershipResult{Outcome: outcome, Membership: member}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Join request processed", "group_id", result.Membership.GroupID, "user_id", in.UserID,
		"outcome", result.Outcome)
	return result, nil
}

// ApproveMember activates a pending membership. Requires the approve_members permission.
func (m *Manager) ApproveMember(ctx context.Context, in ApproveMemberInput) (*models.Membership, error) {
	var result *models.Membership
	err := m.mutate(ctx, "ApproveMember", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
		if err != nil {
			return err
		}
		if err := authorize(group, actor, models.ActionApproveMembers, ""); err != nil {
			return err
		}

		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		target := findMember(members, in.UserID)
		if target == nil {
			return apperr.New(apperr.CodeUserNotInGroup, "user %s has not asked to join", in.UserID).WithField("userId")
		}
		if err := checkVersion("membership", target.Version, in.ExpectedVersion); err != nil {
			return err
		}
		if target.Active() {
			return apperr.New(apperr.CodeInvalidArgument, "user %s is already active", in.UserID).WithField("userId")
		}
		if err := checkDisplayName(members, target.UserID, target.DisplayName); err != nil {
			return err
		}

		target.Status = models.MemberActive
		target.UpdatedAt = m.now()
		if err := tx.UpdateMember(ctx, target); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, membershipChange(group.ID, members)); err != nil {
			return err
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Member approved", "group_id", in.GroupID, "user_id", in.UserID, "approved_by", in.ActorID)
	return result, nil
}

// UpdateMemberRole changes the role of an active member. Requires the
// manage_settings permission; the last admin cannot be demoted.
func (m *Manager) UpdateMemberRole(ctx context.Context, in UpdateMemberRoleInput) (*models.Membership, error) {
	if !in.Role.Valid() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "unknown role %q", in.Role).WithField("role")
	}

	var result *models.Membership
	err := m.mutate(ctx, "UpdateMemberRole", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
		if err != nil {
			return err
		}
		if err := authorize(group, actor, models.ActionManageSettings, ""); err != nil {
			return err
		}

		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		target := findMember(members, in.UserID)
		if target == nil || !target.Active() {
			return apperr.New(apperr.CodeUserNotInGroup, "user %s is not an active member", in.UserID).WithField("userId")
		}
		if err := checkVersion("membership", target.Version, in.ExpectedVersion); err != nil {
			return err
		}
		if target.Role == in.Role {
			result = target
			return nil
		}
		if target.Role == models.RoleAdmin && countAdmins(members) == 1 {
			return apperr.New(apperr.CodeForbidden, "the last admin cannot be demoted")
		}

		target.Role = in.Role
		target.UpdatedAt = m.now()
		if err := tx.UpdateMember(ctx, target); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, membershipChange(group.ID, members)); err != nil {
			return err
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Member role updated", "group_id", in.GroupID, "user_id", in.UserID, "role", result.Role)
	return result, nil
}

// RemoveMember removes a member, or lets the actor leave when UserID is the
// actor. An active member can only go once every one of their balances is zero,
// computed from the ledger inside the transaction. Removing others requires the
// manage_settings permission; pending requests may also be declined by anyone
// allowed to approve members.
func (m *Manager) RemoveMember(ctx context.Context, in RemoveMemberInput) error {
	err := m.mutate(ctx, "RemoveMember", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		target := findMember(members, in.UserID)
		if target == nil {
			return apperr.New(apperr.CodeUserNotInGroup, "user %s is not a member", in.UserID).WithField("userId")
		}

		if in.ActorID != in.UserID {
			actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
			if err != nil {
				return err
			}
			action := models.ActionManageSettings
			if !target.Active() {
				action = models.ActionApproveMembers
			}
			if err := authorize(group, actor, action, ""); err != nil {
				return err
			}
		}
		if err := checkVersion("membership", target.Version, in.ExpectedVersion); err != nil {
			return err
		}

		if target.Active() {
			if target.Role == models.RoleAdmin && countAdmins(members) == 1 && len(members) > 1 {
				return apperr.New(apperr.CodeForbidden, "the last admin cannot leave while other members remain")
			}
			balances, err := groupBalances(ctx, tx, group.ID)
			if err != nil {
				return err
			}
			if !balances.Settled(target.UserID) {
				return apperr.New(apperr.CodeOutstandingBalance,
					"user %s has outstanding balances in this group", target.UserID).WithField("userId")
			}
		}

		if err := tx.DeleteMember(ctx, target); err != nil {
			return err
		}
		change := membershipChange(group.ID, members)
		change.Removed = []string{target.UserID}
		return m.publish(ctx, tx, change)
	})
	if err != nil {
		return err
	}

	slog.Info("Member removed", "group_id", in.GroupID, "user_id", in.UserID, "removed_by", in.ActorID)
	return nil
}
