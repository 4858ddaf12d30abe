package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateGroupInput describes a new group. The actor becomes its first admin.
type CreateGroupInput struct {
	ActorID         string
	Name            string
	Description     string
	DefaultCurrency string
	RequireApproval bool
	// Permissions entries override the default policy.
	Permissions models.Permissions
	// DisplayName of the creator inside the group; defaults to ActorID.
	DisplayName string
}

// UpdateGroupInput changes group settings.
type UpdateGroupInput struct {
	ActorID         string
	GroupID         string
	ExpectedVersion int64
	Patch           models.GroupPatch
}

// DeleteGroupInput soft-deletes a group.
type DeleteGroupInput struct {
	ActorID         string
	GroupID         string
	ExpectedVersion int64
}

func validatePermissions(perms models.Permissions) (models.Permissions, error) {
	merged := models.DefaultPermissions().Merge(perms)
	if err := merged.Validate(); err != nil {
		return nil, apperr.New(apperr.CodeInvalidArgument, "%v", err).WithField("permissions")
	}
	return merged, nil
}

// CreateGroup creates a group with the actor as active admin.
func (m *Manager) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Group, error) {
	if in.ActorID == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "caller is not authenticated")
	}
	name, err := requireText(in.Name, "name", 100)
	if err != nil {
		return nil, err
	}
	description, err := optionalText(in.Description, "description", 500)
	if err != nil {
		return nil, err
	}
	currency := in.DefaultCurrency
	if currency == "" {
		currency = "USD"
	}
	cur, err := calculator.LookupCurrency(currency)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidCurrency, "unsupported currency %q", currency).WithField("defaultCurrency")
	}
	perms, err := validatePermissions(in.Permissions)
	if err != nil {
		return nil, err
	}
	displayName := in.DisplayName
	if displayName == "" {
		displayName = in.ActorID
	}
	displayName, err = requireText(displayName, "displayName", 50)
	if err != nil {
		return nil, err
	}

	now := m.now()
	group := &models.Group{
		Name:            name,
		Description:     description,
		CreatedBy:       in.ActorID,
		DefaultCurrency: cur.Code,
		RequireApproval: in.RequireApproval,
		Permissions:     perms,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = m.mutate(ctx, "CreateGroup", func(ctx context.Context, tx storage.Tx) error {
		g := *group
		if err := tx.CreateGroup(ctx, &g); err != nil {
			return err
		}
		err := tx.AddMember(ctx, &models.Membership{
			GroupID:     g.ID,
			UserID:      in.ActorID,
			DisplayName: displayName,
			Role:        models.RoleAdmin,
			Status:      models.MemberActive,
			Color:       models.MemberColors[0],
			JoinedAt:    now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if err := m.publish(ctx, tx, notify.Change{
			GroupID:    g.ID,
			Categories: []models.ChangeCategory{models.CategoryGroupDetails},
			Users:      []string{in.ActorID},
			At:         now,
		}); err != nil {
			return err
		}
		*group = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Group created", "group_id", group.ID, "created_by", in.ActorID)
	return group, nil
}

// UpdateGroup applies a settings patch. Requires the manage_settings permission.
func (m *Manager) UpdateGroup(ctx context.Context, in UpdateGroupInput) (*models.Group, error) {
	var result *models.Group
	err := m.mutate(ctx, "UpdateGroup", func(ctx context.Context, tx storage.Tx) error {
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
		if err := checkVersion("group", group.Version, in.ExpectedVersion); err != nil {
			return err
		}

		p := in.Patch
		if p.Name != nil {
			if group.Name, err = requireText(*p.Name, "name", 100); err != nil {
				return err
			}
		}
		if p.Description != nil {
			if group.Description, err = optionalText(*p.Description, "description", 500); err != nil {
				return err
			}
		}
		if p.DefaultCurrency != nil {
			cur, err := calculator.LookupCurrency(*p.DefaultCurrency)
			if err != nil {
				return apperr.New(apperr.CodeInvalidCurrency, "unsupported currency %q", *p.DefaultCurrency).
					WithField("defaultCurrency")
			}
			group.DefaultCurrency = cur.Code
		}
		if p.RequireApproval != nil {
			group.RequireApproval = *p.RequireApproval
		}
		if p.Permissions != nil {
			if group.Permissions, err = validatePermissions(group.Permissions.Merge(p.Permissions)); err != nil {
				return err
			}
		}
		group.UpdatedAt = m.now()

		if err := tx.UpdateGroup(ctx, group); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		if err := m.publish(ctx, tx, notify.Change{
			GroupID:    group.ID,
			Categories: []models.ChangeCategory{models.CategoryGroupDetails},
			Users:      memberIDs(members),
			At:         group.UpdatedAt,
		}); err != nil {
			return err
		}
		result = group
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Group updated", "group_id", result.ID, "version", result.Version)
	return result, nil
}

// DeleteGroup soft-deletes a group. Only admins may delete, and only once every
// balance in every currency is zero.
func (m *Manager) DeleteGroup(ctx context.Context, in DeleteGroupInput) error {
	err := m.mutate(ctx, "DeleteGroup", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
		if err != nil {
			return err
		}
		if err := requireAdmin(actor); err != nil {
			return err
		}
		if err := checkVersion("group", group.Version, in.ExpectedVersion); err != nil {
			return err
		}

		balances, err := groupBalances(ctx, tx, group.ID)
		if err != nil {
			return err
		}
		if !balances.AllSettled() {
			return apperr.New(apperr.CodeOutstandingBalance, "group still has outstanding balances")
		}

		now := m.now()
		group.DeletedAt = &now
		group.DeletedBy = in.ActorID
		group.UpdatedAt = now
		if err := tx.UpdateGroup(ctx, group); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		return m.publish(ctx, tx, notify.Change{
			GroupID:    group.ID,
			Categories: []models.ChangeCategory{models.CategoryGroupDetails},
			Users:      memberIDs(members),
			At:         now,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("Group deleted", "group_id", in.GroupID, "deleted_by", in.ActorID)
	return nil
}

// GetGroup returns a group the actor belongs to.
func (m *Manager) GetGroup(ctx context.Context, actorID, groupID string) (*models.Group, error) {
	var group *models.Group
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if group, err = loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		_, err = actorMembership(ctx, tx, groupID, actorID)
		return err
	})
	return group, err
}

// ListMembers returns every active and pending membership of a group.
func (m *Manager) ListMembers(ctx context.Context, actorID, groupID string) ([]*models.Membership, error) {
	var members []*models.Membership
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := actorMembership(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		var err error
		members, err = tx.ListMembers(ctx, groupID)
		return err
	})
	return members, err
}

// GetBalances recomputes the balances of a group from its live expenses and settlements.
func (m *Manager) GetBalances(ctx context.Context, actorID, groupID string) (*calculator.GroupBalances, error) {
	var balances *calculator.GroupBalances
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := actorMembership(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		var err error
		balances, err = groupBalances(ctx, tx, groupID)
		return err
	})
	return balances, err
}

// GetNotificationRecord returns the user's change record. A user who never
// had a relevant event gets an empty record at version 0.
func (m *Manager) GetNotificationRecord(ctx context.Context, userID string) (*models.NotificationRecord, error) {
	if userID == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "caller is not authenticated")
	}
	var record *models.NotificationRecord
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		record, err = tx.GetNotificationRecord(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			record = &models.NotificationRecord{UserID: userID, Groups: map[string]*models.GroupChangeState{}}
			return nil
		}
		return err
	})
	return record, err
}

// groupBalances loads the live ledger of a group and aggregates it.
func groupBalances(ctx context.Context, tx storage.Tx, groupID string) (*calculator.GroupBalances, error) {
	expenses, err := tx.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	settlements, err := tx.ListSettlements(ctx, groupID)
	if err != nil {
		return nil, err
	}

	forBalance := make([]calculator.ExpenseForBalance, len(expenses))
	for i, e := range expenses {
		forBalance[i] = calculator.ExpenseForBalance{
			PayerID:  e.PayerID,
			Amount:   e.Amount,
			Currency: e.Currency,
			Splits:   e.Splits,
		}
	}
	settled := make([]calculator.SettlementForBalance, len(settlements))
	for i, s := range settlements {
		settled[i] = calculator.SettlementForBalance{
			PayerID:  s.PayerID,
			PayeeID:  s.PayeeID,
			Amount:   s.Amount,
			Currency: s.Currency,
		}
	}
	return calculator.ComputeBalances(groupID, forBalance, settled)
}
