package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateSettlementInput records a payment from PayerID to PayeeID.
type CreateSettlementInput struct {
	ActorID  string
	GroupID  string
	PayerID  string
	PayeeID  string
	Amount   decimal.Decimal
	Currency string
	Date     time.Time
	Note     string
}

// UpdateSettlementInput patches a settlement.
type UpdateSettlementInput struct {
	ActorID         string
	SettlementID    string
	ExpectedVersion int64
	Patch           models.SettlementPatch
}

// SettlementRef names a settlement at an expected version.
type SettlementRef struct {
	ActorID         string
	SettlementID    string
	ExpectedVersion int64
}

// validateSettlement checks amount, currency, parties and note of s.
func validateSettlement(s *models.Settlement, members []*models.Membership) error {
	cur, err := calculator.ValidateAmount(s.Amount, s.Currency)
	if err != nil {
		return err
	}
	s.Currency = cur.Code
	if s.PayerID == s.PayeeID {
		return apperr.New(apperr.CodeInvalidArgument, "payer and payee must be different").WithField("payeeId")
	}
	if err := requireActiveUsers(members, "payerId", s.PayerID); err != nil {
		return err
	}
	if err := requireActiveUsers(members, "payeeId", s.PayeeID); err != nil {
		return err
	}
	s.Note, err = optionalText(s.Note, "note", 200)
	return err
}

// loadSettlement returns a live settlement or NOT_FOUND.
func loadSettlement(ctx context.Context, tx storage.Tx, settlementID string) (*models.Settlement, error) {
	s, err := tx.GetSettlement(ctx, settlementID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && s.Deleted()) {
		return nil, apperr.New(apperr.CodeNotFound, "settlement %s not found", settlementID).WithField("settlementId")
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// editableSettlement loads a settlement the actor may change at the expected
// version, together with the group's members.
func editableSettlement(ctx context.Context, tx storage.Tx, ref SettlementRef, action models.PermissionAction) (*models.Group, *models.Settlement, []*models.Membership, error) {
	s, err := loadSettlement(ctx, tx, ref.SettlementID)
	if err != nil {
		return nil, nil, nil, err
	}
	group, err := loadGroup(ctx, tx, s.GroupID)
	if err != nil {
		return nil, nil, nil, err
	}
	actor, err := actorMembership(ctx, tx, group.ID, ref.ActorID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := authorize(group, actor, action, s.CreatedBy); err != nil {
		return nil, nil, nil, err
	}
	if err := checkVersion("settlement", s.Version, ref.ExpectedVersion); err != nil {
		return nil, nil, nil, err
	}
	if s.Locked {
		return nil, nil, nil, apperr.New(apperr.CodeSettlementLocked, "settlement %s is locked", s.ID)
	}
	members, err := tx.ListMembers(ctx, group.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := requireStillMembers(members, "settlement", s.ID, []string{s.PayerID, s.PayeeID}); err != nil {
		return nil, nil, nil, err
	}
	return group, s, members, nil
}

func settlementChange(groupID string, users []string, at time.Time) notify.Change {
	return notify.Change{GroupID: groupID, Categories: ledgerCategories, Users: users, At: at}
}

// CreateSettlement records a payment between two active members.
func (m *Manager) CreateSettlement(ctx context.Context, in CreateSettlementInput) (*models.Settlement, error) {
	var result *models.Settlement
	err := m.mutate(ctx, "CreateSettlement", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
		if err != nil {
			return err
		}
		if err := requireWriter(actor); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}

		now := m.now()
		s := &models.Settlement{
			GroupID:   group.ID,
			PayerID:   in.PayerID,
			PayeeID:   in.PayeeID,
			Amount:    in.Amount,
			Currency:  in.Currency,
			Date:      in.Date,
			Note:      in.Note,
			CreatedBy: in.ActorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if s.Currency == "" {
			s.Currency = group.DefaultCurrency
		}
		if s.Date.IsZero() {
			s.Date = now
		}
		if err := validateSettlement(s, members); err != nil {
			return err
		}
		if err := tx.CreateSettlement(ctx, s); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, settlementChange(group.ID, []string{s.PayerID, s.PayeeID}, now)); err != nil {
			return err
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Settlement created", "settlement_id", result.ID, "group_id", result.GroupID,
		"payer", result.PayerID, "payee", result.PayeeID, "amount", result.Amount.String())
	return result, nil
}

// UpdateSettlement applies a patch to an unlocked settlement. Requires the
// edit_expense permission.
func (m *Manager) UpdateSettlement(ctx context.Context, in UpdateSettlementInput) (*models.Settlement, error) {
	p := in.Patch
	if p.PayerID == nil && p.PayeeID == nil && p.Amount == nil && p.Currency == nil && p.Date == nil && p.Note == nil {
		return nil, apperr.New(apperr.CodeInvalidArgument, "nothing to update")
	}

	var result *models.Settlement
	err := m.mutate(ctx, "UpdateSettlement", func(ctx context.Context, tx storage.Tx) error {
		ref := SettlementRef{ActorID: in.ActorID, SettlementID: in.SettlementID, ExpectedVersion: in.ExpectedVersion}
		group, s, members, err := editableSettlement(ctx, tx, ref, models.ActionEditExpense)
		if err != nil {
			return err
		}

		users := []string{s.PayerID, s.PayeeID}
		if p.PayerID != nil {
			s.PayerID = *p.PayerID
		}
		if p.PayeeID != nil {
			s.PayeeID = *p.PayeeID
		}
		if p.Amount != nil {
			s.Amount = *p.Amount
		}
		if p.Currency != nil {
			s.Currency = *p.Currency
		}
		if p.Date != nil {
			s.Date = *p.Date
		}
		if p.Note != nil {
			s.Note = *p.Note
		}
		if err := validateSettlement(s, members); err != nil {
			return err
		}
		s.UpdatedAt = m.now()

		if err := tx.UpdateSettlement(ctx, s); err != nil {
			return err
		}
		users = append(users, s.PayerID, s.PayeeID)
		if err := m.publish(ctx, tx, settlementChange(group.ID, users, s.UpdatedAt)); err != nil {
			return err
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Settlement updated", "settlement_id", result.ID, "version", result.Version)
	return result, nil
}

// DeleteSettlement soft-deletes an unlocked settlement. Requires the
// delete_expense permission.
func (m *Manager) DeleteSettlement(ctx context.Context, in SettlementRef) error {
	err := m.mutate(ctx, "DeleteSettlement", func(ctx context.Context, tx storage.Tx) error {
		group, s, _, err := editableSettlement(ctx, tx, in, models.ActionDeleteExpense)
		if err != nil {
			return err
		}
		now := m.now()
		s.DeletedAt = &now
		s.DeletedBy = in.ActorID
		s.UpdatedAt = now
		if err := tx.UpdateSettlement(ctx, s); err != nil {
			return err
		}
		return m.publish(ctx, tx, settlementChange(group.ID, []string{s.PayerID, s.PayeeID}, now))
	})
	if err != nil {
		return err
	}

	slog.Info("Settlement deleted", "settlement_id", in.SettlementID, "deleted_by", in.ActorID)
	return nil
}

// LockSettlement makes a settlement immutable. Admins and the payee, who
// confirms receipt, may lock; viewers never can. Locking a locked settlement changes nothing.
func (m *Manager) LockSettlement(ctx context.Context, in SettlementRef) (*models.Settlement, error) {
	var result *models.Settlement
	err := m.mutate(ctx, "LockSettlement", func(ctx context.Context, tx storage.Tx) error {
		s, err := loadSettlement(ctx, tx, in.SettlementID)
		if err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, s.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, group.ID, in.ActorID)
		if err != nil {
			return err
		}
		if err := requireWriter(actor); err != nil {
			return err
		}
		if actor.Role != models.RoleAdmin && actor.UserID != s.PayeeID {
			return apperr.New(apperr.CodeForbidden, "only admins or the payee can lock a settlement")
		}
		if s.Locked {
			result = s
			return nil
		}
		if err := checkVersion("settlement", s.Version, in.ExpectedVersion); err != nil {
			return err
		}

		s.Locked = true
		s.UpdatedAt = m.now()
		if err := tx.UpdateSettlement(ctx, s); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, notify.Change{
			GroupID:    group.ID,
			Categories: []models.ChangeCategory{models.CategoryTransactions},
			Users:      []string{s.PayerID, s.PayeeID},
			At:         s.UpdatedAt,
		}); err != nil {
			return err
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Settlement locked", "settlement_id", result.ID, "locked_by", in.ActorID)
	return result, nil
}

// GetSettlement returns a live settlement of a group the actor belongs to.
func (m *Manager) GetSettlement(ctx context.Context, actorID, settlementID string) (*models.Settlement, error) {
	var s *models.Settlement
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if s, err = loadSettlement(ctx, tx, settlementID); err != nil {
			return err
		}
		if _, err := loadGroup(ctx, tx, s.GroupID); err != nil {
			return err
		}
		_, err = actorMembership(ctx, tx, s.GroupID, actorID)
		return err
	})
	return s, err
}

// ListSettlements returns the live settlements of a group.
func (m *Manager) ListSettlements(ctx context.Context, actorID, groupID string) ([]*models.Settlement, error) {
	var settlements []*models.Settlement
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := actorMembership(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		var err error
		settlements, err = tx.ListSettlements(ctx, groupID)
		return err
	})
	return settlements, err
}
