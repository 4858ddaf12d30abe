package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateExpenseInput describes a new expense.
type CreateExpenseInput struct {
	ActorID     string
	GroupID     string
	Description string
	Amount      decimal.Decimal
	Currency    string
	PayerID     string
	// Participants is ordered; the order decides who absorbs rounding remainders.
	Participants []string
	SplitType    models.SplitType
	// Splits are required input for exact and percentage splits; nil falls back to equal shares.
	Splits   []models.Split
	Date     time.Time
	Category string
}

// UpdateExpenseInput patches an expense.
type UpdateExpenseInput struct {
	ActorID         string
	ExpenseID       string
	ExpectedVersion int64
	Patch           models.ExpensePatch
}

// DeleteExpenseInput soft-deletes an expense.
type DeleteExpenseInput struct {
	ActorID         string
	ExpenseID       string
	ExpectedVersion int64
}

var ledgerCategories = []models.ChangeCategory{models.CategoryTransactions, models.CategoryBalances}

// requireActiveUsers checks that every user is an active member of the group.
func requireActiveUsers(members []*models.Membership, field string, users ...string) error {
	for i, u := range users {
		m := findMember(members, u)
		if m == nil || !m.Active() {
			f := field
			if len(users) > 1 {
				f = fmt.Sprintf("%s[%d]", field, i)
			}
			return apperr.New(apperr.CodeUserNotInGroup, "user %s is not an active member of the group", u).WithField(f)
		}
	}
	return nil
}

// requireStillMembers checks that nobody the stored entity involves has left
// the group. A departed user's balance must stay where the removal check saw it.
func requireStillMembers(members []*models.Membership, kind, id string, users []string) error {
	for _, u := range users {
		if m := findMember(members, u); m == nil || !m.Active() {
			return apperr.New(apperr.CodeUserNotInGroup,
				"%s %s involves %s, who is no longer an active member", kind, id, u)
		}
	}
	return nil
}

// validateExpense checks the invariants of e against the members read in the
// current transaction and fills in its splits.
func validateExpense(e *models.Expense, members []*models.Membership, userSplits []models.Split) error {
	var err error
	if e.Description, err = requireText(e.Description, "description", 200); err != nil {
		return err
	}
	if e.Category, err = optionalText(e.Category, "category", 50); err != nil {
		return err
	}
	if e.SplitType == "" {
		e.SplitType = models.SplitEqual
	}
	cur, err := calculator.LookupCurrency(e.Currency)
	if err != nil {
		return err
	}
	e.Currency = cur.Code

	splits, err := calculator.ComputeSplits(e.Amount, e.Currency, e.SplitType, e.Participants, userSplits)
	if err != nil {
		return err
	}
	if err := requireActiveUsers(members, "payerId", e.PayerID); err != nil {
		return err
	}
	if err := requireActiveUsers(members, "participants", e.Participants...); err != nil {
		return err
	}
	e.Splits = splits
	return nil
}

// loadExpense returns a live expense or EXPENSE_NOT_FOUND.
func loadExpense(ctx context.Context, tx storage.Tx, expenseID string) (*models.Expense, error) {
	expense, err := tx.GetExpense(ctx, expenseID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && expense.Deleted()) {
		return nil, apperr.New(apperr.CodeExpenseNotFound, "expense %s not found", expenseID).WithField("expenseId")
	}
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// CreateExpense records an expense paid by one member and shared by participants.
func (m *Manager) CreateExpense(ctx context.Context, in CreateExpenseInput) (*models.Expense, error) {
	var result *models.Expense
	err := m.mutate(ctx, "CreateExpense", func(ctx context.Context, tx storage.Tx) error {
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
		expense := &models.Expense{
			GroupID:      group.ID,
			Description:  in.Description,
			Amount:       in.Amount,
			Currency:     in.Currency,
			PayerID:      in.PayerID,
			CreatedBy:    in.ActorID,
			Participants: append([]string(nil), in.Participants...),
			SplitType:    in.SplitType,
			Date:         in.Date,
			Category:     in.Category,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if expense.Currency == "" {
			expense.Currency = group.DefaultCurrency
		}
		if expense.Date.IsZero() {
			expense.Date = now
		}
		if err := validateExpense(expense, members, in.Splits); err != nil {
			return err
		}

		if err := tx.CreateExpense(ctx, expense); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, notify.Change{
			GroupID:    group.ID,
			Categories: ledgerCategories,
			Users:      expense.InvolvedUsers(),
			At:         now,
		}); err != nil {
			return err
		}
		result = expense
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Expense created", "expense_id", result.ID, "group_id", result.GroupID,
		"amount", result.Amount.String(), "currency", result.Currency, "split_type", result.SplitType)
	return result, nil
}

// resolveUpdateSplits picks the user splits to validate an updated expense with.
// Explicit splits win. Otherwise the stored splits are reused when they still
// fit the updated amount and participants, and an equal distribution is used
// when they don't.
func resolveUpdateSplits(updated *models.Expense, stored []models.Split, patch models.ExpensePatch) []models.Split {
	if patch.Splits != nil {
		return patch.Splits
	}
	if updated.SplitType == models.SplitEqual {
		return nil
	}
	if _, err := calculator.ComputeSplits(updated.Amount, updated.Currency, updated.SplitType,
		updated.Participants, stored); err != nil {
		return nil
	}
	return stored
}

// UpdateExpense applies a patch if ExpectedVersion is still current. Requires
// the edit_expense permission.
func (m *Manager) UpdateExpense(ctx context.Context, in UpdateExpenseInput) (*models.Expense, error) {
	if in.Patch.Empty() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "nothing to update")
	}

	var result *models.Expense
	err := m.mutate(ctx, "UpdateExpense", func(ctx context.Context, tx storage.Tx) error {
		expense, err := loadExpense(ctx, tx, in.ExpenseID)
		if err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, expense.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, group.ID, in.ActorID)
		if err != nil {
			return err
		}
		if err := authorize(group, actor, models.ActionEditExpense, expense.CreatedBy); err != nil {
			return err
		}
		if err := checkVersion("expense", expense.Version, in.ExpectedVersion); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		before := expense.InvolvedUsers()
		if err := requireStillMembers(members, "expense", expense.ID, before); err != nil {
			return err
		}

		stored := expense.Splits
		if expense.SplitType == models.SplitEqual {
			stored = nil
		}

		p := in.Patch
		if p.Description != nil {
			expense.Description = *p.Description
		}
		if p.Amount != nil {
			expense.Amount = *p.Amount
		}
		if p.Currency != nil {
			expense.Currency = *p.Currency
		}
		if p.PayerID != nil {
			expense.PayerID = *p.PayerID
		}
		if p.Participants != nil {
			expense.Participants = append([]string(nil), p.Participants...)
		}
		if p.SplitType != nil {
			if *p.SplitType != expense.SplitType {
				stored = nil
			}
			expense.SplitType = *p.SplitType
		}
		if p.Date != nil {
			expense.Date = *p.Date
		}
		if p.Category != nil {
			expense.Category = *p.Category
		}

		userSplits := resolveUpdateSplits(expense, stored, p)
		if err := validateExpense(expense, members, userSplits); err != nil {
			return err
		}
		expense.UpdatedAt = m.now()

		if err := tx.UpdateExpense(ctx, expense); err != nil {
			return err
		}
		if err := m.publish(ctx, tx, notify.Change{
			GroupID:    group.ID,
			Categories: ledgerCategories,
			Users:      append(before, expense.InvolvedUsers()...),
			At:         expense.UpdatedAt,
		}); err != nil {
			return err
		}
		result = expense
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Expense updated", "expense_id", result.ID, "version", result.Version)
	return result, nil
}

// DeleteExpense soft-deletes an expense if ExpectedVersion is still current.
// Requires the delete_expense permission.
func (m *Manager) DeleteExpense(ctx context.Context, in DeleteExpenseInput) error {
	err := m.mutate(ctx, "DeleteExpense", func(ctx context.Context, tx storage.Tx) error {
		expense, err := loadExpense(ctx, tx, in.ExpenseID)
		if err != nil {
			return err
		}
		group, err := loadGroup(ctx, tx, expense.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, group.ID, in.ActorID)
		if err != nil {
			return err
		}
		if err := authorize(group, actor, models.ActionDeleteExpense, expense.CreatedBy); err != nil {
			return err
		}
		if err := checkVersion("expense", expense.Version, in.ExpectedVersion); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		if err := requireStillMembers(members, "expense", expense.ID, expense.InvolvedUsers()); err != nil {
			return err
		}

		now := m.now()
		expense.DeletedAt = &now
		expense.DeletedBy = in.ActorID
		expense.UpdatedAt = now
		if err := tx.UpdateExpense(ctx, expense); err != nil {
			return err
		}
		return m.publish(ctx, tx, notify.Change{
			GroupID:    group.ID,
			Categories: ledgerCategories,
			Users:      expense.InvolvedUsers(),
			At:         now,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("Expense deleted", "expense_id", in.ExpenseID, "deleted_by", in.ActorID)
	return nil
}

// GetExpense returns a live expense of a group the actor belongs to.
func (m *Manager) GetExpense(ctx context.Context, actorID, expenseID string) (*models.Expense, error) {
	var expense *models.Expense
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if expense, err = loadExpense(ctx, tx, expenseID); err != nil {
			return err
		}
		if _, err := loadGroup(ctx, tx, expense.GroupID); err != nil {
			return err
		}
		_, err = actorMembership(ctx, tx, expense.GroupID, actorID)
		return err
	})
	return expense, err
}

// ListExpenses returns the live expenses of a group, newest first.
func (m *Manager) ListExpenses(ctx context.Context, actorID, groupID string) ([]*models.Expense, error) {
	var expenses []*models.Expense
	err := m.read(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := actorMembership(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		var err error
		expenses, err = tx.ListExpenses(ctx, groupID)
		return err
	})
	return expenses, err
}
