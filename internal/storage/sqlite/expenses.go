package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

const expenseColumns = `id, group_id, description, amount, currency, payer_id, created_by, split_type, date,
	category, version, created_at, updated_at, deleted_at, deleted_by`

// CreateExpense persists a new expense and its splits with version 1.
func (t *Tx) CreateExpense(ctx context.Context, expense *models.Expense) error {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	expense.Version = 1

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID, expense.GroupID, expense.Description, expense.Amount, expense.Currency,
		expense.PayerID, expense.CreatedBy, string(expense.SplitType), toMillis(expense.Date),
		expense.Category, expense.Version, toMillis(expense.CreatedAt), toMillis(expense.UpdatedAt),
		nullMillis(expense.DeletedAt), nullString(expense.DeletedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return t.insertSplits(ctx, expense)
}

func (t *Tx) insertSplits(ctx context.Context, expense *models.Expense) error {
	for i, s := range expense.Splits {
		var pct decimal.NullDecimal
		if s.Percentage != nil {
			pct = decimal.NewNullDecimal(*s.Percentage)
		}
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO expense_splits (expense_id, position, user_id, amount, percentage) VALUES (?, ?, ?, ?, ?)`,
			expense.ID, i, s.UserID, s.Amount, pct,
		)
		if err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}
	return nil
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	e := &models.Expense{}
	var (
		splitType                  string
		date, createdAt, updatedAt int64
		deletedAt                  sql.NullInt64
		deletedBy                  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.Description, &e.Amount, &e.Currency, &e.PayerID, &e.CreatedBy,
		&splitType, &date, &e.Category, &e.Version, &createdAt, &updatedAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	e.SplitType = models.SplitType(splitType)
	e.Date = fromMillis(date)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	e.DeletedAt = fromNullMillis(deletedAt)
	e.DeletedBy = deletedBy.String
	return e, nil
}

// loadSplits fills Splits and Participants, which follow split position order.
func (t *Tx) loadSplits(ctx context.Context, expense *models.Expense) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT user_id, amount, percentage FROM expense_splits WHERE expense_id = ? ORDER BY position`,
		expense.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get splits: %w", err)
	}
	defer rows.Close()

	expense.Splits = nil
	expense.Participants = nil
	for rows.Next() {
		var (
			s   models.Split
			pct decimal.NullDecimal
		)
		if err := rows.Scan(&s.UserID, &s.Amount, &pct); err != nil {
			return fmt.Errorf("failed to scan split: %w", err)
		}
		if pct.Valid {
			p := pct.Decimal
			s.Percentage = &p
		}
		expense.Splits = append(expense.Splits, s)
		expense.Participants = append(expense.Participants, s.UserID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate splits: %w", err)
	}
	return nil
}

// GetExpense retrieves an expense with its splits, including soft-deleted expenses.
func (t *Tx) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, expenseID)
	expense, err := scanExpense(row)
	if err != nil {
		return nil, notFound(err, "expense", expenseID)
	}
	if err := t.loadSplits(ctx, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

// ListExpenses retrieves the live expenses of a group with their splits.
func (t *Tx) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses
		 WHERE group_id = ? AND deleted_at IS NULL ORDER BY date DESC, created_at DESC, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	var expenses []*models.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	// Splits are loaded after the outer cursor is closed; a transaction runs on one connection.
	for _, e := range expenses {
		if err := t.loadSplits(ctx, e); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

// UpdateExpense rewrites an expense and its splits if the stored version still matches.
func (t *Tx) UpdateExpense(ctx context.Context, expense *models.Expense) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE expenses SET description = ?, amount = ?, currency = ?, payer_id = ?, split_type = ?, date = ?,
		 category = ?, updated_at = ?, deleted_at = ?, deleted_by = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		expense.Description, expense.Amount, expense.Currency, expense.PayerID, string(expense.SplitType),
		toMillis(expense.Date), expense.Category, toMillis(expense.UpdatedAt),
		nullMillis(expense.DeletedAt), nullString(expense.DeletedBy),
		expense.ID, expense.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if err := checkGuarded(res, "expense "+expense.ID); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM expense_splits WHERE expense_id = ?`, expense.ID); err != nil {
		return fmt.Errorf("failed to delete splits: %w", err)
	}
	if err := t.insertSplits(ctx, expense); err != nil {
		return err
	}
	expense.Version++
	return nil
}
