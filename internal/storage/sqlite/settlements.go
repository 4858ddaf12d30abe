package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

const settlementColumns = `id, group_id, payer_id, payee_id, amount, currency, date, note, locked, created_by,
	version, created_at, updated_at, deleted_at, deleted_by`

// CreateSettlement persists a new settlement with version 1.
func (t *Tx) CreateSettlement(ctx context.Context, settlement *models.Settlement) error {
	// Generate ID if not set
	if settlement.ID == "" {
		settlement.ID = uuid.New().String()
	}
	settlement.Version = 1

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO settlements (`+settlementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		settlement.ID, settlement.GroupID, settlement.PayerID, settlement.PayeeID, settlement.Amount,
		settlement.Currency, toMillis(settlement.Date), nullString(settlement.Note), settlement.Locked,
		settlement.CreatedBy, settlement.Version, toMillis(settlement.CreatedAt), toMillis(settlement.UpdatedAt),
		nullMillis(settlement.DeletedAt), nullString(settlement.DeletedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	return nil
}

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	s := &models.Settlement{}
	var (
		date, createdAt, updatedAt int64
		note, deletedBy            sql.NullString
		deletedAt                  sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.GroupID, &s.PayerID, &s.PayeeID, &s.Amount, &s.Currency, &date, &note,
		&s.Locked, &s.CreatedBy, &s.Version, &createdAt, &updatedAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	s.Date = fromMillis(date)
	s.Note = note.String
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	s.DeletedAt = fromNullMillis(deletedAt)
	s.DeletedBy = deletedBy.String
	return s, nil
}

// GetSettlement retrieves a settlement by ID, including soft-deleted settlements.
func (t *Tx) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, settlementID)
	settlement, err := scanSettlement(row)
	if err != nil {
		return nil, notFound(err, "settlement", settlementID)
	}
	return settlement, nil
}

// ListSettlements retrieves the live settlements of a group.
func (t *Tx) ListSettlements(ctx context.Context, groupID string) ([]*models.Settlement, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE group_id = ? AND deleted_at IS NULL ORDER BY date DESC, created_at DESC, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements by group: %w", err)
	}
	defer rows.Close()

	var settlements []*models.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, settlement)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}

	return settlements, nil
}

// UpdateSettlement writes every mutable field if the stored version still matches.
func (t *Tx) UpdateSettlement(ctx context.Context, settlement *models.Settlement) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE settlements SET payer_id = ?, payee_id = ?, amount = ?, currency = ?, date = ?, note = ?,
		 locked = ?, updated_at = ?, deleted_at = ?, deleted_by = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		settlement.PayerID, settlement.PayeeID, settlement.Amount, settlement.Currency,
		toMillis(settlement.Date), nullString(settlement.Note), settlement.Locked,
		toMillis(settlement.UpdatedAt), nullMillis(settlement.DeletedAt), nullString(settlement.DeletedBy),
		settlement.ID, settlement.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	if err := checkGuarded(res, "settlement "+settlement.ID); err != nil {
		return err
	}
	settlement.Version++
	return nil
}
