package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

const groupColumns = `id, name, description, created_by, default_currency, require_approval, permissions,
	version, created_at, updated_at, deleted_at, deleted_by`

// CreateGroup persists a new group with version 1.
func (t *Tx) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	perms, err := json.Marshal(group.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	group.Version = 1

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Description, group.CreatedBy, group.DefaultCurrency,
		group.RequireApproval, string(perms), group.Version,
		toMillis(group.CreatedAt), toMillis(group.UpdatedAt), nullMillis(group.DeletedAt), nullString(group.DeletedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID, including soft-deleted groups.
func (t *Tx) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, groupID)

	group := &models.Group{}
	var (
		perms                string
		createdAt, updatedAt int64
		deletedAt            sql.NullInt64
		deletedBy            sql.NullString
	)
	err := row.Scan(&group.ID, &group.Name, &group.Description, &group.CreatedBy, &group.DefaultCurrency,
		&group.RequireApproval, &perms, &group.Version, &createdAt, &updatedAt, &deletedAt, &deletedBy)
	if err != nil {
		return nil, notFound(err, "group", groupID)
	}
	if err := json.Unmarshal([]byte(perms), &group.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions of group %s: %w", groupID, err)
	}
	group.CreatedAt = fromMillis(createdAt)
	group.UpdatedAt = fromMillis(updatedAt)
	group.DeletedAt = fromNullMillis(deletedAt)
	group.DeletedBy = deletedBy.String
	return group, nil
}

// UpdateGroup writes every mutable field if the stored version still matches.
func (t *Tx) UpdateGroup(ctx context.Context, group *models.Group) error {
	perms, err := json.Marshal(group.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE groups SET name = ?, description = ?, default_currency = ?, require_approval = ?,
		 permissions = ?, updated_at = ?, deleted_at = ?, deleted_by = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		group.Name, group.Description, group.DefaultCurrency, group.RequireApproval, string(perms),
		toMillis(group.UpdatedAt), nullMillis(group.DeletedAt), nullString(group.DeletedBy),
		group.ID, group.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if err := checkGuarded(res, "group "+group.ID); err != nil {
		return err
	}
	group.Version++
	return nil
}
