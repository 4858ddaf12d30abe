package sqlite

import (
	"context"
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
)

const memberColumns = `group_id, user_id, display_name, role, status, color, joined_at, version, updated_at`

// AddMember persists a new membership with version 1.
func (t *Tx) AddMember(ctx context.Context, member *models.Membership) error {
	member.Version = 1
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO memberships (group_id, user_id, display_name, display_key, role, status, color,
		 joined_at, version, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		member.GroupID, member.UserID, member.DisplayName, models.NormalizeDisplayName(member.DisplayName),
		string(member.Role), string(member.Status), member.Color,
		toMillis(member.JoinedAt), member.Version, toMillis(member.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*models.Membership, error) {
	m := &models.Membership{}
	var (
		role, status        string
		joinedAt, updatedAt int64
	)
	if err := row.Scan(&m.GroupID, &m.UserID, &m.DisplayName, &role, &status, &m.Color,
		&joinedAt, &m.Version, &updatedAt); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Status = models.MemberStatus(status)
	m.JoinedAt = fromMillis(joinedAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}

// GetMember retrieves one membership.
func (t *Tx) GetMember(ctx context.Context, groupID, userID string) (*models.Membership, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM memberships WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	)
	m, err := scanMember(row)
	if err != nil {
		return nil, notFound(err, "membership", groupID+"/"+userID)
	}
	return m, nil
}

// ListMembers retrieves every membership of a group in join order.
func (t *Tx) ListMembers(ctx context.Context, groupID string) ([]*models.Membership, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM memberships WHERE group_id = ? ORDER BY joined_at, user_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Membership
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// UpdateMember writes the mutable membership fields if the stored version still matches.
func (t *Tx) UpdateMember(ctx context.Context, member *models.Membership) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE memberships SET display_name = ?, display_key = ?, role = ?, status = ?, color = ?,
		 updated_at = ?, version = version + 1
		 WHERE group_id = ? AND user_id = ? AND version = ?`,
		member.DisplayName, models.NormalizeDisplayName(member.DisplayName), string(member.Role),
		string(member.Status), member.Color, toMillis(member.UpdatedAt),
		member.GroupID, member.UserID, member.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if err := checkGuarded(res, "membership "+member.GroupID+"/"+member.UserID); err != nil {
		return err
	}
	member.Version++
	return nil
}

// DeleteMember removes a membership if the stored version still matches.
func (t *Tx) DeleteMember(ctx context.Context, member *models.Membership) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM memberships WHERE group_id = ? AND user_id = ? AND version = ?`,
		member.GroupID, member.UserID, member.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return checkGuarded(res, "membership "+member.GroupID+"/"+member.UserID)
}
