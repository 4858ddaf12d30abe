package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// GetNotificationRecord retrieves a user's record with every group sub-state.
func (t *Tx) GetNotificationRecord(ctx context.Context, userID string) (*models.NotificationRecord, error) {
	record := &models.NotificationRecord{UserID: userID, Groups: make(map[string]*models.GroupChangeState)}
	var updatedAt int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT version, updated_at FROM notification_records WHERE user_id = ?`,
		userID,
	).Scan(&record.Version, &updatedAt)
	if err != nil {
		return nil, notFound(err, "notification record", userID)
	}
	record.UpdatedAt = fromMillis(updatedAt)

	rows, err := t.tx.QueryContext(ctx,
		`SELECT group_id, transactions_version, transactions_changed_at, balances_version, balances_changed_at,
		 group_details_version, group_details_changed_at
		 FROM notification_group_states WHERE user_id = ? ORDER BY group_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get group change states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		state := &models.GroupChangeState{}
		var txAt, balAt, detailsAt int64
		if err := rows.Scan(&state.GroupID, &state.Transactions.Version, &txAt, &state.Balances.Version, &balAt,
			&state.GroupDetails.Version, &detailsAt); err != nil {
			return nil, fmt.Errorf("failed to scan group change state: %w", err)
		}
		state.Transactions.ChangedAt = fromMillis(txAt)
		state.Balances.ChangedAt = fromMillis(balAt)
		state.GroupDetails.ChangedAt = fromMillis(detailsAt)
		record.Groups[state.GroupID] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group change states: %w", err)
	}
	return record, nil
}

// PutNotificationRecord upserts the overall version of a record.
func (t *Tx) PutNotificationRecord(ctx context.Context, record *models.NotificationRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO notification_records (user_id, version, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		record.UserID, record.Version, toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification record: %w", err)
	}
	return nil
}

// PutGroupChangeState upserts one group sub-state of a record.
func (t *Tx) PutGroupChangeState(ctx context.Context, userID string, state *models.GroupChangeState) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO notification_group_states (user_id, group_id, transactions_version, transactions_changed_at,
		 balances_version, balances_changed_at, group_details_version, group_details_changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, group_id) DO UPDATE SET
		 transactions_version = excluded.transactions_version,
		 transactions_changed_at = excluded.transactions_changed_at,
		 balances_version = excluded.balances_version,
		 balances_changed_at = excluded.balances_changed_at,
		 group_details_version = excluded.group_details_version,
		 group_details_changed_at = excluded.group_details_changed_at`,
		userID, state.GroupID,
		state.Transactions.Version, toMillis(state.Transactions.ChangedAt),
		state.Balances.Version, toMillis(state.Balances.ChangedAt),
		state.GroupDetails.Version, toMillis(state.GroupDetails.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert group change state: %w", err)
	}
	return nil
}

// DeleteGroupChangeState removes the sub-state of a group the user left.
func (t *Tx) DeleteGroupChangeState(ctx context.Context, userID, groupID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM notification_group_states WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete group change state: %w", err)
	}
	return nil
}

// AppendEvent adds an event to the outbox and sets its sequence number.
func (t *Tx) AppendEvent(ctx context.Context, event *models.NotificationEvent) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO notification_outbox (user_id, group_id, category, category_version, record_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.UserID, event.GroupID, string(event.Category), event.CategoryVersion, event.RecordVersion,
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read outbox sequence: %w", err)
	}
	event.Seq = seq
	return nil
}

// LatestSeq returns the highest outbox sequence number.
func (s *SQLiteStore) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.readDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM notification_outbox`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest outbox sequence: %w", err)
	}
	return seq, nil
}

// PendingEvents returns events after afterSeq in sequence order.
func (s *SQLiteStore) PendingEvents(ctx context.Context, afterSeq int64, limit int) ([]models.NotificationEvent, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT seq, user_id, group_id, category, category_version, record_version, created_at
		 FROM notification_outbox WHERE seq > ? ORDER BY seq LIMIT ?`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.NotificationEvent
	for rows.Next() {
		var (
			ev        models.NotificationEvent
			category  string
			createdAt int64
		)
		if err := rows.Scan(&ev.Seq, &ev.UserID, &ev.GroupID, &category, &ev.CategoryVersion,
			&ev.RecordVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.Category = models.ChangeCategory(category)
		ev.CreatedAt = fromMillis(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkDispatched stamps delivered events.
func (s *SQLiteStore) MarkDispatched(ctx context.Context, upToSeq int64, at time.Time) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE notification_outbox SET dispatched_at = ? WHERE seq <= ? AND dispatched_at IS NULL`,
		toMillis(at), upToSeq,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox events dispatched: %w", err)
	}
	return nil
}

// PruneEvents deletes dispatched outbox events created before cutoff. Events
// the dispatcher has not reached yet are kept however old they are.
func (s *SQLiteStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM notification_outbox WHERE created_at < ? AND dispatched_at IS NOT NULL`,
		toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox events: %w", err)
	}
	return res.RowsAffected()
}
