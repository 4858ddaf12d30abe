// Package notify records per-user change notifications inside ledger
// transactions and fans them out to live subscribers after commit.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Change describes one committed mutation from the point of view of notifications.
type Change struct {
	GroupID    string
	Categories []models.ChangeCategory
	// Users are bumped once each, whatever the number of categories.
	Users []string
	// Removed users are notified and then lose their sub-state for the group.
	// Their overall version keeps rising, so a later sub-state for the same
	// group starts above every counter the dropped one reached.
	Removed []string
	At      time.Time
}

// Publisher bumps notification records and appends outbox events. It must be
// called with the transaction of the mutation it describes so both commit or
// abort together.
type Publisher struct{}

// NewPublisher creates a publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish applies change to every affected user's record and returns the
// outbox events it appended.
func (p *Publisher) Publish(ctx context.Context, tx storage.NotificationTx, change Change) ([]models.NotificationEvent, error) {
	if change.GroupID == "" {
		return nil, errors.New("change has no group")
	}
	categories := orderedCategories(change.Categories)
	if len(categories) == 0 {
		return nil, errors.New("change has no categories")
	}

	removed := make(map[string]bool, len(change.Removed))
	for _, u := range change.Removed {
		removed[u] = true
	}

	var events []models.NotificationEvent
	for _, userID := range dedupe(change.Users, change.Removed) {
		record, err := tx.GetNotificationRecord(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			record = &models.NotificationRecord{UserID: userID, Groups: make(map[string]*models.GroupChangeState)}
		} else if err != nil {
			return nil, fmt.Errorf("failed to load notification record for %s: %w", userID, err)
		}

		state, ok := record.Groups[change.GroupID]
		if !ok {
			state = newGroupChangeState(change.GroupID, record.Version)
			record.Groups[change.GroupID] = state
		}
		record.Version++
		record.UpdatedAt = change.At
		for _, c := range categories {
			cs := state.Category(c)
			cs.Version++
			cs.ChangedAt = change.At
		}

		if err := tx.PutNotificationRecord(ctx, record); err != nil {
			return nil, err
		}
		if removed[userID] {
			err = tx.DeleteGroupChangeState(ctx, userID, change.GroupID)
		} else {
			err = tx.PutGroupChangeState(ctx, userID, state)
		}
		if err != nil {
			return nil, err
		}

		for _, c := range categories {
			ev := models.NotificationEvent{
				UserID:          userID,
				GroupID:         change.GroupID,
				Category:        c,
				CategoryVersion: state.Category(c).Version,
				RecordVersion:   record.Version,
				CreatedAt:       change.At,
			}
			if err := tx.AppendEvent(ctx, &ev); err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}

	for _, ev := range events {
		metrics.NotificationsPublished.WithLabelValues(string(ev.Category)).Inc()
	}
	return events, nil
}

// newGroupChangeState starts every counter of a group at floor, the record's
// version before the change. No category counter ever exceeds its record's
// version, so the counters stay monotonic when a user leaves and rejoins.
func newGroupChangeState(groupID string, floor int64) *models.GroupChangeState {
	state := &models.GroupChangeState{GroupID: groupID}
	for _, c := range models.ChangeCategories {
		state.Category(c).Version = floor
	}
	return state
}

// SnapshotEvents expresses the current state of a record as one event per
// group and category, for subscribers that need to resync.
func SnapshotEvents(record *models.NotificationRecord) []models.NotificationEvent {
	if record == nil {
		return nil
	}
	groupIDs := make([]string, 0, len(record.Groups))
	for id := range record.Groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	events := make([]models.NotificationEvent, 0, len(groupIDs)*len(models.ChangeCategories))
	for _, id := range groupIDs {
		state := record.Groups[id]
		for _, c := range models.ChangeCategories {
			cs := state.Category(c)
			events = append(events, models.NotificationEvent{
				UserID:          record.UserID,
				GroupID:         id,
				Category:        c,
				CategoryVersion: cs.Version,
				RecordVersion:   record.Version,
				CreatedAt:       cs.ChangedAt,
			})
		}
	}
	return events
}

func orderedCategories(in []models.ChangeCategory) []models.ChangeCategory {
	want := make(map[models.ChangeCategory]bool, len(in))
	for _, c := range in {
		want[c] = true
	}
	out := make([]models.ChangeCategory, 0, len(want))
	for _, c := range models.ChangeCategories {
		if want[c] {
			out = append(out, c)
		}
	}
	return out
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, u := range list {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
