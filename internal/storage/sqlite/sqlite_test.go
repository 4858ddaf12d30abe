package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// Create temp directory for test database
	tempDir, err := os.MkdirTemp("", "splitledger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustInTx(t *testing.T, store *SQLiteStore, fn storage.TxFunc) {
	t.Helper()
	if err := store.InTx(context.Background(), fn); err != nil {
		t.Fatalf("InTx failed: %v", err)
	}
}

func seedGroup(t *testing.T, store *SQLiteStore, members ...string) *models.Group {
	t.Helper()
	now := time.Now().UTC()
	group := &models.Group{
		Name:            "Ski Trip",
		CreatedBy:       members[0],
		DefaultCurrency: "USD",
		Permissions:     models.DefaultPermissions(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateGroup(ctx, group); err != nil {
			return err
		}
		for i, userID := range members {
			err := tx.AddMember(ctx, &models.Membership{
				GroupID:     group.ID,
				UserID:      userID,
				DisplayName: userID,
				Role:        models.RoleMember,
				Status:      models.MemberActive,
				Color:       models.MemberColors[i],
				JoinedAt:    now.Add(time.Duration(i) * time.Millisecond),
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return group
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob", "carol")

	t.Run("CreateGroup assigns ID and version", func(t *testing.T) {
		if group.ID == "" {
			t.Error("Expected group ID to be generated")
		}
		if group.Version != 1 {
			t.Errorf("Expected version 1, got %d", group.Version)
		}

		err := store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			got, err := tx.GetGroup(ctx, group.ID)
			if err != nil {
				return err
			}
			if got.Name != "Ski Trip" {
				t.Errorf("Name mismatch: got %s", got.Name)
			}
			if got.Permissions[models.ActionEditExpense] != models.PolicyCreatorAndAdmins {
				t.Errorf("Permissions not round-tripped: %v", got.Permissions)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("ReadTx failed: %v", err)
		}
	})

	t.Run("GetGroup returns ErrNotFound for nonexistent group", func(t *testing.T) {
		err := store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.GetGroup(ctx, "nonexistent-id")
			return err
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateGroup is guarded by version", func(t *testing.T) {
		g := *group
		g.Name = "Ski Trip 2026"
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.UpdateGroup(ctx, &g)
		})
		if g.Version != 2 {
			t.Errorf("Expected version 2, got %d", g.Version)
		}

		stale := *group
		stale.Name = "Stale"
		err := store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.UpdateGroup(ctx, &stale)
		})
		if !errors.Is(err, storage.ErrVersionConflict) {
			t.Errorf("Expected ErrVersionConflict, got %v", err)
		}
		if stale.Version != 1 {
			t.Errorf("Failed update must not change version, got %d", stale.Version)
		}
	})

	t.Run("Expense splits keep participant order", func(t *testing.T) {
		pct := decimal.RequireFromString("50")
		expense := &models.Expense{
			GroupID:      group.ID,
			Description:  "Lift tickets",
			Amount:       decimal.RequireFromString("120.50"),
			Currency:     "USD",
			PayerID:      "bob",
			CreatedBy:    "bob",
			SplitType:    models.SplitPercentage,
			Participants: []string{"carol", "alice"},
			Splits: []models.Split{
				{UserID: "carol", Amount: decimal.RequireFromString("60.25"), Percentage: &pct},
				{UserID: "alice", Amount: decimal.RequireFromString("60.25"), Percentage: &pct},
			},
			Date: time.Now().UTC(),
		}
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.CreateExpense(ctx, expense)
		})

		var got *models.Expense
		err := store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			got, err = tx.GetExpense(ctx, expense.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		if !got.Amount.Equal(expense.Amount) {
			t.Errorf("Amount mismatch: got %s, want %s", got.Amount, expense.Amount)
		}
		if len(got.Participants) != 2 || got.Participants[0] != "carol" || got.Participants[1] != "alice" {
			t.Errorf("Participants order mismatch: %v", got.Participants)
		}
		if got.Splits[0].Percentage == nil || !got.Splits[0].Percentage.Equal(pct) {
			t.Errorf("Percentage not round-tripped: %v", got.Splits[0].Percentage)
		}
	})

	t.Run("Soft-deleted expenses are not listed", func(t *testing.T) {
		expense := &models.Expense{
			GroupID:      group.ID,
			Description:  "Fondue",
			Amount:       decimal.RequireFromString("30"),
			Currency:     "USD",
			PayerID:      "alice",
			CreatedBy:    "alice",
			SplitType:    models.SplitEqual,
			Participants: []string{"alice", "bob"},
			Splits: []models.Split{
				{UserID: "alice", Amount: decimal.RequireFromString("15")},
				{UserID: "bob", Amount: decimal.RequireFromString("15")},
			},
			Date: time.Now().UTC(),
		}
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.CreateExpense(ctx, expense)
		})

		now := time.Now().UTC()
		expense.DeletedAt = &now
		expense.DeletedBy = "alice"
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.UpdateExpense(ctx, expense)
		})

		err := store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			list, err := tx.ListExpenses(ctx, group.ID)
			if err != nil {
				return err
			}
			for _, e := range list {
				if e.ID == expense.ID {
					t.Errorf("Deleted expense %s was listed", e.ID)
				}
			}
			got, err := tx.GetExpense(ctx, expense.ID)
			if err != nil {
				return err
			}
			if !got.Deleted() || got.DeletedBy != "alice" {
				t.Errorf("Expected soft-deleted expense, got %+v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("ReadTx failed: %v", err)
		}
	})

	t.Run("Settlements round-trip", func(t *testing.T) {
		settlement := &models.Settlement{
			GroupID:   group.ID,
			PayerID:   "carol",
			PayeeID:   "bob",
			Amount:    decimal.RequireFromString("10.05"),
			Currency:  "USD",
			Date:      time.Now().UTC(),
			CreatedBy: "carol",
		}
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.CreateSettlement(ctx, settlement)
		})

		settlement.Locked = true
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.UpdateSettlement(ctx, settlement)
		})

		err := store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			list, err := tx.ListSettlements(ctx, group.ID)
			if err != nil {
				return err
			}
			if len(list) != 1 {
				t.Fatalf("Expected 1 settlement, got %d", len(list))
			}
			if !list[0].Locked || list[0].Version != 2 || list[0].Note != "" {
				t.Errorf("Unexpected settlement: %+v", list[0])
			}
			return nil
		})
		if err != nil {
			t.Fatalf("ReadTx failed: %v", err)
		}
	})

	t.Run("Members are deleted with a version guard", func(t *testing.T) {
		var member *models.Membership
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			var err error
			member, err = tx.GetMember(ctx, group.ID, "carol")
			return err
		})

		stale := *member
		stale.Version = 99
		err := store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.DeleteMember(ctx, &stale)
		})
		if !errors.Is(err, storage.ErrVersionConflict) {
			t.Errorf("Expected ErrVersionConflict, got %v", err)
		}

		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.DeleteMember(ctx, member)
		})
		err = store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			members, err := tx.ListMembers(ctx, group.ID)
			if err != nil {
				return err
			}
			if len(members) != 2 || members[0].UserID != "alice" || members[1].UserID != "bob" {
				t.Errorf("Unexpected members after delete: %d", len(members))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("ReadTx failed: %v", err)
		}
	})

	t.Run("Share links can be revoked once", func(t *testing.T) {
		link := &models.ShareLink{
			TokenHash: "hash-1",
			GroupID:   group.ID,
			CreatedBy: "alice",
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.CreateShareLink(ctx, link)
		})
		mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
			return tx.RevokeShareLink(ctx, link.TokenHash, time.Now().UTC())
		})
		err := store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.RevokeShareLink(ctx, link.TokenHash, time.Now().UTC())
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second revoke, got %v", err)
		}

		n, err := store.PurgeShareLinks(ctx, time.Now().UTC().Add(time.Second))
		if err != nil {
			t.Fatalf("PurgeShareLinks failed: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected 1 purged link, got %d", n)
		}
	})
}

func TestNotificationRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		record := &models.NotificationRecord{UserID: "alice", Version: 3, UpdatedAt: now}
		if err := tx.PutNotificationRecord(ctx, record); err != nil {
			return err
		}
		for _, groupID := range []string{"g1", "g2"} {
			state := &models.GroupChangeState{GroupID: groupID}
			state.Balances = models.CategoryState{Version: 2, ChangedAt: now}
			if err := tx.PutGroupChangeState(ctx, "alice", state); err != nil {
				return err
			}
		}
		return tx.DeleteGroupChangeState(ctx, "alice", "g2")
	})

	var record *models.NotificationRecord
	err := store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		record, err = tx.GetNotificationRecord(ctx, "alice")
		return err
	})
	if err != nil {
		t.Fatalf("GetNotificationRecord failed: %v", err)
	}
	if record.Version != 3 {
		t.Errorf("Expected version 3, got %d", record.Version)
	}
	if len(record.Groups) != 1 || record.Groups["g1"].Balances.Version != 2 {
		t.Errorf("Unexpected group states: %+v", record.Groups)
	}

	err = store.ReadTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetNotificationRecord(ctx, "nobody")
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestOutbox(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	mustInTx(t, store, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			created := time.Now().UTC()
			if i == 0 {
				created = old
			}
			ev := &models.NotificationEvent{
				UserID:          "alice",
				GroupID:         "g1",
				Category:        models.CategoryTransactions,
				CategoryVersion: int64(i + 1),
				RecordVersion:   int64(i + 1),
				CreatedAt:       created,
			}
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
			if ev.Seq == 0 {
				t.Error("Expected sequence to be assigned")
			}
		}
		return nil
	})

	latest, err := store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("LatestSeq failed: %v", err)
	}
	if latest != 3 {
		t.Errorf("Expected latest seq 3, got %d", latest)
	}

	events, err := store.PendingEvents(ctx, 1, 10)
	if err != nil {
		t.Fatalf("PendingEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 2 || events[1].Seq != 3 {
		t.Errorf("Unexpected pending events: %+v", events)
	}

	pruned, err := store.PruneEvents(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("Expected undispatched events to survive pruning, %d pruned", pruned)
	}

	if err := store.MarkDispatched(ctx, 3, time.Now().UTC()); err != nil {
		t.Fatalf("MarkDispatched failed: %v", err)
	}

	pruned, err = store.PruneEvents(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned event, got %d", pruned)
	}
}

// Concurrent guarded writers against the same row: exactly one commits.
func TestConcurrentGuardedUpdates(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, "alice")

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
				g, err := tx.GetGroup(ctx, group.ID)
				if err != nil {
					return err
				}
				if g.Version != 1 {
					return storage.ErrVersionConflict
				}
				g.Name = "writer"
				return tx.UpdateGroup(ctx, g)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Errorf("Expected 1 win and %d conflicts, got %d wins and %d conflicts", writers-1, wins, conflicts)
	}
}
