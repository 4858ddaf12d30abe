// Package ledger owns every write to groups, memberships, expenses and
// settlements. Each mutation re-reads current state inside a serialized
// transaction, checks the caller's expected version, re-validates invariants
// against that fresh state and publishes change notifications before commit.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage"
)

// Config holds ledger limits.
type Config struct {
	// MaxMembers bounds active plus pending memberships per group.
	MaxMembers int
	// ShareLinkTTL is the lifetime of a share link when the caller gives none.
	ShareLinkTTL time.Duration
	// MaxShareLinkTTL caps caller-supplied lifetimes.
	MaxShareLinkTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxMembers:      50,
		ShareLinkTTL:    7 * 24 * time.Hour,
		MaxShareLinkTTL: 30 * 24 * time.Hour,
	}
}

// Notifier is told after every committed mutation that new outbox events exist.
type Notifier interface {
	Nudge()
}

// Manager runs ledger mutations and reads.
type Manager struct {
	store     storage.Store
	publisher *notify.Publisher
	notifier  Notifier
	cfg       Config
	now       func() time.Time
}

// NewManager creates a manager. notifier may be nil.
func NewManager(store storage.Store, publisher *notify.Publisher, notifier Notifier, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = def.MaxMembers
	}
	if cfg.ShareLinkTTL <= 0 {
		cfg.ShareLinkTTL = def.ShareLinkTTL
	}
	if cfg.MaxShareLinkTTL <= 0 {
		cfg.MaxShareLinkTTL = def.MaxShareLinkTTL
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// mutate runs fn in a write transaction and classifies its error.
func (m *Manager) mutate(ctx context.Context, op string, fn storage.TxFunc) error {
	start := time.Now()
	err := classify(m.store.InTx(ctx, fn))

	code := "ok"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	metrics.Mutations.WithLabelValues(op, code).Inc()
	metrics.MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if apperr.Is(err, apperr.CodeInternal) {
			slog.Error("Ledger mutation failed", "operation", op, "error", errors.Unwrap(err))
		} else {
			slog.Debug("Ledger mutation rejected", "operation", op, "error", err)
		}
		return err
	}
	if m.notifier != nil {
		m.notifier.Nudge()
	}
	return nil
}

// read runs fn in a read transaction and classifies its error.
func (m *Manager) read(ctx context.Context, fn storage.TxFunc) error {
	err := classify(m.store.ReadTx(ctx, fn))
	if apperr.Is(err, apperr.CodeInternal) {
		slog.Error("Ledger read failed", "error", errors.Unwrap(err))
	}
	return err
}

// classify turns storage errors that escaped the transaction into ledger errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, storage.ErrVersionConflict):
		return apperr.Wrap(apperr.CodeConcurrentUpdate, err, "the entity was modified concurrently, re-read and retry")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeInternal, err, "request cancelled before commit")
	default:
		return apperr.Internal(err)
	}
}

func (m *Manager) publish(ctx context.Context, tx storage.Tx, change notify.Change) error {
	if change.At.IsZero() {
		change.At = m.now()
	}
	_, err := m.publisher.Publish(ctx, tx, change)
	return err
}

func checkVersion(kind string, current, expected int64) error {
	if expected <= 0 {
		return apperr.New(apperr.CodeInvalidArgument, "expected version is required").WithField("expectedVersion")
	}
	if current != expected {
		return apperr.New(apperr.CodeConcurrentUpdate,
			"%s is at version %d, not %d: re-read and retry", kind, current, expected)
	}
	return nil
}

func requireText(value, field string, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperr.New(apperr.CodeInvalidArgument, "%s is required", field).WithField(field)
	}
	if len([]rune(value)) > maxLen {
		return "", apperr.New(apperr.CodeInvalidArgument, "%s must be at most %d characters", field, maxLen).WithField(field)
	}
	return value, nil
}

func optionalText(value, field string, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	if len([]rune(value)) > maxLen {
		return "", apperr.New(apperr.CodeInvalidArgument, "%s must be at most %d characters", field, maxLen).WithField(field)
	}
	return value, nil
}

// loadGroup returns a live group or GROUP_NOT_FOUND.
func loadGroup(ctx context.Context, tx storage.Tx, groupID string) (*models.Group, error) {
	group, err := tx.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.CodeGroupNotFound, "group %s not found", groupID).WithField("groupId")
	}
	if err != nil {
		return nil, err
	}
	if group.Deleted() {
		return nil, apperr.New(apperr.CodeGroupNotFound, "group %s was deleted", groupID).WithField("groupId")
	}
	return group, nil
}

// memberIDs returns the user IDs of every membership regardless of status.
func memberIDs(members []*models.Membership) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids
}

func findMember(members []*models.Membership, userID string) *models.Membership {
	for _, m := range members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}
