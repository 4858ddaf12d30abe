package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/storage"
)

// jobTimeout bounds a single maintenance run.
const jobTimeout = time.Minute

// Jobs holds the maintenance tasks run on a schedule.
type Jobs struct {
	store     storage.Maintenance
	retention time.Duration
	now       func() time.Time
}

// NewJobs creates maintenance jobs. Dispatched outbox events older than
// retention are pruned.
func NewJobs(store storage.Maintenance, retention time.Duration) *Jobs {
	return &Jobs{
		store:     store,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PruneOutbox deletes dispatched outbox events past the retention window.
// Subscribers never replay from the outbox, and undispatched events stay until
// the dispatcher's cursor passes them.
func (j *Jobs) PruneOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	removed, err := j.store.PruneEvents(ctx, cutoff)
	if err != nil {
		slog.Error("PruneOutbox failed", "error", err)
		return
	}
	metrics.MaintenanceRemoved.WithLabelValues("prune_outbox").Add(float64(removed))
	slog.Info("PruneOutbox finished", "removed", removed, "cutoff", cutoff)
}

// PurgeShareLinks deletes links that can no longer be redeemed.
func (j *Jobs) PurgeShareLinks() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := j.store.PurgeShareLinks(ctx, j.now())
	if err != nil {
		slog.Error("PurgeShareLinks failed", "error", err)
		return
	}
	metrics.MaintenanceRemoved.WithLabelValues("purge_share_links").Add(float64(removed))
	slog.Info("PurgeShareLinks finished", "removed", removed)
}
