package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/splitledger/internal/storage"
)

// DispatcherConfig tunes outbox polling.
type DispatcherConfig struct {
	// PollInterval is how often the outbox is read when nobody nudges the dispatcher.
	PollInterval time.Duration
	// BatchSize bounds how many events are read per query.
	BatchSize int
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: time.Second,
		BatchSize:    500,
	}
}

// Dispatcher moves committed outbox events to the hub in sequence order.
type Dispatcher struct {
	outbox storage.Outbox
	hub    *Hub
	cfg    DispatcherConfig
	nudge  chan struct{}

	mu      sync.Mutex
	lastSeq int64
	started bool
	done    chan struct{}
}

// NewDispatcher creates a dispatcher reading from outbox and delivering to hub.
func NewDispatcher(outbox storage.Outbox, hub *Hub, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Dispatcher{
		outbox: outbox,
		hub:    hub,
		cfg:    cfg,
		nudge:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start positions the dispatcher after the newest existing event and runs the
// delivery loop until ctx is cancelled. Events written before Start are not
// delivered: nobody was subscribed to receive them.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	seq, err := d.outbox.LatestSeq(ctx)
	if err != nil {
		return err
	}
	d.lastSeq = seq
	d.started = true
	slog.Info("Notification dispatcher started", "seq", seq, "poll_interval", d.cfg.PollInterval)

	go d.loop(ctx)
	return nil
}

// Wait blocks until the loop started by Start has exited.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Nudge asks the dispatcher to read the outbox now. It never blocks.
func (d *Dispatcher) Nudge() {
	select {
	case d.nudge <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.nudge:
		}
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Failed to dispatch notifications", "error", err)
		}
	}
}

// DispatchPending delivers every event after the last delivered one and
// returns how many were delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivered := 0
	for {
		events, err := d.outbox.PendingEvents(ctx, d.lastSeq, d.cfg.BatchSize)
		if err != nil {
			return delivered, err
		}
		for _, ev := range events {
			d.hub.Publish(ev)
			d.lastSeq = ev.Seq
		}
		delivered += len(events)
		if len(events) > 0 {
			if err := d.outbox.MarkDispatched(ctx, d.lastSeq, time.Now().UTC()); err != nil {
				return delivered, err
			}
		}
		if len(events) < d.cfg.BatchSize {
			return delivered, nil
		}
	}
}
