package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/aescanero/kanban-live/pkg/ports"
	"go.uber.org/zap"
)

// Outcome is how one queue message was settled
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
	OutcomeRequeued  Outcome = "requeued"
)

// Status represents relay status
type Status string

const (
	StatusStarting Status = "starting"
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusStopped  Status = "stopped"
)

// Config holds relay settings
type Config struct {
	// Topic is the exchange the relay subscribes to
	Topic string
	// PushTimeout bounds each best-effort push to the hub
	PushTimeout time.Duration
	// HealthInterval is how often the health monitor logs; zero disables it
	HealthInterval time.Duration
	// RecentLimit is how many stored entries seed an empty recent cache
	RecentLimit int
}

// Relay consumes queue messages one at a time
type Relay struct {
	cfg        Config
	subscriber message.Subscriber
	store      ports.ActivityStore
	recent     ports.RecentActivity
	notifier   ports.HubNotifier
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	health     *HealthMonitor

	mu              sync.RWMutex
	status          Status
	processed       map[Outcome]int64
	hubPushFailures int64
	lastMessageAt   time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a relay. recent may be nil when no cache is configured.
func New(
	cfg Config,
	subscriber message.Subscriber,
	store ports.ActivityStore,
	recent ports.RecentActivity,
	notifier ports.HubNotifier,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Relay {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 20
	}

	r := &Relay{
		cfg:        cfg,
		subscriber: subscriber,
		store:      store,
		recent:     recent,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		status:     StatusStarting,
		processed:  make(map[Outcome]int64),
	}
	r.health = NewHealthMonitor(r, cfg.HealthInterval, logger)
	return r
}

// Start declares the topology, subscribes and starts the consumer loop.
// Errors from declaring or subscribing are returned; the loop itself never fails.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", zap.String("topic", r.cfg.Topic))

	if initializer, ok := r.subscriber.(interface{ SubscribeInitialize(string) error }); ok {
		if err := initializer.SubscribeInitialize(r.cfg.Topic); err != nil {
			return fmt.Errorf("failed to declare topology: %w", err)
		}
	}

	r.seedRecent(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	messages, err := r.subscriber.Subscribe(runCtx, r.cfg.Topic)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", r.cfg.Topic, err)
	}
	r.cancel = cancel
	r.setStatus(StatusIdle)

	r.wg.Add(1)
	go r.run(runCtx, messages)

	r.health.Start()

	r.logger.Info("relay started", zap.String("topic", r.cfg.Topic))
	return nil
}

// Shutdown stops the consumer loop and waits for the message in flight
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	r.health.Stop()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("relay shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// run is the consumer loop
func (r *Relay) run(ctx context.Context, messages <-chan *message.Message) {
	defer r.wg.Done()
	defer r.setStatus(StatusStopped)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				r.logger.Warn("subscription closed")
				return
			}
			r.setStatus(StatusBusy)
			outcome := r.Handle(ctx, msg)
			r.record(outcome)
			r.setStatus(StatusIdle)
		}
	}
}

// Handle settles one message and reports how
func (r *Relay) Handle(ctx context.Context, msg *message.Message) Outcome {
	ev, err := domain.DecodeQueueEvent(msg.Payload)
	if err != nil {
		// Malformed messages are never retried
		r.logger.Warn("dropping malformed queue message",
			zap.String("message_uuid", msg.UUID),
			zap.Error(err))
		msg.Ack()
		return OutcomeDropped
	}

	entry, err := domain.NewActivityEntry(ev, domain.DedupKey(msg.UUID))
	if err != nil {
		r.logger.Warn("dropping queue message",
			zap.String("message_uuid", msg.UUID),
			zap.Error(err))
		msg.Ack()
		return OutcomeDropped
	}

	start := time.Now()
	saved, err := r.store.Append(ctx, entry)
	r.metrics.ObservePersistDuration(time.Since(start))

	switch {
	case errors.Is(err, ports.ErrDuplicate):
		r.logger.Info("activity already recorded",
			zap.String("dedup_key", entry.DedupKey))
		msg.Ack()
		return OutcomeDuplicate
	case err != nil:
		r.logger.Error("failed to persist activity, requeueing",
			zap.String("message_uuid", msg.UUID),
			zap.String("action", string(ev.Action)),
			zap.Error(err))
		msg.Nack()
		return OutcomeRequeued
	}

	r.logger.Info("activity recorded",
		zap.Int64("activity_id", saved.ID),
		zap.String("action", string(saved.Action)))

	r.cacheRecent(ctx, saved)
	r.pushToHub(ctx, saved)

	msg.Ack()
	return OutcomePersisted
}

// seedRecent refills an empty recent cache from the activity log, so a
// flushed or restarted cache does not hide durable history. Failures only warn.
func (r *Relay) seedRecent(ctx context.Context) {
	if r.recent == nil {
		return
	}

	cached, err := r.recent.List(ctx, 1)
	if err != nil {
		r.logger.Warn("failed to read recent activity cache", zap.Error(err))
		return
	}
	if len(cached) > 0 {
		return
	}

	entries, err := r.store.Recent(ctx, r.cfg.RecentLimit)
	if err != nil {
		r.logger.Warn("failed to load recent activity", zap.Error(err))
		return
	}

	// Oldest first so the newest entry ends up at the head.
	for i := len(entries) - 1; i >= 0; i-- {
		if err := r.recent.Push(ctx, entries[i].View()); err != nil {
			r.logger.Warn("failed to seed recent activity cache", zap.Error(err))
			return
		}
	}
	if len(entries) > 0 {
		r.logger.Info("seeded recent activity cache", zap.Int("entries", len(entries)))
	}
}

func (r *Relay) cacheRecent(ctx context.Context, entry *domain.ActivityEntry) {
	if r.recent == nil {
		return
	}
	if err := r.recent.Push(ctx, entry.View()); err != nil {
		r.logger.Warn("failed to cache recent activity",
			zap.Int64("activity_id", entry.ID),
			zap.Error(err))
	}
}

// pushToHub is fire and forget: a failure is logged and counted, never retried.
func (r *Relay) pushToHub(ctx context.Context, entry *domain.ActivityEntry) {
	envelope, err := entry.ActivityEnvelope()
	if err != nil {
		r.logger.Error("failed to encode activity envelope",
			zap.Int64("activity_id", entry.ID),
			zap.Error(err))
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, r.cfg.PushTimeout)
	defer cancel()

	if err := r.notifier.Notify(pushCtx, envelope); err != nil {
		r.logger.Warn("failed to push activity to hub",
			zap.Int64("activity_id", entry.ID),
			zap.Error(err))
		r.metrics.IncHubPushFailures()
		r.mu.Lock()
		r.hubPushFailures++
		r.mu.Unlock()
	}
}

func (r *Relay) record(outcome Outcome) {
	r.metrics.IncRelayMessages(string(outcome))

	r.mu.Lock()
	r.processed[outcome]++
	r.lastMessageAt = time.Now()
	r.mu.Unlock()
}

func (r *Relay) setStatus(status Status) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

// Stats is a point-in-time view of the relay
type Stats struct {
	Status          Status
	Processed       map[Outcome]int64
	HubPushFailures int64
	LastMessageAt   time.Time
}

// Stats returns a copy of the relay counters
func (r *Relay) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	processed := make(map[Outcome]int64, len(r.processed))
	for k, v := range r.processed {
		processed[k] = v
	}
	return Stats{
		Status:          r.status,
		Processed:       processed,
		HubPushFailures: r.hubPushFailures,
		LastMessageAt:   r.lastMessageAt,
	}
}
