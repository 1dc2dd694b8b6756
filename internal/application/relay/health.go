package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically logs relay health
type HealthMonitor struct {
	relay    *Relay
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the relay
type HealthStatus struct {
	Status          Status
	Persisted       int64
	Requeued        int64
	Dropped         int64
	Duplicates      int64
	HubPushFailures int64
	Healthy         bool
	Timestamp       time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(relay *Relay, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		relay:    relay,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the health monitor. A zero interval leaves it disabled.
func (h *HealthMonitor) Start() {
	if h.interval <= 0 {
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go h.run(stopCh)
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

func (h *HealthMonitor) run(stopCh chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth logs relay status
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("relay health check",
		zap.String("status", string(status.Status)),
		zap.Int64("persisted", status.Persisted),
		zap.Int64("requeued", status.Requeued),
		zap.Int64("dropped", status.Dropped),
		zap.Int64("duplicates", status.Duplicates),
		zap.Int64("hub_push_failures", status.HubPushFailures),
		zap.Bool("healthy", status.Healthy))

	if !status.Healthy {
		h.logger.Warn("relay is unhealthy", zap.String("status", string(status.Status)))
	}

	// Requeues outnumbering successes usually means the database is down
	if status.Requeued > 0 && status.Requeued > status.Persisted {
		h.logger.Warn("relay is mostly requeueing - check the activity log database",
			zap.Int64("requeued", status.Requeued),
			zap.Int64("persisted", status.Persisted))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	stats := h.relay.Stats()

	return &HealthStatus{
		Status:          stats.Status,
		Persisted:       stats.Processed[OutcomePersisted],
		Requeued:        stats.Processed[OutcomeRequeued],
		Dropped:         stats.Processed[OutcomeDropped],
		Duplicates:      stats.Processed[OutcomeDuplicate],
		HubPushFailures: stats.HubPushFailures,
		Healthy:         stats.Status == StatusIdle || stats.Status == StatusBusy,
		Timestamp:       time.Now(),
	}
}

// IsHealthy returns true while the consumer loop is running
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}

// Health returns the relay's health monitor
func (r *Relay) Health() *HealthMonitor {
	return r.health
}
