package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// MetricsBroadcaster fans a metrics snapshot out to connected peers.
type MetricsBroadcaster interface {
	BroadcastMetrics(metrics map[string]any) int
}

// Publisher periodically broadcasts a metrics.update snapshot.
type Publisher struct {
	metrics     *Metrics
	broadcaster MetricsBroadcaster
	interval    time.Duration
	logger      *slog.Logger
	started     time.Time
}

func NewPublisher(metrics *Metrics, broadcaster MetricsBroadcaster, interval time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		metrics:     metrics,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger,
		started:     time.Now(),
	}
}

// Run publishes every interval until ctx is done. A non-positive interval
// disables publishing.
func (p *Publisher) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := p.PublishOnce()
			p.logger.Debug("metrics published", "clients", n)
		}
	}
}

// PublishOnce broadcasts the current snapshot and returns the number of
// peers it reached.
func (p *Publisher) PublishOnce() int {
	snap := p.metrics.Snapshot()
	snap["uptimeSeconds"] = int64(time.Since(p.started).Seconds())
	snap["goroutines"] = runtime.NumGoroutine()
	return p.broadcaster.BroadcastMetrics(snap)
}
