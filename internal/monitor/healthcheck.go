package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Prober checks whether the model runtime answers. *ollama.Client implements it.
type Prober interface {
	TestConnection(ctx context.Context) bool
}

// HealthChecker periodically checks model runtime health.
type HealthChecker struct {
	prober        Prober
	checkInterval time.Duration
	timeout       time.Duration
	healthy       atomic.Bool
	checked       atomic.Bool
	lastCheck     atomic.Value // time.Time
	lastError     atomic.Value // string
	metrics       *Metrics
	logger        *slog.Logger
	onChange      func(healthy bool)
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewHealthChecker creates a health checker and starts probing in the
// background. onChange, if set, is called after the first check and on
// every transition.
func NewHealthChecker(prober Prober, checkInterval, timeout time.Duration, metrics *Metrics, logger *slog.Logger, onChange func(healthy bool)) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	hc := &HealthChecker{
		prober:        prober,
		checkInterval: checkInterval,
		timeout:       timeout,
		metrics:       metrics,
		logger:        logger,
		onChange:      onChange,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	// Unhealthy until the first check completes.
	hc.healthy.Store(false)

	go hc.run()

	return hc
}

func (hc *HealthChecker) run() {
	defer close(hc.doneCh)

	hc.Check()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.Check()
		case <-hc.stopCh:
			return
		}
	}
}

// Check runs a single probe and updates the recorded state.
func (hc *HealthChecker) Check() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	ok := hc.prober.TestConnection(ctx)
	errMsg := ""
	if !ok {
		errMsg = "model runtime unreachable"
	}
	hc.updateHealth(ok, errMsg)
	return ok
}

func (hc *HealthChecker) updateHealth(healthy bool, errMsg string) {
	prev := hc.healthy.Swap(healthy)
	first := !hc.checked.Swap(true)
	hc.lastCheck.Store(time.Now())
	hc.lastError.Store(errMsg)
	if errMsg != "" {
		hc.logger.Debug("upstream health check failed", "error", errMsg)
	}

	hc.metrics.UpdateUpstreamHealth(healthy)

	if first || prev != healthy {
		if !first {
			hc.logger.Info("upstream health changed", "healthy", healthy)
		}
		if hc.onChange != nil {
			hc.onChange(healthy)
		}
	}
}

// Healthy returns whether the upstream is currently healthy.
func (hc *HealthChecker) Healthy() bool {
	return hc.healthy.Load()
}

// LastCheck returns the time of the last health check.
func (hc *HealthChecker) LastCheck() time.Time {
	if v := hc.lastCheck.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// LastError returns the last error message, if any.
func (hc *HealthChecker) LastError() string {
	if v := hc.lastError.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Shutdown stops the health checker and waits for the probe loop to exit.
func (hc *HealthChecker) Shutdown() {
	close(hc.stopCh)
	<-hc.doneCh
}
