// Package datadog provides a DataDog StatsD snapshot publisher.
package datadog

import (
	"fmt"
	"log/slog"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/monitor"
)

// Publisher ships monitor snapshots to a DataDog agent over StatsD.
type Publisher struct {
	baseTags []string
	client   *statsd.Client
	logger   *slog.Logger
	config   *config.DataDogConfig
}

// NewPublisher creates a DataDog publisher from config.
// If DataDog is not enabled, returns a NoOpPublisher instead.
func NewPublisher(cfg *config.DataDogConfig, logger *slog.Logger) (monitor.Publisher, error) {
	if !cfg.Enabled {
		return monitor.NoOpPublisher{}, nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	addr := fmt.Sprintf("%s:%d", cfg.AgentHost, cfg.Port)

	client, err := statsd.New(addr,
		statsd.WithNamespace(cfg.Prefix+"."),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client: %w", err)
	}

	logger.Info("DataDog publisher initialized",
		"address", addr,
		"prefix", cfg.Prefix,
		"tags", cfg.Tags,
	)

	return &Publisher{
		client:   client,
		config:   cfg,
		baseTags: cfg.Tags,
		logger:   logger.With("component", "datadog"),
	}, nil
}

// PublishSnapshot converts a snapshot into gauges and counters.
func (p *Publisher) PublishSnapshot(snap monitor.Snapshot) {
	p.gauge("health.status", float64(snap.Status), "status:"+snap.Status.String())

	p.gauge("cache.local.keys", float64(snap.CacheStats.LocalKeys))
	p.gauge("cache.local.hit_ratio", clamp(snap.CacheStats.LocalHitRatio(), 0, 1))
	p.gauge("cache.shared.hit_ratio", clamp(snap.CacheStats.SharedHitRatio(), 0, 1))
	p.gauge("cache.promotions", float64(snap.CacheStats.Promotions))
	p.gauge("cache.shared.pending_writes", float64(snap.Cache.Shared.PendingWrites))
	p.gauge("cache.shared.dropped_writes", float64(snap.Cache.Shared.DroppedWrites))

	available := 0.0
	if snap.Cache.Shared.Available {
		available = 1.0
	}
	p.gauge("cache.shared.available", available)

	for _, svc := range snap.Services {
		tag := "service:" + svc.Service
		p.gauge("service.calls", float64(svc.Calls), tag)
		p.gauge("service.estimated_cost", svc.EstimatedCost, tag)
		p.gauge("service.status", float64(svc.Status), tag, "circuit:"+svc.CircuitState)

		for _, w := range svc.Windows {
			p.gauge("ratelimit.remaining", w.Remaining, tag, "window:"+w.Window)
		}
	}

	if snap.Latency.Samples > 0 {
		p.timingMs("latency.p50", float64(snap.Latency.P50.Microseconds())/1000)
		p.timingMs("latency.p95", float64(snap.Latency.P95.Microseconds())/1000)
		p.timingMs("latency.p99", float64(snap.Latency.P99.Microseconds())/1000)
	}
}

func (p *Publisher) gauge(name string, value float64, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.Gauge(name, value, allTags, 1); err != nil {
		p.logger.Debug("Failed to send gauge metric", "name", name, "error", err)
	}
}

func (p *Publisher) timingMs(name string, ms float64, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.TimeInMilliseconds(name, ms, allTags, 1); err != nil {
		p.logger.Debug("Failed to send timing metric", "name", name, "error", err)
	}
}

// Close releases resources held by the publisher.
func (p *Publisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *Publisher) mergeTags(tags []string) []string {
	if len(tags) == 0 {
		return p.baseTags
	}
	if len(p.baseTags) == 0 {
		return tags
	}
	merged := make([]string, 0, len(p.baseTags)+len(tags))
	merged = append(merged, p.baseTags...)
	merged = append(merged, tags...)
	return merged
}

func clamp(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

var _ monitor.Publisher = (*Publisher)(nil)
