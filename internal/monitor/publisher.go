package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher ships snapshots to an external metrics sink.
type Publisher interface {
	PublishSnapshot(snap Snapshot)
	Close() error
}

// NoOpPublisher discards every snapshot, used when metrics publishing is
// disabled.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishSnapshot(Snapshot) {}
func (NoOpPublisher) Close() error             { return nil }

// BackgroundPublisher samples the monitor at a fixed interval and ships
// each snapshot to the publisher.
type BackgroundPublisher struct {
	monitor   *Monitor
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBackgroundPublisher creates the publishing loop; call Start to run it.
func NewBackgroundPublisher(monitor *Monitor, publisher Publisher, interval time.Duration, logger *slog.Logger) *BackgroundPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &BackgroundPublisher{
		monitor:   monitor,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "monitor-publisher"),
	}
}

// Start begins the background publishing loop.
func (b *BackgroundPublisher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run()
	b.logger.Info("Background snapshot publisher started", "interval", b.interval)
}

// Stop cancels the loop, publishes a final snapshot and waits for shutdown.
func (b *BackgroundPublisher) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("Background snapshot publisher stopped")
}

func (b *BackgroundPublisher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			// Final publish before stopping
			b.publish()
			return
		case <-ticker.C:
			b.publish()
		}
	}
}

func (b *BackgroundPublisher) publish() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in snapshot publisher", "panic", r)
		}
	}()

	b.publisher.PublishSnapshot(b.monitor.Snapshot())
}

// PublishNow triggers an immediate publish.
func (b *BackgroundPublisher) PublishNow() {
	b.publish()
}
