package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/types"
)

// Bulkhead bounds concurrent in-flight upstream calls for one service so a
// slow provider cannot absorb every worker. Acquire and Release are split
// because the protected call may outlive the caller that started it.
type Bulkhead struct {
	maxConcurrent  int
	maxQueue       int
	acquireTimeout time.Duration
	semaphore      chan struct{}

	activeCount   atomic.Int32
	queuedCount   atomic.Int32
	rejectedCount atomic.Int64
	totalExecuted atomic.Int64
}

func NewBulkhead(cfg config.BulkheadConfig) *Bulkhead {
	maxConcurrent := cfg.MaxConcurrent
	maxQueue := cfg.MaxQueue
	acquireTimeout := cfg.AcquireTimeout

	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	if maxQueue <= 0 {
		maxQueue = 25
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 100 * time.Millisecond
	}

	return &Bulkhead{
		maxConcurrent:  maxConcurrent,
		maxQueue:       maxQueue,
		acquireTimeout: acquireTimeout,
		semaphore:      make(chan struct{}, maxConcurrent),
	}
}

// Acquire reserves a slot, queueing up to acquireTimeout when the bulkhead
// is saturated. Returns ErrBulkheadFull or ErrBulkheadTimeout on rejection.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.semaphore <- struct{}{}:
		b.activeCount.Add(1)
		return nil
	default:
	}

	if int(b.queuedCount.Load()) >= b.maxQueue {
		b.rejectedCount.Add(1)
		return types.ErrBulkheadFull
	}

	b.queuedCount.Add(1)
	defer b.queuedCount.Add(-1)

	timeoutCtx, cancel := context.WithTimeout(ctx, b.acquireTimeout)
	defer cancel()

	select {
	case b.semaphore <- struct{}{}:
		b.activeCount.Add(1)
		return nil
	case <-timeoutCtx.Done():
		b.rejectedCount.Add(1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.ErrBulkheadTimeout
	}
}

// Release frees a previously acquired slot.
func (b *Bulkhead) Release() {
	b.activeCount.Add(-1)
	b.totalExecuted.Add(1)
	<-b.semaphore
}

// Execute runs fn inside the bulkhead.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn(ctx)
}

func (b *Bulkhead) ActiveCount() int     { return int(b.activeCount.Load()) }
func (b *Bulkhead) QueuedCount() int     { return int(b.queuedCount.Load()) }
func (b *Bulkhead) RejectedCount() int64 { return b.rejectedCount.Load() }
func (b *Bulkhead) TotalExecuted() int64 { return b.totalExecuted.Load() }

// Stats returns bulkhead statistics.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		MaxConcurrent: b.maxConcurrent,
		MaxQueue:      b.maxQueue,
		Active:        int(b.activeCount.Load()),
		Queued:        int(b.queuedCount.Load()),
		TotalExecuted: b.totalExecuted.Load(),
		TotalRejected: b.rejectedCount.Load(),
	}
}

// BulkheadStats contains bulkhead statistics.
type BulkheadStats struct {
	MaxConcurrent int
	MaxQueue      int
	Active        int
	Queued        int
	TotalExecuted int64
	TotalRejected int64
}

// IsBulkheadError returns true if the error is a bulkhead rejection.
func IsBulkheadError(err error) bool {
	return errors.Is(err, types.ErrBulkheadFull) || errors.Is(err, types.ErrBulkheadTimeout)
}
