package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/mgrinalds/wayguard/internal/types"
)

// RedisBus broadcasts invalidation messages over a Redis pub/sub channel.
// Delivery is at-least-once: Redis can redeliver after reconnects and the
// publisher also applies the invalidation locally, so subscribers must
// treat every message as idempotent.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers []func(types.InvalidationMessage)

	pubsub *redis.PubSub
	wg     sync.WaitGroup
	closed atomic.Bool

	published atomic.Int64
	received  atomic.Int64
	malformed atomic.Int64
}

// NewRedisBus subscribes to the given channel on an existing client.
// The receive loop runs until Close.
func NewRedisBus(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "invalidation-bus"),
	}

	b.pubsub = client.Subscribe(context.Background(), channel)

	b.wg.Add(1)
	go b.receiveLoop()

	return b
}

// Publish broadcasts an invalidation message to every subscribed instance.
func (b *RedisBus) Publish(ctx context.Context, msg types.InvalidationMessage) error {
	if b.closed.Load() {
		return types.ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal invalidation message: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}

	b.published.Add(1)
	return nil
}

// Subscribe registers a handler for incoming invalidation messages.
// Handlers run on the bus goroutine and must return quickly.
func (b *RedisBus) Subscribe(handler func(types.InvalidationMessage)) {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

func (b *RedisBus) receiveLoop() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for raw := range ch {
		var msg types.InvalidationMessage
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			b.malformed.Add(1)
			b.logger.Warn("Dropping malformed invalidation message", "error", err)
			continue
		}

		b.received.Add(1)
		b.dispatch(msg)
	}
}

func (b *RedisBus) dispatch(msg types.InvalidationMessage) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Close unsubscribes and waits for the receive loop to drain.
func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// Published returns how many messages this instance has broadcast.
func (b *RedisBus) Published() int64 { return b.published.Load() }

// Received returns how many messages this instance has handled.
func (b *RedisBus) Received() int64 { return b.received.Load() }

// LoopbackBus is an in-process bus for memory-only deployments. Publish
// dispatches synchronously to local handlers; there are no other
// instances to reach.
type LoopbackBus struct {
	mu       sync.RWMutex
	handlers []func(types.InvalidationMessage)
	closed   atomic.Bool
}

// NewLoopbackBus creates an in-process invalidation bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

func (b *LoopbackBus) Publish(ctx context.Context, msg types.InvalidationMessage) error {
	if b.closed.Load() {
		return types.ErrClosed
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *LoopbackBus) Subscribe(handler func(types.InvalidationMessage)) {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

func (b *LoopbackBus) Close() error {
	b.closed.Store(true)
	return nil
}

var (
	_ types.InvalidationBus = (*RedisBus)(nil)
	_ types.InvalidationBus = (*LoopbackBus)(nil)
)
