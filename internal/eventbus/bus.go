package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	core "github.com/cascadeai/modelmesh/internal/core/service"
	"github.com/cascadeai/modelmesh/internal/logging"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 256

// Bus is an in-process, bounded, lossy-on-slow-consumers pub/sub for
// lifecycle events (spec.md §6). There is no teacher equivalent — the
// teacher publishes to Redis, which is out of scope for an in-process
// orchestrator (SPEC_FULL.md §3) — so this is designed directly from the
// spec's bounded-channel requirement.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	bufferSize  int
	dropped     atomic.Int64
	logger      *logging.Logger
}

// New constructs a Bus. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int, logger *logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[int64]chan Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Descriptor implements lifecycle.DescriptorProvider.
func (b *Bus) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "eventbus", Layer: core.LayerEvents}
}

// Subscribe registers a new subscriber and returns its id and receive channel.
func (b *Bus) Subscribe() (int64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish delivers evt to every subscriber. A subscriber whose buffer is full
// has its oldest event dropped to make room — publishers never block.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
			continue
		default:
		}

		select {
		case <-ch:
			b.dropped.Add(1)
			if b.logger != nil {
				b.logger.WithField("event_type", evt.Type).Warn("event dropped: subscriber buffer full")
			}
		default:
		}

		select {
		case ch <- evt:
		default:
			// Raced with another publisher; evt itself is dropped.
			b.dropped.Add(1)
		}
	}
}

// DroppedCount returns the cumulative number of events dropped for being
// undeliverable to a full subscriber buffer.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// AsService adapts Bus to lifecycle.Service: Start is a no-op, Stop closes
// every subscriber channel.
func (b *Bus) AsService() interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
} {
	return busService{b}
}

type busService struct{ b *Bus }

func (s busService) Name() string { return "eventbus" }

func (s busService) Start(_ context.Context) error { return nil }

func (s busService) Stop(_ context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for id, ch := range s.b.subscribers {
		delete(s.b.subscribers, id)
		close(ch)
	}
	return nil
}
