// Package bus moves raw protocol events from transports to the dispatcher
// through an in-process channel with bounded backpressure.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

const publishTimeout = 10 * time.Second

// Event is one raw protocol frame plus where it came from.
type Event struct {
	Source string // transport name, "stdin" for the dev harness
	Data   []byte // raw event JSON as received from the wire
}

// InMemoryBus is a Go-channel based event bus for in-process communication.
type InMemoryBus struct {
	inbound chan Event
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound: make(chan Event, bufferSize),
		logger:  logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- ev:
	default:
		// Bus full, wait with timeout instead of dropping
		b.logger.Warn("inbound bus full, waiting...", "source", ev.Source)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "source", ev.Source)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s", "source", ev.Source)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan Event {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
