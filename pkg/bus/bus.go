// Package bus decouples channel adapters from the orchestrator: adapters
// publish normalized inbound envelopes onto a buffered channel that the
// orchestrator consumes on its own goroutine.
package bus

import (
	"context"
	"sync"
)

const inboundBuffer = 256

type InboundBus struct {
	inbound chan InboundEnvelope
	closed  bool
	mu      sync.RWMutex
}

func NewInboundBus() *InboundBus {
	return &InboundBus{
		inbound: make(chan InboundEnvelope, inboundBuffer),
	}
}

// PublishInbound hands an envelope to the consumer without blocking the
// adapter's event loop. Returns false if the bus is closed or the buffer is
// full (the envelope is dropped; callers log it).
func (b *InboundBus) PublishInbound(env InboundEnvelope) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.inbound <- env:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks until an envelope is available or ctx is done.
func (b *InboundBus) ConsumeInbound(ctx context.Context) (InboundEnvelope, bool) {
	select {
	case env, ok := <-b.inbound:
		if !ok {
			return InboundEnvelope{}, false
		}
		return env, true
	case <-ctx.Done():
		return InboundEnvelope{}, false
	}
}

func (b *InboundBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.inbound)
}

// Publisher is the adapter-facing side of the bus.
type Publisher interface {
	PublishInbound(InboundEnvelope) bool
}
