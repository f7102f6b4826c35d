package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsume(t *testing.T) {
	b := NewInboundBus()
	defer b.Close()

	env := InboundEnvelope{
		Channel:   "whatsapp",
		From:      "+15550001234",
		Content:   "hello",
		Timestamp: time.Now(),
		SessionID: "sess-1",
	}
	require.True(t, b.PublishInbound(env))

	got, ok := b.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, env, got)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewInboundBus()
	defer b.Close()

	// Fill the buffer with nobody consuming; the overflow publish must
	// return immediately instead of stalling the adapter.
	for i := 0; i < inboundBuffer; i++ {
		require.True(t, b.PublishInbound(InboundEnvelope{Channel: "x"}))
	}
	assert.False(t, b.PublishInbound(InboundEnvelope{Channel: "x"}))
}

func TestConsumeCancelled(t *testing.T) {
	b := NewInboundBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := b.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestPublishAfterClose(t *testing.T) {
	b := NewInboundBus()
	b.Close()
	assert.False(t, b.PublishInbound(InboundEnvelope{Channel: "whatsapp"}))
}
