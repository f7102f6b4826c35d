package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
)

func TestCapacityPlusOneRejected(t *testing.T) {
	const capacity = 10
	k := NewKeyed(capacity, time.Hour)

	for i := 0; i < capacity; i++ {
		require.NoError(t, k.Allow("1.2.3.4"), "consumption %d", i+1)
	}
	err := k.Allow("1.2.3.4")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
}

func TestKeysAreIndependent(t *testing.T) {
	k := NewKeyed(1, time.Hour)
	require.NoError(t, k.Allow("a"))
	require.Error(t, k.Allow("a"))
	require.NoError(t, k.Allow("b"))
}

func TestAllowN(t *testing.T) {
	k := NewKeyed(5, time.Hour)
	require.NoError(t, k.AllowN("key", 5))
	require.Error(t, k.AllowN("key", 1))
}

func TestProviderCaps(t *testing.T) {
	k := NewPerSecond(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, k.Allow("hunter"))
	}
	require.Error(t, k.Allow("hunter"))
}
