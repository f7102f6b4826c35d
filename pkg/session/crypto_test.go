package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialBoxRoundTrip(t *testing.T) {
	box, err := NewCredentialBox(strings.Repeat("ab", 32))
	require.NoError(t, err)

	nonce, blob, err := box.Seal([]byte("auth material"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("auth material"), blob)

	out, err := box.Open(nonce, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("auth material"), out)
}

func TestCredentialBoxFreshNoncePerSeal(t *testing.T) {
	box, err := NewRandomCredentialBox()
	require.NoError(t, err)

	n1, b1, err := box.Seal([]byte("same"))
	require.NoError(t, err)
	n2, b2, err := box.Seal([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, b1, b2)
}

func TestCredentialBoxRejectsTampering(t *testing.T) {
	box, err := NewRandomCredentialBox()
	require.NoError(t, err)

	nonce, blob, err := box.Seal([]byte("auth"))
	require.NoError(t, err)
	blob[0] ^= 0xff
	_, err = box.Open(nonce, blob)
	require.Error(t, err)
}

func TestCredentialBoxKeyValidation(t *testing.T) {
	_, err := NewCredentialBox("not-hex")
	require.Error(t, err)
	_, err = NewCredentialBox("abcd")
	require.Error(t, err, "short key rejected")
}
