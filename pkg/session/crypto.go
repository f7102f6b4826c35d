package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// CredentialBox seals bridge auth material with AES-256-GCM. Every Seal draws
// a fresh nonce, which the caller persists next to the ciphertext.
type CredentialBox struct {
	aead cipher.AEAD
}

// NewCredentialBox builds a box from a 64-hex-char (32 byte) key.
func NewCredentialBox(hexKey string) (*CredentialBox, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("session key must be 32 bytes (64 hex chars)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CredentialBox{aead: aead}, nil
}

// NewRandomCredentialBox generates a throwaway key. Sealed records do not
// survive a restart; only for local runs without SESSION_ENC_KEY set.
func NewRandomCredentialBox() (*CredentialBox, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return NewCredentialBox(hex.EncodeToString(key))
}

func (b *CredentialBox) Seal(plaintext []byte) (nonce, blob []byte, err error) {
	nonce = make([]byte, b.aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, b.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (b *CredentialBox) Open(nonce, blob []byte) ([]byte, error) {
	out, err := b.aead.Open(nil, nonce, blob, nil)
	if err != nil {
		return nil, errors.New("credentials do not authenticate")
	}
	return out, nil
}
