// Package crypto seals profile secrets at rest with AES-256-GCM.
//
// The key comes from WEBTERM_ENCRYPTION_KEY (64 hex chars). When it is unset
// a deterministic development key is used.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// EnvKey is the environment variable holding the hex-encoded 256-bit key.
	EnvKey = "WEBTERM_ENCRYPTION_KEY"

	// devKey is used ONLY when no key is configured. NOT suitable for production.
	devKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// Sealer encrypts and decrypts secret values.
type Sealer struct {
	aead cipher.AEAD
	dev  bool
}

// NewSealer builds a Sealer from a hex-encoded 32-byte key. An empty key
// selects the development key.
func NewSealer(hexKey string) (*Sealer, error) {
	dev := hexKey == ""
	if dev {
		hexKey = devKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid hex key in %s: %w", EnvKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Sealer{aead: gcm, dev: dev}, nil
}

// DevKey reports whether the development key is in use.
func (s *Sealer) DevKey() bool {
	return s.dev
}

// Encrypt returns hex(nonce || ciphertext || tag).
func (s *Sealer) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (s *Sealer) Decrypt(ciphertextHex string) (string, error) {
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid hex ciphertext: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}
