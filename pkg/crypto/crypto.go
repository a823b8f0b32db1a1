// Package crypto encrypts meeting passcodes before they are persisted.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey is returned when the key is not 32 bytes after decoding.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (64 hex chars)")
	// ErrMalformedCiphertext is returned when stored ciphertext cannot be parsed.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// Encryptor performs AES-256-GCM encryption with a random nonce per call, so
// repeated encryption of the same plaintext yields different ciphertext. The
// nonce is stored alongside the ciphertext as "nonce:ciphertext" (hex), so
// decryption needs no side channel.
type Encryptor struct {
	aead cipher.AEAD
}

// New creates an Encryptor from a hex-encoded 32-byte key.
func New(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt encrypts plaintext and returns "nonce:ciphertext" in hex.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return "", ErrMalformedCiphertext
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != e.aead.NonceSize() {
		return "", ErrMalformedCiphertext
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	plain, err := e.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
