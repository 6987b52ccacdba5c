// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrEmptyToken is returned when encrypting or decrypting without a token.
	ErrEmptyToken = errors.New("empty token")
	// ErrDecrypt is returned when a ciphertext does not open with the token,
	// either because the token differs or because the data was altered.
	ErrDecrypt = errors.New("cannot decrypt secret")
)

// Cipher encrypts values under a caller supplied token.
type Cipher interface {
	Encrypt(plaintext []byte, token string) ([]byte, error)
	Decrypt(ciphertext []byte, token string) ([]byte, error)
}

// TokenCipher derives a XChaCha20-Poly1305 key from the token with HKDF-SHA256.
// The output layout is nonce || sealed box.
type TokenCipher struct {
	// Info separates key derivations of different purposes.
	Info string
}

var hkdfSalt = []byte("drivecfg/token-cipher/v1")

// NewTokenCipher returns a TokenCipher for the given purpose.
func NewTokenCipher(info string) *TokenCipher {
	return &TokenCipher{Info: info}
}

func (c *TokenCipher) key(token string) ([]byte, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(token), hkdfSalt, []byte(c.Info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *TokenCipher) Encrypt(plaintext []byte, token string) ([]byte, error) {
	key, err := c.key(token)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt with the same token.
func (c *TokenCipher) Decrypt(ciphertext []byte, token string) ([]byte, error) {
	key, err := c.key(token)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, box := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}
