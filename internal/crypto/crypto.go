// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package crypto encrypts the store's secret and proxy columns at rest
// with ChaCha20-Poly1305, appending the nonce to the ciphertext.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required size, in bytes, of an encryption key.
const KeyLen = chacha20poly1305.KeySize

// nonceLen is the size, in bytes, of the per-write nonce appended to
// every ciphertext.
const nonceLen = chacha20poly1305.NonceSize

var (
	// ErrInvalidKeyLength is returned when a key is not exactly KeyLen bytes.
	ErrInvalidKeyLength = errors.New("crypto: key must be 32 bytes")
	// ErrNoInput is returned by Encrypt when given an empty plaintext.
	ErrNoInput = errors.New("crypto: no input provided")
	// ErrShortCiphertext is returned by Decrypt when the ciphertext is
	// too short to contain a nonce.
	ErrShortCiphertext = errors.New("crypto: ciphertext shorter than nonce")
)

// Key is a 32-byte ChaCha20-Poly1305 key used to encrypt and decrypt the
// store's secret and proxy columns.
type Key [KeyLen]byte

// NewKey generates a fresh random key.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// KeyFromBytes builds a Key from raw bytes, which must be exactly KeyLen long.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeyLen {
		return Key{}, ErrInvalidKeyLength
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromBase64 decodes a standard-base64-encoded key.
func KeyFromBase64(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decode base64 key: %w", err)
	}
	return KeyFromBytes(b)
}

// Base64 encodes the key as standard base64, for operators to persist it
// in an OS keyring or secret manager. The store itself never persists a key.
func (k Key) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Encrypt seals plaintext under k, generating a fresh random nonce and
// appending it after the ciphertext.
func Encrypt(k Key, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrNoInput
	}
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(sealed, nonce...), nil
}

// Decrypt opens a ciphertext produced by Encrypt, reading the nonce from
// the last nonceLen bytes.
func Decrypt(k Key, data []byte) ([]byte, error) {
	if len(data) < nonceLen {
		return nil, ErrShortCiphertext
	}
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	split := len(data) - nonceLen
	nonce := data[split:]
	plaintext, err := aead.Open(nil, nonce, data[:split], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
