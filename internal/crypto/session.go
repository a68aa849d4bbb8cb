// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package crypto provides optional per-chunk authenticated encryption for
// the file transfer protocol: an ephemeral X25519 key exchange feeds
// HKDF-SHA256, and the derived key drives AES-256-GCM over each chunk.
// When encryption is disabled, Session.Encrypt and Session.Decrypt are
// pass-throughs so callers never need conditional branches.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// NonceSize is the AES-GCM nonce length in bytes, per NIST SP 800-38D.
const NonceSize = 12

// KeySize is the derived AES-256 key length in bytes.
const KeySize = 32

// hkdfInfo binds the derived key to this protocol, preventing reuse of the
// shared secret by an unrelated key-derivation context.
var hkdfInfo = []byte("devvisionflow-v2-file-transfer")

// ErrNotEnabled is returned by Encrypt and Decrypt on a Session constructed
// with encryption enabled whose handshake has not completed yet. A Session
// constructed with encryption disabled never returns it.
var ErrNotEnabled = errors.New("crypto: encryption not enabled")

// ErrCiphertextTooShort is returned when decrypting data shorter than a
// nonce, which cannot have been produced by Encrypt.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce")

// Session wraps an optional X25519 + AES-256-GCM exchange. The zero value
// is not usable; construct one with NewSession.
type Session struct {
	enabled    bool
	privateKey [32]byte
	publicKey  [32]byte
	aead       cipher.AEAD
}

// NewSession creates a Session. When enabled is false, an ephemeral key
// pair is still not generated and every method becomes a pass-through;
// this mirrors how the rest of the pipeline treats encryption as a single
// boolean rather than branching on it at every call site.
func NewSession(enabled bool) (*Session, error) {
	s := &Session{enabled: enabled}
	if !enabled {
		return s, nil
	}

	if _, err := io.ReadFull(rand.Reader, s.privateKey[:]); err != nil {
		return nil, fmt.Errorf("crypto: generating private key: %w", err)
	}
	pub, err := curve25519.X25519(s.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: deriving public key: %w", err)
	}
	copy(s.publicKey[:], pub)
	return s, nil
}

// Enabled reports whether this session negotiates encryption.
func (s *Session) Enabled() bool {
	return s.enabled
}

// PublicKey returns the local raw X25519 public key. It returns nil when
// encryption is disabled.
func (s *Session) PublicKey() []byte {
	if !s.enabled {
		return nil
	}
	return s.publicKey[:]
}

// CompleteHandshake performs the X25519 exchange against the peer's raw
// public key and derives the AES-256 key via HKDF-SHA256. It is a no-op
// when encryption is disabled.
func (s *Session) CompleteHandshake(peerPublicKey []byte) error {
	if !s.enabled {
		return nil
	}
	if len(peerPublicKey) != 32 {
		return fmt.Errorf("crypto: peer public key must be 32 bytes, got %d", len(peerPublicKey))
	}

	shared, err := curve25519.X25519(s.privateKey[:], peerPublicKey)
	if err != nil {
		return fmt.Errorf("crypto: x25519 exchange: %w", err)
	}

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, shared, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("crypto: deriving aes key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("crypto: constructing aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("crypto: constructing gcm: %w", err)
	}
	s.aead = aead
	return nil
}

// Encrypt returns plaintext unchanged when encryption is disabled;
// otherwise it returns nonce || ciphertext+tag under a fresh random nonce.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if !s.enabled {
		return plaintext, nil
	}
	if s.aead == nil {
		return nil, ErrNotEnabled
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt returns data unchanged when encryption is disabled; otherwise it
// splits the leading nonce from data and authenticates+decrypts the rest.
func (s *Session) Decrypt(data []byte) ([]byte, error) {
	if !s.enabled {
		return data, nil
	}
	if s.aead == nil {
		return nil, ErrNotEnabled
	}
	if len(data) < NonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:NonceSize], data[NonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypting: %w", err)
	}
	return plaintext, nil
}
