// Package codes hashes and seals plaintext promo codes.
//
// Plaintext only exists on the way in (import) and on the way out (the single
// allocation that hands it to a wallet). Everything at rest is either a SHA-256
// digest, used for duplicate detection, or AES-256-GCM ciphertext under a key
// derived per import batch from the master secret.
package codes

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealVersion = "v1"

var (
	// ErrEmptySecret is returned when no master secret is configured
	ErrEmptySecret = errors.New("codes: master secret is empty")
	// ErrMalformed is returned for ciphertext that is not in the sealed format
	ErrMalformed = errors.New("codes: malformed sealed code")
)

// Hash returns the hex SHA-256 digest of a plaintext code
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Sealer encrypts and decrypts promo codes
type Sealer struct {
	master []byte
}

// NewSealer creates a sealer from the master secret
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Sealer{master: []byte(secret)}, nil
}

// Seal encrypts plaintext with the data key of batchID.
// Output format: v1:<hex nonce>:<hex ciphertext>
func (s *Sealer) Seal(batchID, plaintext string) (string, error) {
	aead, err := s.aead(batchID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), []byte(batchID))
	return sealVersion + ":" + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal with the same batchID
func (s *Sealer) Open(batchID, sealed string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 || parts[0] != sealVersion {
		return "", ErrMalformed
	}
	nonce, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformed
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := s.aead(batchID)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrMalformed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(batchID))
	if err != nil {
		return "", fmt.Errorf("failed to open sealed code: %w", err)
	}
	return string(plaintext), nil
}

func (s *Sealer) aead(batchID string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, s.master, nil, []byte("promo-code/"+batchID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive data key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
