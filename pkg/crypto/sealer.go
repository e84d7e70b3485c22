// Package crypto seals broker credentials at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// saltSize is the scrypt salt length for passphrase-derived keys.
	saltSize = 16

	sealedPrefix = "ENC[v"
)

var (
	ErrInvalidKey    = errors.New("encryption key must be 32 bytes")
	ErrNotSealed     = errors.New("value is not in sealed format")
	ErrUnsealFailed  = errors.New("unseal failed: wrong key or corrupted data")
	ErrEmptyPassword = errors.New("passphrase must not be empty")
)

// Sealer encrypts and decrypts secrets as versioned, base64-wrapped blobs
// of the form ENC[vN]:base64(nonce+ciphertext).
type Sealer struct {
	key     []byte
	version int
}

// NewSealer builds a Sealer around a raw 32-byte key.
func NewSealer(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Sealer{key: key, version: version}, nil
}

// NewSealerFromPassphrase derives the key from a passphrase with scrypt.
// The salt must be stable across restarts; persist it next to the vault.
func NewSealerFromPassphrase(passphrase string, salt []byte, version int) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassword
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}
	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return NewSealer(key, version)
}

// NewSalt generates a random scrypt salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext and wraps it in the versioned envelope.
func (s *Sealer) Seal(plaintext string) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	blob := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", s.version, base64.StdEncoding.EncodeToString(blob)), nil
}

// Unseal reverses Seal. The envelope version is informational; any version
// sealed with the same key opens.
func (s *Sealer) Unseal(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", ErrNotSealed
	}
	sep := strings.Index(sealed, "]:")
	if sep == -1 {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(sealed[sep+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrNotSealed
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plaintext), nil
}

// Version returns the envelope version this Sealer writes.
func (s *Sealer) Version() int { return s.version }

// IsSealed reports whether a value carries the sealed envelope.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix) && strings.Contains(value, "]:")
}

// SealedVersion extracts the envelope version, or 0 for unsealed values.
func SealedVersion(sealed string) int {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return 0
	}
	var v int
	if _, err := fmt.Sscanf(sealed, "ENC[v%d]:", &v); err != nil {
		return 0
	}
	return v
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
