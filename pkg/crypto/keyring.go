package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrKeyNotFound  = errors.New("encryption key not found")
	ErrKeyNotLoaded = errors.New("keyring not initialized")
)

// Keyring holds sealers for several key versions so credentials sealed
// under an older key remain readable after rotation. New secrets are
// always sealed with the newest loaded version.
type Keyring struct {
	mu         sync.RWMutex
	currentVer int
	sealers    map[int]*Sealer
	envPrefix  string
}

// NewKeyring loads keys from the environment. CREDENTIAL_MASTER_KEY is
// version 1 and required; CREDENTIAL_MASTER_KEY_V2 and up are optional
// rotation keys, base64 encoded 32-byte values.
func NewKeyring() (*Keyring, error) {
	kr := &Keyring{
		sealers:   make(map[int]*Sealer),
		envPrefix: "CREDENTIAL_MASTER_KEY",
	}
	if err := kr.loadKey(1, kr.envPrefix); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	kr.currentVer = 1
	for v := 2; v <= 10; v++ {
		if err := kr.loadKey(v, fmt.Sprintf("%s_V%d", kr.envPrefix, v)); err == nil {
			kr.currentVer = v
		}
	}
	return kr, nil
}

func (kr *Keyring) loadKey(version int, envName string) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode key %s: %w", envName, err)
	}
	s, err := NewSealer(key, version)
	if err != nil {
		return fmt.Errorf("sealer v%d: %w", version, err)
	}
	kr.sealers[version] = s
	return nil
}

// Seal encrypts with the newest key version.
func (kr *Keyring) Seal(plaintext string) (string, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	s, ok := kr.sealers[kr.currentVer]
	if !ok {
		return "", ErrKeyNotLoaded
	}
	return s.Seal(plaintext)
}

// Unseal decrypts with the key version named in the envelope.
func (kr *Keyring) Unseal(sealed string) (string, error) {
	version := SealedVersion(sealed)
	if version == 0 {
		return "", ErrNotSealed
	}
	kr.mu.RLock()
	s, ok := kr.sealers[version]
	kr.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return s.Unseal(sealed)
}

// Reseal rewraps a sealed value under the newest key version.
func (kr *Keyring) Reseal(sealed string) (string, error) {
	plaintext, err := kr.Unseal(sealed)
	if err != nil {
		return "", fmt.Errorf("unseal for rotation: %w", err)
	}
	return kr.Seal(plaintext)
}

// CurrentVersion returns the version Seal writes with.
func (kr *Keyring) CurrentVersion() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.currentVer
}

// HasVersion reports whether a key version is loaded.
func (kr *Keyring) HasVersion(version int) bool {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	_, ok := kr.sealers[version]
	return ok
}

// GenerateKey returns a fresh random AES-256 key, base64 encoded for
// direct use in the key environment variables.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
