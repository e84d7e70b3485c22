// Package credentials stores broker API credentials sealed at rest in a
// JSON vault file.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("credentials not found")

// Sealer is the subset of the crypto package used by the vault. Both
// crypto.Sealer and crypto.Keyring satisfy it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Unseal(sealed string) (string, error)
}

// Credentials holds what a broker client needs to authenticate.
type Credentials struct {
	Broker      string            `json:"broker"`
	APIKey      string            `json:"api_key"`
	APISecret   string            `json:"api_secret,omitempty"`
	AccessToken string            `json:"access_token,omitempty"`
	ClientCode  string            `json:"client_code,omitempty"`
	TOTPSecret  string            `json:"totp_secret,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Store is a file-backed vault keyed by broker name. Secrets are sealed
// before they touch disk. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	sealer Sealer
	vault  map[string]string // broker -> sealed JSON blob
}

// Open loads the vault at path, creating an empty one if absent.
func Open(path string, sealer Sealer) (*Store, error) {
	s := &Store{path: path, sealer: sealer, vault: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	if err := json.Unmarshal(raw, &s.vault); err != nil {
		return nil, fmt.Errorf("parse vault %s: %w", path, err)
	}
	return s, nil
}

// Put seals and persists credentials for creds.Broker, replacing any
// previous entry.
func (s *Store) Put(creds Credentials) error {
	if creds.Broker == "" {
		return fmt.Errorf("broker name is required")
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := s.sealer.Seal(string(plain))
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vault[creds.Broker] = sealed
	if err := s.flushLocked(); err != nil {
		delete(s.vault, creds.Broker)
		return err
	}
	log.Printf("credentials: stored entry for %s", creds.Broker)
	return nil
}

// Get unseals the credentials for a broker.
func (s *Store) Get(broker string) (Credentials, error) {
	s.mu.RLock()
	sealed, ok := s.vault[broker]
	s.mu.RUnlock()
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, broker)
	}
	plain, err := s.sealer.Unseal(sealed)
	if err != nil {
		return Credentials{}, fmt.Errorf("unseal credentials for %s: %w", broker, err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(plain), &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials for %s: %w", broker, err)
	}
	return creds, nil
}

// Delete removes a broker's entry and persists the change.
func (s *Store) Delete(broker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vault[broker]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, broker)
	}
	sealed := s.vault[broker]
	delete(s.vault, broker)
	if err := s.flushLocked(); err != nil {
		s.vault[broker] = sealed
		return err
	}
	return nil
}

// List returns the broker names with stored credentials, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vault))
	for name := range s.vault {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// flushLocked writes the vault through a temp file and rename so a crash
// mid-write cannot truncate the vault. Caller holds s.mu.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.vault, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("create temp vault: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close vault: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod vault: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}
