// Package ledgerauth keeps ledger gateway credentials out of config files.
package ledgerauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name.
const DefaultService = "pf-slot"

// ErrNotFound is returned when no key is stored for a profile.
var ErrNotFound = keyring.ErrNotFound

// Store keeps one gateway API key per profile in the OS keychain, falling
// back to a 0600 JSON file when no keychain is reachable.
type Store struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// New creates a Store. An empty fallbackPath disables the file fallback.
func New(service, fallbackPath string) *Store {
	if strings.TrimSpace(service) == "" {
		service = DefaultService
	}
	return &Store{service: service, fallbackPath: fallbackPath}
}

func account(profile string) (string, error) {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return "", fmt.Errorf("ledgerauth: profile is required")
	}
	return profile + "/apikey", nil
}

// SetAPIKey stores key for profile.
func (s *Store) SetAPIKey(profile, key string) error {
	acct, err := account(profile)
	if err != nil {
		return err
	}
	err = keyring.Set(s.service, acct, key)
	if err == nil {
		return nil
	}
	if !unavailable(err) {
		return fmt.Errorf("ledgerauth: keyring set: %w", err)
	}
	return s.writeFallback(func(m map[string]string) { m[acct] = key })
}

// APIKey returns the key stored for profile.
func (s *Store) APIKey(profile string) (string, error) {
	acct, err := account(profile)
	if err != nil {
		return "", err
	}
	val, err := keyring.Get(s.service, acct)
	if err == nil {
		return val, nil
	}
	if !unavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("ledgerauth: keyring get: %w", err)
	}

	m, ferr := s.readFallback()
	if ferr != nil {
		return "", ferr
	}
	if v, ok := m[acct]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

// Delete removes profile's key from both backends.
func (s *Store) Delete(profile string) error {
	acct, err := account(profile)
	if err != nil {
		return err
	}
	kerr := keyring.Delete(s.service, acct)
	var ferr error
	if strings.TrimSpace(s.fallbackPath) != "" {
		ferr = s.writeFallback(func(m map[string]string) { delete(m, acct) })
	}
	if kerr != nil && !errors.Is(kerr, keyring.ErrNotFound) && !unavailable(kerr) {
		return fmt.Errorf("ledgerauth: keyring delete: %w", kerr)
	}
	return ferr
}

func unavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

func (s *Store) readFallback() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(s.fallbackPath) == "" {
		return out, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readFallbackUnlocked()
}

func (s *Store) readFallbackUnlocked() (map[string]string, error) {
	out := map[string]string{}
	raw, err := os.ReadFile(s.fallbackPath)
	if os.IsNotExist(err) || len(raw) == 0 {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledgerauth: read fallback: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ledgerauth: decode fallback: %w", err)
	}
	return out, nil
}

func (s *Store) writeFallback(mutate func(map[string]string)) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return fmt.Errorf("ledgerauth: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	mutate(m)

	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("ledgerauth: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ledgerauth: encode fallback: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("ledgerauth: write fallback: %w", err)
	}
	return nil
}
