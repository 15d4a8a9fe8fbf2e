package ledgerauth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestStoreWithKeyring(t *testing.T) {
	keyring.MockInit()
	s := New("pf-slot-test", "")

	if _, err := s.APIKey("default"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetAPIKey("default", "key-123"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	got, err := s.APIKey("default")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if got != "key-123" {
		t.Errorf("APIKey = %q", got)
	}
	if err := s.SetAPIKey(" ", "x"); err == nil {
		t.Error("blank profile accepted")
	}
}

func TestStoreFallsBackToFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: session bus not available"))
	path := filepath.Join(t.TempDir(), "secrets", "ledger.json")
	s := New("pf-slot-test", path)

	if err := s.SetAPIKey("default", "file-key"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("fallback file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("fallback mode = %o, want 600", perm)
	}

	got, err := s.APIKey("default")
	if err != nil || got != "file-key" {
		t.Fatalf("APIKey = %q, %v", got, err)
	}

	if err := s.Delete("default"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.APIKey("default"); !errors.Is(err, ErrNotFound) {
		t.Errorf("key survived Delete: %v", err)
	}
}

func TestStoreNoFallbackConfigured(t *testing.T) {
	keyring.MockInitWithError(errors.New("keyring backend not available"))
	s := New("", "")
	if err := s.SetAPIKey("default", "k"); err == nil {
		t.Error("expected error without keyring or fallback")
	}
}
