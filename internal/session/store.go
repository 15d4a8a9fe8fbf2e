package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrKeyNotFound is returned by a KV when nothing is stored under a key.
var ErrKeyNotFound = errors.New("session: key not found")

// KV is the durable byte store sessions are saved to.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Key returns the storage key for a wallet's session.
func Key(wallet string) string {
	return "slot_session_" + NormalizeWallet(wallet)
}

// Store loads, persists and mutates sessions. Callers serialize access to
// a given session; Store itself only guards its own bookkeeping.
type Store struct {
	kv  KV
	log zerolog.Logger

	mu    sync.Mutex
	dirty map[string]bool
}

// NewStore wraps kv.
func NewStore(kv KV, log zerolog.Logger) *Store {
	return &Store{
		kv:    kv,
		log:   log.With().Str("component", "session").Logger(),
		dirty: make(map[string]bool),
	}
}

// Load returns the wallet's session. A missing record yields an empty
// session. A corrupt record is logged and also yields an empty session.
func (st *Store) Load(ctx context.Context, wallet string) (*Session, error) {
	wallet = NormalizeWallet(wallet)
	data, err := st.kv.Get(ctx, Key(wallet))
	if errors.Is(err, ErrKeyNotFound) {
		return New(wallet), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrPersistence, wallet, err)
	}

	s, warnings, err := Decode(wallet, data)
	if err != nil {
		st.log.Warn().Err(err).Str("wallet", wallet).Msg("discarding unreadable session record")
		return New(wallet), nil
	}
	for _, w := range warnings {
		st.log.Warn().Str("wallet", wallet).Msg(w)
	}
	return s, nil
}

// Save writes s. On failure the session is flagged dirty so a later save
// can retry; the in-memory copy stays authoritative.
func (st *Store) Save(ctx context.Context, s *Session) error {
	data, err := Encode(s)
	if err == nil {
		err = st.kv.Put(ctx, Key(s.Wallet), data)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		st.dirty[s.Wallet] = true
		return fmt.Errorf("%w: save %s: %v", ErrPersistence, s.Wallet, err)
	}
	delete(st.dirty, s.Wallet)
	return nil
}

// Dirty reports whether the last save for wallet failed.
func (st *Store) Dirty(wallet string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dirty[NormalizeWallet(wallet)]
}

// Reserve holds the next unused seed for a spin. Only one seed can be
// reserved per session at a time.
func (st *Store) Reserve(s *Session) (Seed, error) {
	if _, held := s.Reserved(); held {
		return Seed{}, ErrSpinInFlight
	}
	seed, ok := s.NextUnused()
	if !ok {
		return Seed{}, ErrNoUnusedSeed
	}
	s.reserved = seed.Value
	return seed, nil
}

// Release drops a reservation without consuming the seed.
func (st *Store) Release(s *Session, value string) {
	if s.reserved == value {
		s.reserved = ""
	}
}

// MarkUsed records a spin result and persists the session. When only the
// save fails the mutation is kept and an ErrPersistence error returned.
func (st *Store) MarkUsed(ctx context.Context, s *Session, value string, score int64) error {
	if err := s.MarkUsed(value, score); err != nil {
		st.log.Error().Str("wallet", s.Wallet).Str("seed", value).Msg("mark used on unknown or spent seed")
		return fmt.Errorf("%w: %s", err, value)
	}
	return st.Save(ctx, s)
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
