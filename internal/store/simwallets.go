package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MJE43/pf-slot-go/internal/ledger"
)

var _ ledger.SimulatorStore = (*SQLiteDB)(nil)

// LoadSimWallet implements ledger.SimulatorStore.
func (s *SQLiteDB) LoadSimWallet(ctx context.Context, wallet string) (*ledger.SimWallet, error) {
	var (
		w                  ledger.SimWallet
		unclaimed, claimed string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT nonce, unclaimed, claimed FROM sim_wallets WHERE wallet=?`,
		strings.ToLower(strings.TrimSpace(wallet)),
	).Scan(&w.Nonce, &unclaimed, &claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load sim wallet: %w", err)
	}
	if err := json.Unmarshal([]byte(unclaimed), &w.Unclaimed); err != nil {
		return nil, fmt.Errorf("store: sim wallet unclaimed: %w", err)
	}
	if err := json.Unmarshal([]byte(claimed), &w.Claimed); err != nil {
		return nil, fmt.Errorf("store: sim wallet claimed: %w", err)
	}
	return &w, nil
}

// SaveSimWallet implements ledger.SimulatorStore.
func (s *SQLiteDB) SaveSimWallet(ctx context.Context, wallet string, w ledger.SimWallet) error {
	if w.Unclaimed == nil {
		w.Unclaimed = []string{}
	}
	if w.Claimed == nil {
		w.Claimed = []string{}
	}
	unclaimed, err := json.Marshal(w.Unclaimed)
	if err != nil {
		return err
	}
	claimed, err := json.Marshal(w.Claimed)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sim_wallets(wallet, nonce, unclaimed, claimed, updated_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(wallet) DO UPDATE SET
			nonce=excluded.nonce, unclaimed=excluded.unclaimed,
			claimed=excluded.claimed, updated_at=excluded.updated_at`,
		strings.ToLower(strings.TrimSpace(wallet)), w.Nonce, string(unclaimed), string(claimed), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save sim wallet: %w", err)
	}
	return nil
}
