// Package reconcile merges the ledger's unclaimed seeds into a local
// session.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/session"
)

// Result reports what a merge changed.
type Result struct {
	Added    []string `json:"added"`
	Rejected []string `json:"rejected,omitempty"`
}

// Reconcile returns local extended with every ledger value it does not
// already hold, appended to the free tier as unused seeds in ledger order.
// Local seeds are never dropped and never lose used state. Values that are
// not decimal integers are rejected. Reconciling twice with the same
// ledger view changes nothing the second time.
func Reconcile(local *session.Session, unclaimed []string) (*session.Session, Result) {
	merged := local.Clone()

	known := make(map[string]bool, len(merged.Seeds)+len(merged.PaidSeeds))
	for _, s := range merged.All() {
		known[s.Value] = true
	}

	var res Result
	for _, raw := range unclaimed {
		value, err := engine.CanonicalSeed(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, raw)
			continue
		}
		if known[value] {
			continue
		}
		known[value] = true
		merged.Seeds = append(merged.Seeds, session.Seed{Value: value, Tier: session.TierFree})
		res.Added = append(res.Added, value)
	}
	merged.TotalScore = merged.UsedScore()
	return merged, res
}

// Service syncs stored sessions with the ledger.
type Service struct {
	store  *session.Store
	ledger ledger.Ledger
	policy ledger.Policy
	log    zerolog.Logger
}

// NewService wires a reconciliation service.
func NewService(store *session.Store, l ledger.Ledger, policy ledger.Policy, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: l,
		policy: policy,
		log:    log.With().Str("component", "reconcile").Logger(),
	}
}

// Sync loads wallet's session, fetches its unclaimed seeds and saves the
// merge. On a ledger failure the untouched local session is returned
// together with the error.
func (s *Service) Sync(ctx context.Context, wallet string) (*session.Session, Result, error) {
	local, err := s.store.Load(ctx, wallet)
	if err != nil {
		return nil, Result{}, err
	}
	merged, res, err := s.SyncSession(ctx, local)
	if err != nil {
		return local, res, err
	}
	return merged, res, nil
}

// Fetch returns wallet's unclaimed seeds, retrying throttled reads.
func (s *Service) Fetch(ctx context.Context, wallet string) ([]string, error) {
	var unclaimed []string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		unclaimed, err = s.ledger.GetUnclaimedSeeds(ctx, wallet)
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("wallet", wallet).Msg("ledger unavailable, keeping local session")
		return nil, fmt.Errorf("reconcile: fetch unclaimed: %w", err)
	}
	return unclaimed, nil
}

// SyncSession reconciles an already loaded session. local is not mutated.
func (s *Service) SyncSession(ctx context.Context, local *session.Session) (*session.Session, Result, error) {
	unclaimed, err := s.Fetch(ctx, local.Wallet)
	if err != nil {
		return local, Result{}, err
	}
	return s.Apply(ctx, local, unclaimed)
}

// Apply merges unclaimed into local and saves the result when anything
// was added.
func (s *Service) Apply(ctx context.Context, local *session.Session, unclaimed []string) (*session.Session, Result, error) {
	merged, res := Reconcile(local, unclaimed)
	for _, r := range res.Rejected {
		s.log.Warn().Str("wallet", local.Wallet).Str("value", r).Msg("ledger returned malformed seed")
	}
	if len(res.Added) == 0 {
		s.log.Debug().Str("wallet", local.Wallet).Msg("session already in sync")
		return merged, res, nil
	}

	s.log.Info().Str("wallet", local.Wallet).Int("added", len(res.Added)).Msg("restored seeds from ledger")
	if err := s.store.Save(ctx, merged); err != nil {
		// The merge stands in memory; the next mutation retries the save.
		s.log.Error().Err(err).Str("wallet", local.Wallet).Msg("save after reconcile failed")
		return merged, res, err
	}
	return merged, res, nil
}
