// Package session owns a wallet's seed inventory and accumulated score.
package session

import (
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

var (
	// ErrSeedNotFound means a seed was marked used that the session does
	// not hold unused. It points at a reconciliation bug and is surfaced.
	ErrSeedNotFound = errors.New("session: seed not found")

	// ErrNoUnusedSeed means there is no credit left to spin with.
	ErrNoUnusedSeed = errors.New("session: no unused seed")

	// ErrSpinInFlight means a seed is already reserved for an unresolved spin.
	ErrSpinInFlight = errors.New("session: spin already in flight")

	// ErrPersistence wraps local save/load failures. The in-memory session
	// stays authoritative when it is returned.
	ErrPersistence = errors.New("session: persistence failure")
)

// Tier classifies how a seed was obtained.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// ParseTier maps stored tier tags onto a Tier. Unknown tags are free.
func ParseTier(s string) Tier {
	if strings.EqualFold(strings.TrimSpace(s), string(TierPaid)) {
		return TierPaid
	}
	return TierFree
}

// Seed is one ledger-issued play credit.
type Seed struct {
	Value string `json:"value"`
	Used  bool   `json:"used"`
	Score int64  `json:"score"`
	Tier  Tier   `json:"tier"`
}

// Session is a wallet's seed inventory. Seeds and PaidSeeds keep grant
// order; TotalScore is the sum of Score over used seeds.
type Session struct {
	Wallet     string `json:"wallet"`
	Seeds      []Seed `json:"seeds"`
	PaidSeeds  []Seed `json:"paidSeeds"`
	TotalScore int64  `json:"totalScore"`

	reserved string
}

// New returns an empty session for wallet.
func New(wallet string) *Session {
	return &Session{
		Wallet:    NormalizeWallet(wallet),
		Seeds:     []Seed{},
		PaidSeeds: []Seed{},
	}
}

// NormalizeWallet lowercases and trims an address so one wallet maps to
// one session regardless of checksum casing.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// Clone returns a deep copy, reservation included.
func (s *Session) Clone() *Session {
	return &Session{
		Wallet:     s.Wallet,
		Seeds:      append([]Seed{}, s.Seeds...),
		PaidSeeds:  append([]Seed{}, s.PaidSeeds...),
		TotalScore: s.TotalScore,
		reserved:   s.reserved,
	}
}

// All returns free seeds followed by paid seeds.
func (s *Session) All() []Seed {
	out := make([]Seed, 0, len(s.Seeds)+len(s.PaidSeeds))
	out = append(out, s.Seeds...)
	return append(out, s.PaidSeeds...)
}

// NextUnused returns the seed the next spin should consume: the first
// unused free seed, else the first unused paid seed.
func (s *Session) NextUnused() (Seed, bool) {
	if seed, ok := lo.Find(s.Seeds, func(x Seed) bool { return !x.Used }); ok {
		return seed, true
	}
	return lo.Find(s.PaidSeeds, func(x Seed) bool { return !x.Used })
}

// PickNextUnusedSeed is NextUnused as a free function.
func PickNextUnusedSeed(s *Session) (Seed, bool) {
	return s.NextUnused()
}

// Find looks a seed up by value in either tier.
func (s *Session) Find(value string) (Seed, bool) {
	if p := s.locate(value); p != nil {
		return *p, true
	}
	return Seed{}, false
}

func (s *Session) locate(value string) *Seed {
	for i := range s.Seeds {
		if s.Seeds[i].Value == value {
			return &s.Seeds[i]
		}
	}
	for i := range s.PaidSeeds {
		if s.PaidSeeds[i].Value == value {
			return &s.PaidSeeds[i]
		}
	}
	return nil
}

// MarkUsed records score against an unused seed and adds it to the total.
func (s *Session) MarkUsed(value string, score int64) error {
	p := s.locate(value)
	if p == nil || p.Used {
		return ErrSeedNotFound
	}
	p.Used = true
	p.Score = score
	s.TotalScore += score
	if s.reserved == value {
		s.reserved = ""
	}
	return nil
}

// Grant appends newly issued seeds to tier in the given order. Values
// already held in either tier are skipped; invalid values are returned.
func (s *Session) Grant(tier Tier, values []string) (added int, rejected []string) {
	for _, v := range values {
		canonical, err := engine.CanonicalSeed(v)
		if err != nil {
			rejected = append(rejected, v)
			continue
		}
		if s.locate(canonical) != nil {
			continue
		}
		seed := Seed{Value: canonical, Tier: tier}
		if tier == TierPaid {
			s.PaidSeeds = append(s.PaidSeeds, seed)
		} else {
			s.Seeds = append(s.Seeds, seed)
		}
		added++
	}
	return added, rejected
}

// Credits counts unused seeds across both tiers.
func (s *Session) Credits() int {
	unused := func(x Seed) bool { return !x.Used }
	return lo.CountBy(s.Seeds, unused) + lo.CountBy(s.PaidSeeds, unused)
}

// LastUsed returns the most recently consumed seed in grant order,
// scanning paid seeds after free seeds.
func (s *Session) LastUsed() (Seed, bool) {
	all := s.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Used {
			return all[i], true
		}
	}
	return Seed{}, false
}

// UsedScore sums Score over used seeds.
func (s *Session) UsedScore() int64 {
	return lo.SumBy(s.All(), func(x Seed) int64 {
		if x.Used {
			return x.Score
		}
		return 0
	})
}

// Reserved returns the value of the seed held by an unresolved spin.
func (s *Session) Reserved() (string, bool) {
	return s.reserved, s.reserved != ""
}

// Played returns the values of used seeds in grant order, free tier first.
func (s *Session) Played() []string {
	return lo.FilterMap(s.All(), func(x Seed, _ int) (string, bool) {
		return x.Value, x.Used
	})
}

// ResetPlayed drops every used seed and zeroes the score. Unused seeds keep
// their tier and order.
func (s *Session) ResetPlayed() {
	unused := func(x Seed, _ int) bool { return !x.Used }
	s.Seeds = append([]Seed{}, lo.Filter(s.Seeds, unused)...)
	s.PaidSeeds = append([]Seed{}, lo.Filter(s.PaidSeeds, unused)...)
	s.TotalScore = 0
}

// Reset empties the session.
func (s *Session) Reset() {
	s.Seeds = []Seed{}
	s.PaidSeeds = []Seed{}
	s.TotalScore = 0
	s.reserved = ""
}
