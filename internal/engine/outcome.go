// Package engine turns ledger-issued seeds into slot outcomes.
//
// The derivation mirrors the ledger contract digit for digit so any outcome
// can be re-checked against the chain: the seed is left-padded to seven
// decimal digits and the digits at positions 2, 4 and 6 (1-indexed) select
// one symbol per reel.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTotalSymbols is the reel strip size of the reference deployment.
const DefaultTotalSymbols = 9

// seedWidth is the padded width the ledger samples from.
const seedWidth = 7

// sampledPositions are 0-indexed offsets into the padded seed.
var sampledPositions = [3]int{1, 3, 5}

// ErrMalformedSeed is matched by every derivation failure.
var ErrMalformedSeed = errors.New("engine: malformed seed")

// Outcome holds the symbol index shown on each of the three reels.
type Outcome [3]int

// SeedError describes why a seed could not be turned into an outcome.
type SeedError struct {
	Seed   string
	Reason string
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("engine: malformed seed %q: %s", e.Seed, e.Reason)
}

// Is reports ErrMalformedSeed so callers can use errors.Is.
func (e *SeedError) Is(target error) bool {
	return target == ErrMalformedSeed
}

// Engine derives outcomes for a fixed symbol count.
type Engine struct {
	totalSymbols int
}

// New returns an engine for a strip of totalSymbols symbols.
// Non-positive values fall back to DefaultTotalSymbols.
func New(totalSymbols int) *Engine {
	if totalSymbols <= 0 {
		totalSymbols = DefaultTotalSymbols
	}
	return &Engine{totalSymbols: totalSymbols}
}

// TotalSymbols returns the strip size the engine validates against.
func (e *Engine) TotalSymbols() int {
	return e.totalSymbols
}

// Derive computes the outcome for seed. It never substitutes a random
// result: any seed the ledger could not have produced is rejected.
func (e *Engine) Derive(seed string) (Outcome, error) {
	canonical, err := CanonicalSeed(seed)
	if err != nil {
		return Outcome{}, err
	}

	padded := canonical
	if len(padded) < seedWidth {
		padded = strings.Repeat("0", seedWidth-len(padded)) + padded
	}

	var out Outcome
	for reel, pos := range sampledPositions {
		if pos >= len(padded) {
			return Outcome{}, &SeedError{Seed: seed, Reason: "too short"}
		}
		c := padded[pos]
		if c < '0' || c > '9' {
			return Outcome{}, &SeedError{Seed: seed, Reason: fmt.Sprintf("non-digit %q at position %d", c, pos+1)}
		}
		idx := int(c-'0') - 1
		if idx < 0 || idx >= e.totalSymbols {
			return Outcome{}, &SeedError{
				Seed:   seed,
				Reason: fmt.Sprintf("digit %c at position %d maps outside [0,%d]", c, pos+1, e.totalSymbols-1),
			}
		}
		out[reel] = idx
	}
	return out, nil
}

// DeriveOutcome derives with the default symbol count.
func DeriveOutcome(seed string) (Outcome, error) {
	return New(DefaultTotalSymbols).Derive(seed)
}

// CanonicalSeed validates seed as an unsigned decimal integer and strips
// leading zeros, so "0001234" and "1234" name the same seed.
func CanonicalSeed(seed string) (string, error) {
	s := strings.TrimSpace(seed)
	if s == "" {
		return "", &SeedError{Seed: seed, Reason: "empty"}
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", &SeedError{Seed: seed, Reason: fmt.Sprintf("non-digit %q", s[i])}
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	return s, nil
}
