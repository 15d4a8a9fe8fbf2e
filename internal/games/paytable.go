package games

import (
	"fmt"
	"sort"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

// Paytable configures how an outcome is scored. Symbols at or above
// SpecialThreshold earn solo bonuses; Multipliers scales every award for a
// symbol and defaults to 1 for symbols not listed.
type Paytable struct {
	TotalSymbols     int         `yaml:"total_symbols" json:"total_symbols"`
	SpecialThreshold int         `yaml:"special_threshold" json:"special_threshold"`
	Multipliers      map[int]int `yaml:"multipliers" json:"multipliers"`
	TripleBase       int64       `yaml:"triple_base" json:"triple_base"`
	PairBase         int64       `yaml:"pair_base" json:"pair_base"`
	BonusBase        int64       `yaml:"bonus_base" json:"bonus_base"`
}

// DefaultPaytable returns the reference deployment's table.
func DefaultPaytable() Paytable {
	return Paytable{
		TotalSymbols:     engine.DefaultTotalSymbols,
		SpecialThreshold: 5,
		Multipliers:      map[int]int{5: 2, 6: 3, 7: 4, 8: 5},
		TripleBase:       10000,
		PairBase:         1000,
		BonusBase:        100,
	}
}

// Multiplier returns the award multiplier for symbol.
func (p Paytable) Multiplier(symbol int) int {
	if m, ok := p.Multipliers[symbol]; ok && m > 0 {
		return m
	}
	return 1
}

// IsSpecial reports whether symbol earns a solo bonus.
func (p Paytable) IsSpecial(symbol int) bool {
	return symbol >= p.SpecialThreshold
}

// SpecialSymbols lists the special symbol indices in ascending order.
func (p Paytable) SpecialSymbols() []int {
	var out []int
	for s := p.SpecialThreshold; s < p.TotalSymbols; s++ {
		if s >= 0 {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the table is usable for TotalSymbols.
func (p Paytable) Validate() error {
	if p.TotalSymbols <= 0 || p.TotalSymbols > 9 {
		return fmt.Errorf("games: total_symbols must be in 1..9, got %d", p.TotalSymbols)
	}
	if p.SpecialThreshold < 0 {
		return fmt.Errorf("games: special_threshold must not be negative, got %d", p.SpecialThreshold)
	}
	if p.TripleBase < 0 || p.PairBase < 0 || p.BonusBase < 0 {
		return fmt.Errorf("games: base awards must not be negative")
	}

	keys := make([]int, 0, len(p.Multipliers))
	for k := range p.Multipliers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if k < 0 || k >= p.TotalSymbols {
			return fmt.Errorf("games: multiplier for symbol %d outside strip of %d", k, p.TotalSymbols)
		}
		if p.Multipliers[k] < 1 {
			return fmt.Errorf("games: multiplier for symbol %d must be >= 1, got %d", k, p.Multipliers[k])
		}
	}
	return nil
}
