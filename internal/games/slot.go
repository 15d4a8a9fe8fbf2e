// Package games scores slot outcomes against a paytable.
package games

import (
	"fmt"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

// MatchKind classifies an evaluated outcome.
type MatchKind string

const (
	MatchTriple MatchKind = "triple"
	MatchDouble MatchKind = "double"
	MatchBonus  MatchKind = "bonus"
	MatchMiss   MatchKind = "miss"
)

// BreakdownEntry is one scoring line of an evaluation.
type BreakdownEntry struct {
	SymbolIndex int   `json:"symbol_index"`
	Base        int64 `json:"base"`
	Multiplier  int   `json:"multiplier"`
	Total       int64 `json:"total"`
	Count       int   `json:"count"`
}

// Evaluation is the score of a single outcome.
type Evaluation struct {
	Outcome    engine.Outcome   `json:"outcome"`
	AddedScore int64            `json:"added_score"`
	Breakdown  []BreakdownEntry `json:"breakdown"`
	Kind       MatchKind        `json:"kind"`
}

// Message renders the player-facing result line.
func (e Evaluation) Message() string {
	switch e.Kind {
	case MatchTriple:
		return fmt.Sprintf("Triple Match! +%d", e.AddedScore)
	case MatchDouble:
		return fmt.Sprintf("Double Match! +%d", e.AddedScore)
	case MatchBonus:
		return fmt.Sprintf("Bonus Score! +%d", e.AddedScore)
	default:
		return "Try Again!"
	}
}

// Evaluator scores outcomes. It is stateless and safe for concurrent use.
type Evaluator struct {
	table Paytable
}

// NewEvaluator returns an evaluator for table.
func NewEvaluator(table Paytable) *Evaluator {
	return &Evaluator{table: table}
}

// Paytable returns the table the evaluator scores with.
func (ev *Evaluator) Paytable() Paytable {
	return ev.table
}

// Evaluate scores outcome. Matches resolve by count first (three of a kind,
// then a pair, then distinct symbols), never by symbol value.
func (ev *Evaluator) Evaluate(outcome engine.Outcome) Evaluation {
	a, b, c := outcome[0], outcome[1], outcome[2]
	res := Evaluation{Outcome: outcome, Breakdown: []BreakdownEntry{}}

	switch {
	case a == b && b == c:
		res.add(ev.entry(a, ev.table.TripleBase, 3))
		res.Kind = MatchTriple

	case a == b || b == c || a == c:
		pair, solo := a, c
		switch {
		case a == c:
			solo = b
		case b == c:
			pair, solo = b, a
		}
		res.add(ev.entry(pair, ev.table.PairBase, 2))
		if ev.table.IsSpecial(solo) {
			res.add(ev.entry(solo, ev.table.BonusBase, 1))
		}
		res.Kind = MatchDouble

	default:
		for _, symbol := range outcome {
			if ev.table.IsSpecial(symbol) {
				res.add(ev.entry(symbol, ev.table.BonusBase, 1))
			}
		}
		res.Kind = MatchMiss
		if res.AddedScore > 0 {
			res.Kind = MatchBonus
		}
	}
	return res
}

func (ev *Evaluator) entry(symbol int, base int64, count int) BreakdownEntry {
	m := ev.table.Multiplier(symbol)
	return BreakdownEntry{
		SymbolIndex: symbol,
		Base:        base,
		Multiplier:  m,
		Total:       base * int64(m),
		Count:       count,
	}
}

func (e *Evaluation) add(entry BreakdownEntry) {
	e.Breakdown = append(e.Breakdown, entry)
	e.AddedScore += entry.Total
}

// Evaluate scores outcome with the default paytable.
func Evaluate(outcome engine.Outcome) Evaluation {
	return NewEvaluator(DefaultPaytable()).Evaluate(outcome)
}
