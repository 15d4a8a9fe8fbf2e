package play

import (
	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/reels"
)

// Verification is an independent re-derivation of one seed.
type Verification struct {
	Seed       string           `json:"seed"`
	Outcome    engine.Outcome   `json:"outcome"`
	Evaluation games.Evaluation `json:"evaluation"`
	Message    string           `json:"message"`
	StopTicks  [3]int           `json:"stopTicks"`

	// Set when checked against a session.
	Held          bool  `json:"held"`
	Used          bool  `json:"used"`
	RecordedScore int64 `json:"recordedScore"`
	Matches       bool  `json:"matches"`
}

// VerifySeed derives and scores seed without touching any session.
func VerifySeed(eng *engine.Engine, ev *games.Evaluator, cfg reels.Config, seed string) (Verification, error) {
	canonical, err := engine.CanonicalSeed(seed)
	if err != nil {
		return Verification{}, err
	}
	outcome, err := eng.Derive(canonical)
	if err != nil {
		return Verification{}, err
	}
	if cfg.TotalSymbols == 0 {
		cfg.TotalSymbols = eng.TotalSymbols()
	}
	stops, err := reels.StopTicks(cfg, outcome)
	if err != nil {
		return Verification{}, err
	}
	eval := ev.Evaluate(outcome)
	return Verification{
		Seed:       canonical,
		Outcome:    outcome,
		Evaluation: eval,
		Message:    eval.Message(),
		StopTicks:  stops,
	}, nil
}

// Verify re-derives seed and compares it with what the session recorded.
// Matches is true for a used seed whose stored score equals the
// re-derived one, and for any unused seed the session holds.
func (c *Controller) Verify(seed string) (Verification, error) {
	v, err := VerifySeed(c.opts.Engine, c.opts.Evaluator, c.opts.Reels, seed)
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	held, ok := c.session.Find(v.Seed)
	c.mu.Unlock()
	if !ok {
		return v, nil
	}
	v.Held = true
	v.Used = held.Used
	v.RecordedScore = held.Score
	v.Matches = !held.Used || held.Score == v.Evaluation.AddedScore
	if !v.Matches {
		c.log.Warn().Str("seed", v.Seed).Int64("recorded", held.Score).Int64("derived", v.Evaluation.AddedScore).Msg("recorded score does not match derivation")
	}
	return v, nil
}
