// Package autoplay spins repeatedly under a JavaScript stop strategy.
package autoplay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/play"
	"github.com/MJE43/pf-slot-go/internal/session"
)

// Why a run ended.
const (
	StoppedByScript    = "script"
	StoppedByMaxSpins  = "max_spins"
	StoppedByNoCredits = "no_credits"
	StoppedByCancel    = "cancelled"
	StoppedByError     = "error"
)

const (
	defaultLoadTimeout = 2 * time.Second
	defaultCallTimeout = time.Second
	defaultMaxSpins    = 1000
)

// Spinner plays one full spin. *play.Controller satisfies it.
type Spinner interface {
	Run(ctx context.Context, frameInterval time.Duration) (*play.SpinResult, error)
}

// Stats is what shouldStop sees after each spin.
type Stats struct {
	Spins      int    `json:"spins"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	Streak     int    `json:"streak"`
	LastScore  int64  `json:"lastScore"`
	BestScore  int64  `json:"bestScore"`
	RunScore   int64  `json:"runScore"`
	TotalScore int64  `json:"totalScore"`
	Credits    int    `json:"credits"`
	LastKind   string `json:"lastKind"`
	LastSeed   string `json:"lastSeed"`
}

func (s *Stats) record(res *play.SpinResult) {
	s.Spins++
	s.LastScore = res.Evaluation.AddedScore
	s.RunScore += res.Evaluation.AddedScore
	s.TotalScore = res.TotalScore
	s.Credits = res.Credits
	s.LastKind = string(res.Evaluation.Kind)
	s.LastSeed = res.Seed
	if res.Evaluation.AddedScore > 0 {
		s.Wins++
		if s.Streak < 0 {
			s.Streak = 0
		}
		s.Streak++
	} else {
		s.Losses++
		if s.Streak > 0 {
			s.Streak = 0
		}
		s.Streak--
	}
	s.BestScore = max(s.BestScore, res.Evaluation.AddedScore)
}

// Config controls a run.
type Config struct {
	// Script may define shouldStop(stats) and call stop(). Empty runs
	// until MaxSpins or credits run out.
	Script        string
	MaxSpins      int
	FrameInterval time.Duration
	LoadTimeout   time.Duration
	CallTimeout   time.Duration
}

// Report summarizes a finished run.
type Report struct {
	Stats     Stats              `json:"stats"`
	StoppedBy string             `json:"stoppedBy"`
	Results   []games.Evaluation `json:"results"`
	Logs      []LogEntry         `json:"logs,omitempty"`
}

// Runner drives a Spinner.
type Runner struct {
	spinner Spinner
	log     zerolog.Logger
}

// NewRunner wraps spinner.
func NewRunner(spinner Spinner, log zerolog.Logger) *Runner {
	return &Runner{spinner: spinner, log: log.With().Str("component", "autoplay").Logger()}
}

// Run spins until the script, the spin cap, the credits or ctx end it.
// Running out of seeds is a normal stop, not an error.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.MaxSpins <= 0 {
		cfg.MaxSpins = defaultMaxSpins
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	vm := NewVM()
	if cfg.Script != "" {
		if err := vm.Load(cfg.Script, cfg.LoadTimeout); err != nil {
			return nil, err
		}
		if !vm.HasShouldStop() {
			r.log.Debug().Msg("script defines no shouldStop, relying on stop() and limits")
		}
	}

	report := &Report{Results: []games.Evaluation{}}
	finish := func(by string, err error) (*Report, error) {
		report.StoppedBy = by
		report.Logs = vm.Logs()
		r.log.Info().Str("stopped_by", by).Int("spins", report.Stats.Spins).Int64("score", report.Stats.RunScore).Msg("autoplay finished")
		return report, err
	}

	for report.Stats.Spins < cfg.MaxSpins {
		if ctx.Err() != nil {
			return finish(StoppedByCancel, nil)
		}
		res, err := r.spinner.Run(ctx, cfg.FrameInterval)
		switch {
		case errors.Is(err, session.ErrNoUnusedSeed):
			return finish(StoppedByNoCredits, nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// the interrupted spin was still settled
			if res != nil {
				report.Stats.record(res)
				report.Results = append(report.Results, res.Evaluation)
			}
			return finish(StoppedByCancel, nil)
		case err != nil:
			return finish(StoppedByError, fmt.Errorf("autoplay: spin %d: %w", report.Stats.Spins+1, err))
		}
		report.Stats.record(res)
		report.Results = append(report.Results, res.Evaluation)

		stop, err := vm.ShouldStop(report.Stats, cfg.CallTimeout)
		if err != nil {
			return finish(StoppedByError, err)
		}
		if stop {
			return finish(StoppedByScript, nil)
		}
		if res.Credits == 0 {
			return finish(StoppedByNoCredits, nil)
		}
	}
	return finish(StoppedByMaxSpins, nil)
}
