package reels

import (
	"errors"
	"fmt"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

// DefaultSymbolHeight is the pixel height of one symbol cell.
const DefaultSymbolHeight = 150.0

// DefaultTurns staggers reel stops left to right.
var DefaultTurns = [3]int{4, 5, 6}

// ErrInvalidTarget is returned when a target index is off the strip.
var ErrInvalidTarget = errors.New("reels: target index outside strip")

// Config sizes the animation.
type Config struct {
	TotalSymbols int
	SymbolHeight float64
	Turns        [3]int
}

// DefaultConfig returns the reference animation settings.
func DefaultConfig() Config {
	return Config{
		TotalSymbols: engine.DefaultTotalSymbols,
		SymbolHeight: DefaultSymbolHeight,
		Turns:        DefaultTurns,
	}
}

// Frame is a renderable snapshot of one reel.
type Frame struct {
	Position  int     `json:"position"`
	State     State   `json:"state"`
	Symbol    int     `json:"symbol"`
	Next      int     `json:"next"`
	Y         float64 `json:"y"`
	Remaining int     `json:"remaining"`
}

// Scheduler drives three reels on an external tick.
type Scheduler struct {
	cfg   Config
	reels [3]*Reel
	ticks int
}

// NewScheduler creates an idle scheduler.
func NewScheduler(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.TotalSymbols <= 0 {
		cfg.TotalSymbols = def.TotalSymbols
	}
	if cfg.SymbolHeight <= 0 {
		cfg.SymbolHeight = def.SymbolHeight
	}
	for i, t := range cfg.Turns {
		if t <= 0 {
			cfg.Turns[i] = def.Turns[i]
		}
	}
	return &Scheduler{cfg: cfg}
}

// Start builds fresh reels aimed at target. It replaces any reels in
// progress; guarding against re-entrant spins is the caller's job.
func (s *Scheduler) Start(target engine.Outcome) error {
	for i, idx := range target {
		if idx < 0 || idx >= s.cfg.TotalSymbols {
			return fmt.Errorf("%w: reel %d target %d, strip has %d", ErrInvalidTarget, i, idx, s.cfg.TotalSymbols)
		}
	}
	for i := range s.reels {
		s.reels[i] = NewReel(target[i], i, s.cfg.TotalSymbols, s.cfg.Turns[i])
	}
	s.ticks = 0
	return nil
}

// Tick advances every spinning reel by one frame and reports whether the
// spin has finished.
func (s *Scheduler) Tick() bool {
	if s.State() != StateSpinning {
		return s.Done()
	}
	for _, r := range s.reels {
		r.Tick(s.cfg.SymbolHeight)
	}
	s.ticks++
	return s.Done()
}

// Ticks returns how many frames the current spin has run.
func (s *Scheduler) Ticks() int { return s.ticks }

// State aggregates the reels: idle before the first Start, spinning while
// any reel has steps left, stopped once all are exhausted.
func (s *Scheduler) State() State {
	if s.reels[0] == nil {
		return StateIdle
	}
	for _, r := range s.reels {
		if r.State() == StateSpinning {
			return StateSpinning
		}
	}
	return StateStopped
}

// Done reports whether every reel has stopped.
func (s *Scheduler) Done() bool {
	return s.State() == StateStopped
}

// Result returns the stopped outcome. ok is false until all reels stop.
func (s *Scheduler) Result() (engine.Outcome, bool) {
	if !s.Done() {
		return engine.Outcome{}, false
	}
	var out engine.Outcome
	for i, r := range s.reels {
		out[i] = r.Symbol()
	}
	return out, true
}

// Frames snapshots the reels for rendering.
func (s *Scheduler) Frames() []Frame {
	frames := make([]Frame, 0, len(s.reels))
	for _, r := range s.reels {
		if r == nil {
			continue
		}
		frames = append(frames, Frame{
			Position:  r.Position(),
			State:     r.State(),
			Symbol:    r.Symbol(),
			Next:      r.Next(),
			Y:         r.Y(),
			Remaining: r.Remaining(),
		})
	}
	return frames
}

// StopTicks simulates a full spin and returns the tick on which each reel
// stopped.
func StopTicks(cfg Config, target engine.Outcome) ([3]int, error) {
	s := NewScheduler(cfg)
	if err := s.Start(target); err != nil {
		return [3]int{}, err
	}
	var stopped [3]int
	for !s.Done() {
		s.Tick()
		for i, r := range s.reels {
			if stopped[i] == 0 && r.State() == StateStopped {
				stopped[i] = s.ticks
			}
		}
	}
	return stopped, nil
}
