// Package reels schedules the spin animation toward a fixed outcome.
//
// A reel's visual path is cosmetic: the strip and speed profile only decide
// how long it spins and what scrolls past. Once a reel stops it reports the
// target symbol it was created with, never the strip position it ended on.
package reels

// State is a reel's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateSpinning State = "spinning"
	StateStopped  State = "stopped"
)

// Reel animates one column toward finalIndex.
type Reel struct {
	position   int
	sequence   []int
	speeds     []int
	offset     int
	y          float64
	finalIndex int
	state      State
}

// NewReel builds a spinning reel for position that will stop on finalIndex
// after turns full revolutions of a totalSymbols strip.
func NewReel(finalIndex, position, totalSymbols, turns int) *Reel {
	steps := turns * totalSymbols
	return &Reel{
		position:   position,
		sequence:   SpinSequence(finalIndex, steps, totalSymbols),
		speeds:     SpeedProfile(position, steps, totalSymbols),
		finalIndex: finalIndex,
		state:      StateSpinning,
	}
}

// SpinSequence returns steps symbols starting at start and cycling through
// the strip.
func SpinSequence(start, steps, totalSymbols int) []int {
	seq := make([]int, steps)
	current := start
	for i := range seq {
		seq[i] = current
		current = (current + 1) % totalSymbols
	}
	return seq
}

// SpeedProfile returns the per-step scroll speeds for a reel. Speed starts
// higher for left reels, drops by one every fourth step while above 5 and
// by two over the last totalSymbols steps, never below 1. The result is
// non-increasing.
func SpeedProfile(position, steps, totalSymbols int) []int {
	speed := (36 - position*2) * 2
	if speed < 1 {
		speed = 1
	}
	speeds := make([]int, 0, steps)
	for s := 0; s < steps; s++ {
		speeds = append(speeds, speed)
		if s%4 == 0 && speed > 5 {
			speed--
		} else if s >= steps-totalSymbols && speed > 1 {
			speed = max(1, speed-2)
		}
	}
	return speeds
}

// Tick advances the reel by one frame. A step completes when y crosses
// symbolHeight; the reel stops when its profile is exhausted.
func (r *Reel) Tick(symbolHeight float64) {
	if r.state != StateSpinning {
		return
	}
	if len(r.speeds) == 0 {
		r.stop()
		return
	}

	r.y += float64(r.speeds[0])
	if r.y >= symbolHeight {
		r.y -= symbolHeight
		r.offset++
		r.speeds = r.speeds[1:]
		if len(r.speeds) == 0 {
			r.stop()
		}
	}
}

func (r *Reel) stop() {
	r.y = 0
	r.state = StateStopped
}

// State returns the reel's lifecycle state.
func (r *Reel) State() State { return r.state }

// Position returns the reel's column, 0 for leftmost.
func (r *Reel) Position() int { return r.position }

// FinalIndex is the symbol the reel will show once stopped.
func (r *Reel) FinalIndex() int { return r.finalIndex }

// Offset returns how many steps the reel has completed.
func (r *Reel) Offset() int { return r.offset }

// Y returns the sub-step scroll position.
func (r *Reel) Y() float64 { return r.y }

// Remaining returns the number of steps left in the speed profile.
func (r *Reel) Remaining() int { return len(r.speeds) }

// Symbol returns the symbol to draw in the window. Stopped reels always
// report FinalIndex.
func (r *Reel) Symbol() int {
	if r.state == StateStopped || len(r.sequence) == 0 {
		return r.finalIndex
	}
	return r.sequence[r.offset%len(r.sequence)]
}

// Next returns the symbol scrolling in above Symbol.
func (r *Reel) Next() int {
	if r.state == StateStopped || len(r.sequence) == 0 {
		return r.finalIndex
	}
	return r.sequence[(r.offset+1)%len(r.sequence)]
}
