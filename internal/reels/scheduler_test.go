package reels

import (
	"errors"
	"testing"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

func TestSpeedProfileShape(t *testing.T) {
	for position := 0; position < 3; position++ {
		steps := DefaultTurns[position] * engine.DefaultTotalSymbols
		speeds := SpeedProfile(position, steps, engine.DefaultTotalSymbols)
		if len(speeds) != steps {
			t.Fatalf("position %d: %d speeds, want %d", position, len(speeds), steps)
		}
		if speeds[0] != (36-position*2)*2 {
			t.Errorf("position %d: initial speed %d", position, speeds[0])
		}
		for i, v := range speeds {
			if v < 1 {
				t.Fatalf("position %d: speed %d at step %d is not positive", position, v, i)
			}
			if i > 0 && v > speeds[i-1] {
				t.Fatalf("position %d: speed rises at step %d (%d -> %d)", position, i, speeds[i-1], v)
			}
		}
	}
}

func TestSpinSequenceCycles(t *testing.T) {
	seq := SpinSequence(7, 20, 9)
	if seq[0] != 7 {
		t.Fatalf("sequence starts at %d, want 7", seq[0])
	}
	for i := 1; i < len(seq); i++ {
		if seq[i] != (seq[i-1]+1)%9 {
			t.Fatalf("sequence breaks at %d: %v", i, seq)
		}
	}
}

func TestSchedulerStopsOnTarget(t *testing.T) {
	for a := 0; a < engine.DefaultTotalSymbols; a++ {
		target := engine.Outcome{a, (a + 4) % 9, (a + 8) % 9}
		s := NewScheduler(DefaultConfig())
		if s.State() != StateIdle {
			t.Fatalf("new scheduler state %s, want idle", s.State())
		}
		if err := s.Start(target); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if s.State() != StateSpinning {
			t.Fatalf("after Start state %s, want spinning", s.State())
		}
		if _, ok := s.Result(); ok {
			t.Fatal("Result available while spinning")
		}

		guard := 0
		for !s.Tick() {
			guard++
			if guard > 1_000_000 {
				t.Fatal("scheduler did not terminate")
			}
		}

		got, ok := s.Result()
		if !ok {
			t.Fatal("Result not available after stop")
		}
		if got != target {
			t.Errorf("stopped on %v, want %v", got, target)
		}
		for _, r := range s.reels {
			if r.Remaining() != 0 || r.Y() != 0 {
				t.Errorf("reel %d not fully consumed: remaining=%d y=%f", r.Position(), r.Remaining(), r.Y())
			}
			// The strip offset has run past the sequence; the shown symbol
			// must still be the target.
			if r.Offset() != len(r.sequence) {
				t.Errorf("reel %d offset %d, sequence %d", r.Position(), r.Offset(), len(r.sequence))
			}
		}
	}
}

func TestSchedulerIgnoresOffsetDrift(t *testing.T) {
	r := NewReel(3, 0, 9, 1)
	for r.State() == StateSpinning {
		r.Tick(DefaultSymbolHeight)
	}
	r.offset = 12345
	r.sequence[0] = 8
	if r.Symbol() != 3 || r.Next() != 3 {
		t.Errorf("stopped reel shows %d/%d, want 3", r.Symbol(), r.Next())
	}
}

func TestSchedulerTickAfterStopIsNoop(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	if err := s.Start(engine.Outcome{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	for !s.Tick() {
	}
	ticks := s.Ticks()
	for i := 0; i < 10; i++ {
		if !s.Tick() {
			t.Fatal("stopped scheduler reported spinning")
		}
	}
	if s.Ticks() != ticks {
		t.Errorf("ticks advanced after stop: %d -> %d", ticks, s.Ticks())
	}
}

func TestStopTicksStaggerLeftToRight(t *testing.T) {
	ticks, err := StopTicks(DefaultConfig(), engine.Outcome{0, 4, 8})
	if err != nil {
		t.Fatal(err)
	}
	if !(ticks[0] < ticks[1] && ticks[1] < ticks[2]) {
		t.Errorf("reels stopped out of order: %v", ticks)
	}
}

func TestSchedulerRejectsOffStripTarget(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	err := s.Start(engine.Outcome{0, 9, 1})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("failed Start changed state to %s", s.State())
	}
}

func TestFramesWhileSpinning(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	if len(s.Frames()) != 0 {
		t.Fatal("idle scheduler produced frames")
	}
	if err := s.Start(engine.Outcome{4, 4, 4}); err != nil {
		t.Fatal(err)
	}
	s.Tick()
	frames := s.Frames()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for _, f := range frames {
		if f.State != StateSpinning {
			t.Errorf("frame %d state %s", f.Position, f.State)
		}
		if f.Y <= 0 {
			t.Errorf("frame %d did not scroll", f.Position)
		}
	}
}
