// Package audit re-derives every seed in a session and reports where the
// recorded scores disagree with the outcomes the seeds produce.
package audit

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/session"
)

// Reasons a seed is reported.
const (
	ReasonScore     = "score_mismatch"
	ReasonMalformed = "malformed_seed"
	ReasonUnusedSet = "unused_with_score"
)

// Finding is one seed whose stored state disagrees with its derivation.
type Finding struct {
	Seed     string         `json:"seed"`
	Tier     session.Tier   `json:"tier"`
	Used     bool           `json:"used"`
	Recorded int64          `json:"recorded"`
	Derived  int64          `json:"derived"`
	Outcome  engine.Outcome `json:"outcome"`
	Reason   string         `json:"reason"`
	Detail   string         `json:"detail,omitempty"`
}

// Summary aggregates an audit.
type Summary struct {
	TotalEvaluated uint64 `json:"total_evaluated"`
	Used           int    `json:"used"`
	Unused         int    `json:"unused"`
	Findings       int    `json:"findings"`
	// RecordedTotal is the session's running total.
	RecordedTotal int64 `json:"recorded_total"`
	// DerivedTotal sums re-derived scores over used seeds.
	DerivedTotal int64 `json:"derived_total"`
	Drift        int64 `json:"drift"`
	TimedOut     bool  `json:"timed_out,omitempty"`
}

// Report is the result of auditing one session.
type Report struct {
	Wallet   string    `json:"wallet"`
	Findings []Finding `json:"findings"`
	Summary  Summary   `json:"summary"`
}

// Clean reports whether nothing disagreed.
func (r *Report) Clean() bool {
	return len(r.Findings) == 0 && r.Summary.Drift == 0 && !r.Summary.TimedOut
}

type job struct {
	start, end int
}

type check struct {
	index   int
	outcome engine.Outcome
	derived int64
	err     error
}

// Auditor fans seed checks out over a worker pool.
type Auditor struct {
	engine      *engine.Engine
	evaluator   *games.Evaluator
	workerCount int
	batchSize   int
}

// NewAuditor creates an auditor. workers <= 0 uses GOMAXPROCS.
func NewAuditor(eng *engine.Engine, ev *games.Evaluator, workers int) *Auditor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Auditor{
		engine:      eng,
		evaluator:   ev,
		workerCount: workers,
		batchSize:   256,
	}
}

// Audit checks every seed in s. A timeout of zero waits for all seeds;
// otherwise the report covers what was evaluated before the deadline.
func (a *Auditor) Audit(ctx context.Context, s *session.Session, timeout time.Duration) (*Report, error) {
	if s == nil {
		return nil, errors.New("audit: nil session")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	seeds := s.All()
	jobs := make(chan job, a.workerCount*2)
	checks := make(chan check, a.batchSize)
	var evaluated uint64
	var wg sync.WaitGroup

	for i := 0; i < a.workerCount; i++ {
		wg.Add(1)
		go a.work(ctx, &wg, seeds, jobs, checks, &evaluated)
	}
	go a.generateJobs(ctx, jobs, len(seeds))
	go func() {
		wg.Wait()
		close(checks)
	}()

	results := make([]*check, len(seeds))
	received := 0
	for c := range checks {
		results[c.index] = &c
		received++
	}

	report := &Report{Wallet: s.Wallet, Findings: []Finding{}}
	report.Summary.TotalEvaluated = atomic.LoadUint64(&evaluated)
	report.Summary.TimedOut = received < len(seeds)
	report.Summary.RecordedTotal = s.TotalScore
	report.Summary.Used = lo.CountBy(seeds, func(x session.Seed) bool { return x.Used })
	report.Summary.Unused = len(seeds) - report.Summary.Used

	for i, c := range results {
		if c == nil {
			continue
		}
		if f, ok := classify(seeds[i], c); ok {
			report.Findings = append(report.Findings, f)
		}
		if seeds[i].Used && c.err == nil {
			report.Summary.DerivedTotal += c.derived
		}
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Reason < report.Findings[j].Reason
	})
	report.Summary.Findings = len(report.Findings)
	if !report.Summary.TimedOut {
		report.Summary.Drift = report.Summary.RecordedTotal - report.Summary.DerivedTotal
	}
	return report, nil
}

func classify(seed session.Seed, c *check) (Finding, bool) {
	f := Finding{
		Seed:     seed.Value,
		Tier:     seed.Tier,
		Used:     seed.Used,
		Recorded: seed.Score,
		Derived:  c.derived,
		Outcome:  c.outcome,
	}
	switch {
	case c.err != nil:
		f.Reason = ReasonMalformed
		f.Detail = c.err.Error()
		return f, true
	case seed.Used && seed.Score != c.derived:
		f.Reason = ReasonScore
		return f, true
	case !seed.Used && seed.Score != 0:
		f.Reason = ReasonUnusedSet
		return f, true
	}
	return Finding{}, false
}

func (a *Auditor) work(ctx context.Context, wg *sync.WaitGroup, seeds []session.Seed, jobs <-chan job, out chan<- check, evaluated *uint64) {
	defer wg.Done()
	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				return
			}
			for i := j.start; i < j.end; i++ {
				if ctx.Err() != nil {
					return
				}
				c := check{index: i}
				c.outcome, c.err = a.engine.Derive(seeds[i].Value)
				if c.err == nil {
					c.derived = a.evaluator.Evaluate(c.outcome).AddedScore
				}
				atomic.AddUint64(evaluated, 1)
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Auditor) generateJobs(ctx context.Context, jobs chan<- job, n int) {
	defer close(jobs)
	for start := 0; start < n; start += a.batchSize {
		end := min(start+a.batchSize, n)
		select {
		case jobs <- job{start: start, end: end}:
		case <-ctx.Done():
			return
		}
	}
}
