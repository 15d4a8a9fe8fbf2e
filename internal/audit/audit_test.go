package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/session"
)

func newAuditor(workers int) *Auditor {
	return NewAuditor(engine.New(engine.DefaultTotalSymbols), games.NewEvaluator(games.DefaultPaytable()), workers)
}

// playedSession spends every other seed with its true score.
func playedSession(t *testing.T, n int) *session.Session {
	t.Helper()
	s := session.New("0xAUDIT")
	values := make([]string, 0, n)
	seen := map[string]bool{}
	for nonce := uint64(1); len(values) < n; nonce++ {
		v := engine.SeedValue("audit-test", "0xaudit", nonce)
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	s.Grant(session.TierFree, values[:n/2])
	s.Grant(session.TierPaid, values[n/2:])
	for i, v := range values {
		if i%2 != 0 {
			continue
		}
		out, err := engine.DeriveOutcome(v)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.MarkUsed(v, games.Evaluate(out).AddedScore); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestAuditCleanSession(t *testing.T) {
	s := playedSession(t, 1000)
	for _, workers := range []int{1, 4, 0} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			report, err := newAuditor(workers).Audit(context.Background(), s, 0)
			if err != nil {
				t.Fatal(err)
			}
			if !report.Clean() {
				t.Fatalf("clean session reported: %+v", report.Summary)
			}
			if report.Summary.TotalEvaluated != 1000 || report.Summary.Used != 500 || report.Summary.Unused != 500 {
				t.Errorf("summary = %+v", report.Summary)
			}
			if report.Summary.DerivedTotal != s.TotalScore {
				t.Errorf("derived %d, recorded %d", report.Summary.DerivedTotal, s.TotalScore)
			}
		})
	}
}

func TestAuditFindsTampering(t *testing.T) {
	s := playedSession(t, 20)
	s.Seeds[0].Score += 1000
	s.TotalScore += 1000
	s.PaidSeeds[1].Score = 7 // unused
	s.TotalScore += 50        // drift without a seed to blame

	report, err := newAuditor(2).Audit(context.Background(), s, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Clean() {
		t.Fatal("tampered session reported clean")
	}
	if report.Summary.Findings != 2 {
		t.Fatalf("findings = %+v", report.Findings)
	}
	reasons := map[string]string{}
	for _, f := range report.Findings {
		reasons[f.Seed] = f.Reason
	}
	if reasons[s.Seeds[0].Value] != ReasonScore {
		t.Errorf("score tamper reason = %q", reasons[s.Seeds[0].Value])
	}
	if reasons[s.PaidSeeds[1].Value] != ReasonUnusedSet {
		t.Errorf("unused tamper reason = %q", reasons[s.PaidSeeds[1].Value])
	}
	if report.Summary.Drift != 1050 {
		t.Errorf("drift = %d, want 1050", report.Summary.Drift)
	}
}

func TestAuditReportsMalformedSeeds(t *testing.T) {
	s := session.New("0xaudit")
	s.Grant(session.TierFree, []string{"1234567", "1000000"})
	report, err := newAuditor(1).Audit(context.Background(), s, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Reason != ReasonMalformed || report.Findings[0].Detail == "" {
		t.Errorf("findings = %+v", report.Findings)
	}
}

func TestAuditCancelled(t *testing.T) {
	s := playedSession(t, 5000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := newAuditor(4).Audit(ctx, s, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Summary.TimedOut || report.Clean() {
		t.Errorf("cancelled audit summary = %+v", report.Summary)
	}
	if report.Summary.Drift != 0 {
		t.Errorf("partial audit should not report drift, got %d", report.Summary.Drift)
	}
}

func TestAuditNilSession(t *testing.T) {
	if _, err := newAuditor(1).Audit(context.Background(), nil, 0); err == nil {
		t.Error("nil session accepted")
	}
}
