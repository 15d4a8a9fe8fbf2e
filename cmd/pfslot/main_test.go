package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MJE43/pf-slot-go/internal/play"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVerifyWithoutWallet(t *testing.T) {
	t.Setenv("PFSLOT_WALLET", "")
	out, err := run(t, "verify", "0111111")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var got []play.Verification
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 1 || got[0].Evaluation.AddedScore != 10000 {
		t.Errorf("verification = %+v", got)
	}
	if got[0].Held {
		t.Error("no session was consulted")
	}

	if _, err := run(t, "verify", "1000000"); err == nil {
		t.Error("malformed seed verified")
	}
}

func TestSimulatedSessionAcrossCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	base := []string{"--simulate", "--wallet", "0xABCDEF0000000000000000000000000000000001", "--db", db}

	for i, want := range []int{10, 20} {
		out, err := run(t, append(base, "free")...)
		if err != nil {
			t.Fatalf("free #%d: %v", i+1, err)
		}
		var grant play.GrantResult
		if err := json.Unmarshal([]byte(out), &grant); err != nil {
			t.Fatalf("decode grant %q: %v", out, err)
		}
		// each process sees the ledger state left by the previous one
		if grant.Added != 10 || grant.Credits != want {
			t.Errorf("free #%d = %+v, want 10 added, %d credits", i+1, grant, want)
		}
	}

	out, err := run(t, append(base, "spin", "--count", "20")...)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	var spins []play.SpinResult
	if err := json.Unmarshal([]byte(out), &spins); err != nil {
		t.Fatalf("decode spins %q: %v", out, err)
	}
	if len(spins) != 20 {
		t.Fatalf("spins = %d", len(spins))
	}
	total := spins[len(spins)-1].TotalScore

	out, err = run(t, append(base, "history", "--csv")...)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 21 {
		t.Errorf("csv lines = %d, want header + 20:\n%s", lines, out)
	}

	if _, err := run(t, append(base, "audit")...); err != nil {
		t.Errorf("audit of played session: %v", err)
	}

	out, err = run(t, append(base, "claim")...)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	var claim play.ClaimResult
	if err := json.Unmarshal([]byte(out), &claim); err != nil {
		t.Fatalf("decode claim %q: %v", out, err)
	}
	if claim.LocalScore != total || claim.ClaimedScore != total {
		t.Errorf("claim = %+v, want %d", claim, total)
	}
}

func TestSpinRequiresWallet(t *testing.T) {
	t.Setenv("PFSLOT_WALLET", "")
	_, err := run(t, "--simulate", "--db", filepath.Join(t.TempDir(), "x.db"), "spin")
	if err == nil || !strings.Contains(err.Error(), "wallet is required") {
		t.Errorf("err = %v", err)
	}
}

func TestResolveDBPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	abs := filepath.Join(t.TempDir(), "a.db")
	for _, p := range []string{":memory:", abs, filepath.Join("data", "a.db")} {
		got, err := resolveDBPath(p)
		if err != nil || got != p {
			t.Errorf("resolveDBPath(%q) = %q, %v", p, got, err)
		}
	}

	got, err := resolveDBPath("pfslot.db")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(got) != appDataDir() {
		t.Errorf("bare name resolved to %q, want under %q", got, appDataDir())
	}
}
