package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MJE43/pf-slot-go/internal/audit"
	"github.com/MJE43/pf-slot-go/internal/config"
	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/play"
	"github.com/MJE43/pf-slot-go/internal/session"
	"github.com/MJE43/pf-slot-go/internal/store"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

type testEnv struct {
	handler http.Handler
	sim     *ledger.Simulator
	ctrl    *play.Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Server.RequestTimeout = 10 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := session.NewStore(db, zerolog.Nop())
	sim := ledger.NewSimulator(ledger.SimulatorConfig{ChainID: cfg.Ledger.ChainID, ServerSeed: "api-test"})
	eng := engine.New(cfg.Game.Paytable.TotalSymbols)
	ev := games.NewEvaluator(cfg.Game.Paytable)
	ctrl, err := play.New(ctx, testWallet, play.Options{
		Engine:    eng,
		Evaluator: ev,
		Reels:     cfg.Game.Reels(),
		Store:     sessions,
		Ledger:    sim,
		Policy:    ledger.Policy{Attempts: 3, Base: time.Millisecond, MaxDelay: time.Millisecond, Timeout: time.Second},
		History:   db,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("play.New: %v", err)
	}
	srv := NewServer(Options{
		Config:     cfg,
		Controller: ctrl,
		Store:      sessions,
		Ledger:     sim,
		History:    db,
		Auditor:    audit.NewAuditor(eng, ev, 2),
		Logger:     zerolog.Nop(),
	})
	return &testEnv{handler: srv.Routes(), sim: sim, ctrl: ctrl}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[HealthCheckResponse](t, w)
	if resp.Status != HealthStatusHealthy || resp.Wallet != testWallet {
		t.Errorf("health = %+v", resp)
	}
	if resp.Checks["history"].Status != HealthStatusHealthy {
		t.Errorf("history check = %+v", resp.Checks["history"])
	}

	env.sim.FailNext(&ledger.HTTPError{StatusCode: 502, Body: "bad gateway"})
	w = env.do(t, http.MethodGet, "/health/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with ledger down = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/health/live", nil)
	if w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
}

func TestSpinWithoutCredits(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/spin", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	apiErr := decode[APIError](t, w)
	if apiErr.Type != ErrTypeNoCredits || apiErr.RequestID == "" {
		t.Errorf("error = %+v", apiErr)
	}
	if w.Header().Get("X-Error-Category") != string(CategorySession) {
		t.Errorf("category header = %q", w.Header().Get("X-Error-Category"))
	}
}

func TestPlayFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/seeds/free", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("free seeds = %d: %s", w.Code, w.Body)
	}
	grant := decode[play.GrantResult](t, w)
	if grant.Added != 10 || grant.Credits != 10 {
		t.Errorf("grant = %+v", grant)
	}

	w = env.do(t, http.MethodPost, "/api/v1/seeds/buy/small", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("buy = %d: %s", w.Code, w.Body)
	}
	if paid := decode[play.GrantResult](t, w); paid.Added != 20 || paid.Credits != 30 {
		t.Errorf("paid = %+v", paid)
	}

	w = env.do(t, http.MethodPost, "/api/v1/spin", SpinRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("spin = %d: %s", w.Code, w.Body)
	}
	spin := decode[play.SpinResult](t, w)
	if spin.Tier != session.TierFree || spin.Credits != 29 {
		t.Errorf("spin = %+v", spin)
	}

	w = env.do(t, http.MethodGet, "/api/v1/session", nil)
	sess := decode[SessionResponse](t, w)
	if sess.Credits != 29 || sess.TotalScore != spin.TotalScore || sess.Spinning || sess.Dirty {
		t.Errorf("session = %+v", sess)
	}

	w = env.do(t, http.MethodGet, "/api/v1/verify/"+spin.Seed, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify = %d: %s", w.Code, w.Body)
	}
	if v := decode[play.Verification](t, w); !v.Matches || !v.Used || v.Outcome != spin.Outcome {
		t.Errorf("verification = %+v", v)
	}

	w = env.do(t, http.MethodGet, "/api/v1/history?page=1&per_page=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d: %s", w.Code, w.Body)
	}
	page := decode[store.SpinsPage](t, w)
	if page.TotalCount != 1 || len(page.Spins) != 1 || page.Spins[0].Seed != spin.Seed {
		t.Errorf("history = %+v", page)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit", nil)
	if report := decode[audit.Report](t, w); !report.Clean() || report.Summary.Used != 1 {
		t.Errorf("audit = %+v", report)
	}

	w = env.do(t, http.MethodPost, "/api/v1/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d: %s", w.Code, w.Body)
	}
}

func TestClaimFlow(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/claim", nil); w.Code != http.StatusConflict {
		t.Fatalf("claim on empty session = %d", w.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/seeds/free", nil)
	var total int64
	for total == 0 {
		w := env.do(t, http.MethodPost, "/api/v1/spin", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("spin = %d: %s", w.Code, w.Body)
		}
		total = decode[play.SpinResult](t, w).TotalScore
	}

	w := env.do(t, http.MethodPost, "/api/v1/claim", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("claim = %d: %s", w.Code, w.Body)
	}
	if claim := decode[play.ClaimResult](t, w); claim.ClaimedScore != total {
		t.Errorf("claim = %+v, want %d", claim, total)
	}
	if s := env.ctrl.Session(); s.TotalScore != 0 {
		t.Errorf("session not reset: %+v", s)
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct {
		method, path string
		body         any
		status       int
		errType      string
	}{
		{http.MethodPost, "/api/v1/seeds/buy/gigantic", nil, http.StatusNotFound, ErrTypeBundleNotFound},
		{http.MethodGet, "/api/v1/verify/12ab", nil, http.StatusUnprocessableEntity, ErrTypeInvalidSeed},
		{http.MethodGet, "/api/v1/history?page=0", nil, http.StatusBadRequest, ErrTypeValidation},
		{http.MethodPost, "/api/v1/spin", map[string]int{"frame_interval_ms": -1}, http.StatusBadRequest, ErrTypeValidation},
		{http.MethodPost, "/api/v1/spin", map[string]string{"unknown": "x"}, http.StatusBadRequest, ErrTypeValidation},
		{http.MethodPost, "/api/v1/autoplay", AutoplayRequest{Script: "shouldStop = function( {"}, http.StatusBadRequest, ErrTypeValidation},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := env.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.status, w.Body)
			}
			if apiErr := decode[APIError](t, w); apiErr.Type != tc.errType {
				t.Errorf("type = %q, want %q", apiErr.Type, tc.errType)
			}
		})
	}
}

func TestAutoplayEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/seeds/free", nil)
	w := env.do(t, http.MethodPost, "/api/v1/autoplay", AutoplayRequest{
		Script: `shouldStop = function(s) { return s.spins >= 4 }`,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("autoplay = %d: %s", w.Code, w.Body)
	}
	var report struct {
		StoppedBy string `json:"stoppedBy"`
		Stats     struct {
			Spins   int `json:"spins"`
			Credits int `json:"credits"`
		} `json:"stats"`
	}
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.StoppedBy != "script" || report.Stats.Spins != 4 || report.Stats.Credits != 6 {
		t.Errorf("report = %+v", report)
	}
}

func TestTokenRequired(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) { c.Server.Token = "s3cret" })

	w := env.do(t, http.MethodGet, "/api/v1/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without token = %d", w.Code)
	}
	if got := w.Header().Get("X-Error-Type"); got != ErrTypeUnauthorized {
		t.Errorf("X-Error-Type = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set(TokenHeader, "s3cret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token = %d: %s", rec.Code, rec.Body)
	}

	// health stays open for probes
	if w := env.do(t, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
}

func TestHistoryExport(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/v1/seeds/free", nil); w.Code != http.StatusOK {
		t.Fatalf("free = %d: %s", w.Code, w.Body)
	}
	for range 3 {
		if w := env.do(t, http.MethodPost, "/api/v1/spin", nil); w.Code != http.StatusOK {
			t.Fatalf("spin = %d: %s", w.Code, w.Body)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/history/export.csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if rows[0][0] != "id" || rows[0][8] != "score" {
		t.Errorf("header = %v", rows[0])
	}
}
