package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
)

// SimulatorConfig tunes the in-process ledger.
type SimulatorConfig struct {
	ChainID    int64
	ServerSeed string
	// FreeGrant is the number of seeds per free request.
	FreeGrant int
	// ConfirmAfter is how many GetReceipt polls return pending first.
	ConfirmAfter int
	Paytable     games.Paytable
	// Store keeps wallet state across processes. Nil keeps it in memory.
	Store SimulatorStore
}

// SimWallet is the persisted state of one simulated wallet.
type SimWallet struct {
	Nonce     uint64   `json:"nonce"`
	Unclaimed []string `json:"unclaimed"`
	Claimed   []string `json:"claimed"`
}

// SimulatorStore persists simulated wallets. LoadSimWallet returns
// (nil, nil) for a wallet it has never saved.
type SimulatorStore interface {
	LoadSimWallet(ctx context.Context, wallet string) (*SimWallet, error)
	SaveSimWallet(ctx context.Context, wallet string, w SimWallet) error
}

// Simulator is an in-memory Ledger. Seeds are drawn from the HMAC byte
// stream keyed by ServerSeed, with the wallet as client seed, so a wallet's
// grants are reproducible.
type Simulator struct {
	cfg       SimulatorConfig
	engine    *engine.Engine
	evaluator *games.Evaluator

	mu      sync.Mutex
	wallets map[string]*simWallet
	txs     map[string]*simTx
	block   uint64
	// failures queued for the next calls, consumed in order.
	failures []error
}

type simWallet struct {
	nonce     uint64
	unclaimed []string
	claimed   map[string]bool
}

func (w *simWallet) clone() *simWallet {
	c := &simWallet{
		nonce:     w.nonce,
		unclaimed: append([]string(nil), w.unclaimed...),
		claimed:   make(map[string]bool, len(w.claimed)),
	}
	for k := range w.claimed {
		c.claimed[k] = true
	}
	return c
}

func (w *simWallet) state() SimWallet {
	claimed := lo.Keys(w.claimed)
	sort.Strings(claimed)
	return SimWallet{
		Nonce:     w.nonce,
		Unclaimed: append([]string{}, w.unclaimed...),
		Claimed:   claimed,
	}
}

type simTx struct {
	receipt Receipt
	polls   int
}

var _ Ledger = (*Simulator)(nil)

// NewSimulator creates an empty simulated ledger.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.ServerSeed == "" {
		cfg.ServerSeed = "pf-slot-simulator"
	}
	if cfg.FreeGrant <= 0 {
		cfg.FreeGrant = 10
	}
	if cfg.Paytable.TotalSymbols == 0 {
		cfg.Paytable = games.DefaultPaytable()
	}
	return &Simulator{
		cfg:       cfg,
		engine:    engine.New(cfg.Paytable.TotalSymbols),
		evaluator: games.NewEvaluator(cfg.Paytable),
		wallets:   make(map[string]*simWallet),
		txs:       make(map[string]*simTx),
	}
}

// FailNext queues errors returned by the next calls, one per call.
func (s *Simulator) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *Simulator) popFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func simAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// wallet returns the cached state for addr, loading it from the store on
// first use.
func (s *Simulator) wallet(ctx context.Context, addr string) (*simWallet, error) {
	addr = simAddr(addr)
	if w, ok := s.wallets[addr]; ok {
		return w, nil
	}
	w := &simWallet{claimed: make(map[string]bool)}
	if s.cfg.Store != nil {
		saved, err := s.cfg.Store.LoadSimWallet(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("ledger: load simulated wallet: %w", err)
		}
		if saved != nil {
			w.nonce = saved.Nonce
			w.unclaimed = append(w.unclaimed, saved.Unclaimed...)
			for _, v := range saved.Claimed {
				w.claimed[v] = true
			}
		}
	}
	s.wallets[addr] = w
	return w, nil
}

// update applies fn to a copy of addr's state and keeps the copy only once
// it is saved.
func (s *Simulator) update(ctx context.Context, addr string, fn func(w *simWallet) error) error {
	cur, err := s.wallet(ctx, addr)
	if err != nil {
		return err
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return err
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveSimWallet(ctx, simAddr(addr), next.state()); err != nil {
			return fmt.Errorf("ledger: save simulated wallet: %w", err)
		}
	}
	s.wallets[simAddr(addr)] = next
	return nil
}

func (s *Simulator) issue(w *simWallet, addr string, n int) []string {
	clientSeed := simAddr(addr)
	seeds := make([]string, 0, n)
	for len(seeds) < n {
		w.nonce++
		v := engine.SeedValue(s.cfg.ServerSeed, clientSeed, w.nonce)
		canonical, _ := engine.CanonicalSeed(v)
		if w.claimed[canonical] || lo.Contains(w.unclaimed, canonical) || lo.Contains(seeds, canonical) {
			continue
		}
		seeds = append(seeds, canonical)
	}
	w.unclaimed = append(w.unclaimed, seeds...)
	return seeds
}

func (s *Simulator) submit(rc Receipt) TxHandle {
	s.block++
	rc.TxHash = "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	rc.BlockNumber = s.block
	s.txs[rc.TxHash] = &simTx{receipt: rc}
	return TxHandle{Hash: rc.TxHash}
}

func (s *Simulator) ChainID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return 0, err
	}
	return s.cfg.ChainID, nil
}

func (s *Simulator) RequestFreeSeeds(ctx context.Context, wallet string) (TxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return TxHandle{}, err
	}
	var seeds []string
	if err := s.update(ctx, wallet, func(w *simWallet) error {
		seeds = s.issue(w, wallet, s.cfg.FreeGrant)
		return nil
	}); err != nil {
		return TxHandle{}, err
	}
	tx := s.submit(Receipt{Status: 1, Seeds: seeds})
	tx.Kind = TxFreeSeeds
	return tx, nil
}

func (s *Simulator) BuySeeds(ctx context.Context, wallet string, count int, price decimal.Decimal) (TxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return TxHandle{}, err
	}
	if count <= 0 || !price.IsPositive() {
		return TxHandle{}, &RPCError{Code: -32602, Message: fmt.Sprintf("invalid purchase %d@%s", count, price)}
	}
	var seeds []string
	if err := s.update(ctx, wallet, func(w *simWallet) error {
		seeds = s.issue(w, wallet, count)
		return nil
	}); err != nil {
		return TxHandle{}, err
	}
	tx := s.submit(Receipt{Status: 1, Seeds: seeds})
	tx.Kind = TxBuySeeds
	return tx, nil
}

func (s *Simulator) GetReceipt(_ context.Context, tx TxHandle) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return nil, err
	}
	t, ok := s.txs[tx.Hash]
	if !ok {
		return nil, nil
	}
	if t.polls < s.cfg.ConfirmAfter {
		t.polls++
		return nil, nil
	}
	rc := t.receipt
	rc.Seeds = append([]string(nil), rc.Seeds...)
	return &rc, nil
}

func (s *Simulator) GetUnclaimedSeeds(ctx context.Context, wallet string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return nil, err
	}
	w, err := s.wallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), w.unclaimed...), nil
}

var errClaimReverted = &RPCError{Code: 3, Message: "execution reverted: seed not owned or already claimed"}

// scoreClaim re-derives every played seed of claim, plus the claim seed
// itself, and returns their canonical values with the total score. Each must
// be unclaimed and owned by w.
func (s *Simulator) scoreClaim(w *simWallet, claim Claim) ([]string, int64, error) {
	played := make([]string, 0, len(claim.Played)+1)
	for _, v := range append(append([]string(nil), claim.Played...), claim.Seed) {
		canonical, err := engine.CanonicalSeed(v)
		if err != nil {
			return nil, 0, &RPCError{Code: 3, Message: "execution reverted: " + err.Error()}
		}
		if !lo.Contains(played, canonical) {
			played = append(played, canonical)
		}
	}

	var total int64
	for _, v := range played {
		if !lo.Contains(w.unclaimed, v) {
			return nil, 0, errClaimReverted
		}
		outcome, err := s.engine.Derive(v)
		if err != nil {
			return nil, 0, err
		}
		total += s.evaluator.Evaluate(outcome).AddedScore
	}
	return played, total, nil
}

// ClaimScore consumes the claim seed and the played seeds and pays their
// re-derived score. Unplayed seeds stay unclaimed.
func (s *Simulator) ClaimScore(ctx context.Context, wallet string, claim Claim) (TxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return TxHandle{}, err
	}
	var score int64
	err := s.update(ctx, wallet, func(w *simWallet) error {
		played, total, err := s.scoreClaim(w, claim)
		if err != nil {
			return err
		}
		for _, v := range played {
			w.claimed[v] = true
		}
		w.unclaimed = lo.Without(w.unclaimed, played...)
		score = total
		return nil
	})
	if err != nil {
		return TxHandle{}, err
	}
	tx := s.submit(Receipt{Status: 1, Score: score})
	tx.Kind = TxClaim
	return tx, nil
}

func (s *Simulator) GetScorePreview(ctx context.Context, wallet string, claim Claim) (ScorePreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return ScorePreview{}, err
	}
	w, err := s.wallet(ctx, wallet)
	if err != nil {
		return ScorePreview{}, err
	}
	played, score, err := s.scoreClaim(w, claim)
	if err != nil {
		return ScorePreview{}, err
	}
	return ScorePreview{Score: score, SeedsConsidered: len(played)}, nil
}
