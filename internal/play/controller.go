// Package play drives a wallet's session: spins, grants, sync and claims.
package play

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/reconcile"
	"github.com/MJE43/pf-slot-go/internal/reels"
	"github.com/MJE43/pf-slot-go/internal/session"
	"github.com/MJE43/pf-slot-go/internal/store"
)

var (
	// ErrNothingToClaim means no seed has been played or nothing was won.
	ErrNothingToClaim = errors.New("play: nothing to claim")

	// ErrActionThrottled means the same ledger action ran too recently or
	// is still running.
	ErrActionThrottled = errors.New("play: action throttled")

	// ErrClaimInProgress blocks spins, syncs and grants while a claim settles.
	ErrClaimInProgress = errors.New("play: claim in progress")
)

// History receives resolved spins.
type History interface {
	SaveSpin(ctx context.Context, rec *store.SpinRecord) (bool, error)
}

// Options wires a Controller. Engine, Evaluator, Store and Ledger are
// required.
type Options struct {
	Engine    *engine.Engine
	Evaluator *games.Evaluator
	Reels     reels.Config
	Store     *session.Store
	Ledger    ledger.Ledger
	Policy    ledger.Policy
	History   History
	Debounce  time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Controller owns one wallet's session. Methods are safe for concurrent
// use; at most one spin is unresolved at a time.
type Controller struct {
	opts       Options
	wallet     string
	waiter     *ledger.Waiter
	reconciler *reconcile.Service
	log        zerolog.Logger

	mu        sync.Mutex
	session   *session.Session
	scheduler *reels.Scheduler
	pending   *pendingSpin
	claiming  bool
	busy      map[string]bool
	lastRun   map[string]time.Time
}

type pendingSpin struct {
	seed    session.Seed
	outcome engine.Outcome
	started time.Time
	// driven is set while a Run loop owns the spin.
	driven bool
}

// SpinStart describes a spin that has begun animating.
type SpinStart struct {
	Seed    string         `json:"seed"`
	Tier    session.Tier   `json:"tier"`
	Outcome engine.Outcome `json:"outcome"`
}

// SpinResult is a resolved spin.
type SpinResult struct {
	Seed       string           `json:"seed"`
	Tier       session.Tier     `json:"tier"`
	Outcome    engine.Outcome   `json:"outcome"`
	Evaluation games.Evaluation `json:"evaluation"`
	Message    string           `json:"message"`
	TotalScore int64            `json:"totalScore"`
	Credits    int              `json:"credits"`
	Ticks      int              `json:"ticks"`
	// Persisted is false when the local save failed; the result stands.
	Persisted bool `json:"persisted"`
}

// GrantResult reports seeds added by a free request or a purchase.
type GrantResult struct {
	TxHash   string       `json:"txHash"`
	Tier     session.Tier `json:"tier"`
	Added    int          `json:"added"`
	Rejected []string     `json:"rejected,omitempty"`
	Credits  int          `json:"credits"`
}

// ClaimResult reports a settled claim.
type ClaimResult struct {
	TxHash       string               `json:"txHash"`
	Seed         string               `json:"seed"`
	LocalScore   int64                `json:"localScore"`
	ClaimedScore int64                `json:"claimedScore"`
	Preview      *ledger.ScorePreview `json:"preview,omitempty"`
}

// New loads wallet's session and returns a controller for it.
func New(ctx context.Context, wallet string, opts Options) (*Controller, error) {
	if opts.Engine == nil || opts.Evaluator == nil || opts.Store == nil || opts.Ledger == nil {
		return nil, errors.New("play: engine, evaluator, store and ledger are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reels.TotalSymbols == 0 {
		opts.Reels.TotalSymbols = opts.Engine.TotalSymbols()
	}
	s, err := opts.Store.Load(ctx, wallet)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("component", "play").Str("wallet", s.Wallet).Logger()
	return &Controller{
		opts:       opts,
		wallet:     s.Wallet,
		waiter:     ledger.NewWaiter(opts.Ledger, opts.Policy, opts.Logger),
		reconciler: reconcile.NewService(opts.Store, opts.Ledger, opts.Policy, opts.Logger),
		log:        log,
		session:    s,
		scheduler:  reels.NewScheduler(opts.Reels),
		busy:       make(map[string]bool),
		lastRun:    make(map[string]time.Time),
	}, nil
}

// Wallet returns the normalized wallet address.
func (c *Controller) Wallet() string { return c.wallet }

// Session returns a snapshot of the session.
func (c *Controller) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// Spinning reports whether a spin is unresolved.
func (c *Controller) Spinning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Frames snapshots the reels for rendering.
func (c *Controller) Frames() []reels.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.Frames()
}

// Spin reserves the next unused seed, derives its outcome and starts the
// reels. A spin already in flight yields session.ErrSpinInFlight and
// changes nothing. A malformed seed is released unmarked and the error
// returned; no substitute outcome is ever shown.
func (c *Controller) Spin(ctx context.Context) (SpinStart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return SpinStart{}, session.ErrSpinInFlight
	}
	p, err := c.startLocked()
	if err != nil {
		return SpinStart{}, err
	}
	return SpinStart{Seed: p.seed.Value, Tier: p.seed.Tier, Outcome: p.outcome}, nil
}

func (c *Controller) startLocked() (*pendingSpin, error) {
	if c.claiming {
		return nil, ErrClaimInProgress
	}
	seed, err := c.opts.Store.Reserve(c.session)
	if err != nil {
		return nil, err
	}
	outcome, err := c.opts.Engine.Derive(seed.Value)
	if err != nil {
		c.opts.Store.Release(c.session, seed.Value)
		c.log.Error().Err(err).Str("seed", seed.Value).Msg("seed cannot be derived, spin aborted")
		return nil, err
	}
	if err := c.scheduler.Start(outcome); err != nil {
		c.opts.Store.Release(c.session, seed.Value)
		return nil, fmt.Errorf("play: start reels: %w", err)
	}

	c.pending = &pendingSpin{seed: seed, outcome: outcome, started: c.opts.Now()}
	c.log.Debug().Str("seed", seed.Value).Ints("outcome", outcome[:]).Msg("spin started")
	return c.pending, nil
}

// Tick advances the reels one frame. When the last reel stops it scores
// the outcome, marks the seed used and returns the result. Without a spin
// in flight it returns nil.
func (c *Controller) Tick(ctx context.Context) (*SpinResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil, nil
	}
	if !c.scheduler.Tick() {
		return nil, nil
	}
	return c.resolve(ctx)
}

func (c *Controller) resolve(ctx context.Context) (*SpinResult, error) {
	p := c.pending
	c.pending = nil

	shown, _ := c.scheduler.Result()
	if shown != p.outcome {
		// Reels always stop on their target; anything else is a bug.
		c.opts.Store.Release(c.session, p.seed.Value)
		return nil, fmt.Errorf("play: reels stopped on %v, expected %v", shown, p.outcome)
	}

	eval := c.opts.Evaluator.Evaluate(p.outcome)
	persisted := true
	if err := c.opts.Store.MarkUsed(ctx, c.session, p.seed.Value, eval.AddedScore); err != nil {
		if !errors.Is(err, session.ErrPersistence) {
			c.opts.Store.Release(c.session, p.seed.Value)
			return nil, err
		}
		persisted = false
		c.log.Error().Err(err).Str("seed", p.seed.Value).Msg("spin scored but not saved, will retry on next change")
	}

	res := &SpinResult{
		Seed:       p.seed.Value,
		Tier:       p.seed.Tier,
		Outcome:    p.outcome,
		Evaluation: eval,
		Message:    eval.Message(),
		TotalScore: c.session.TotalScore,
		Credits:    c.session.Credits(),
		Ticks:      c.scheduler.Ticks(),
		Persisted:  persisted,
	}
	c.recordHistory(ctx, res)
	c.log.Info().
		Str("seed", res.Seed).
		Ints("outcome", res.Outcome[:]).
		Int64("score", eval.AddedScore).
		Int64("total", res.TotalScore).
		Dur("elapsed", c.opts.Now().Sub(p.started)).
		Msg(res.Message)
	return res, nil
}

func (c *Controller) recordHistory(ctx context.Context, res *SpinResult) {
	if c.opts.History == nil {
		return
	}
	_, err := c.opts.History.SaveSpin(ctx, &store.SpinRecord{
		Wallet:    c.wallet,
		Seed:      res.Seed,
		Tier:      string(res.Tier),
		Outcome:   res.Outcome,
		Score:     res.Evaluation.AddedScore,
		Kind:      string(res.Evaluation.Kind),
		CreatedAt: c.opts.Now().UTC(),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("seed", res.Seed).Msg("spin history not recorded")
	}
}

// Run spins and ticks every frameInterval until the reels stop. A zero
// interval ticks without pausing. A spin started with Spin that nobody is
// ticking is resumed rather than rejected.
//
// If ctx ends mid-animation the reels are run to their stop and the spin
// is settled anyway; the result is returned together with ctx's error.
func (c *Controller) Run(ctx context.Context, frameInterval time.Duration) (*SpinResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.drive()
	if err != nil {
		return nil, err
	}

	var tick <-chan time.Time
	if frameInterval > 0 {
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return c.settle(ctx, p)
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return c.settle(ctx, p)
		}
		res, done, err := c.advance(ctx, p)
		if done {
			return res, err
		}
	}
}

// drive starts a spin owned by the caller, or takes over an unowned one.
func (c *Controller) drive() (*pendingSpin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.pending; p != nil {
		if p.driven {
			return nil, session.ErrSpinInFlight
		}
		p.driven = true
		c.log.Debug().Str("seed", p.seed.Value).Msg("resuming spin")
		return p, nil
	}
	p, err := c.startLocked()
	if err != nil {
		return nil, err
	}
	p.driven = true
	return p, nil
}

// advance ticks p once. done is set when p resolved or was resolved by
// a direct Tick.
func (c *Controller) advance(ctx context.Context, p *pendingSpin) (*SpinResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return nil, true, fmt.Errorf("play: spin of %s was resolved by another caller", p.seed.Value)
	}
	if !c.scheduler.Tick() {
		return nil, false, nil
	}
	res, err := c.resolve(ctx)
	return res, true, err
}

// settle runs p's reels to their stop and resolves it after ctx ended.
func (c *Controller) settle(ctx context.Context, p *pendingSpin) (*SpinResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return nil, ctx.Err()
	}
	for !c.scheduler.Tick() {
	}
	c.log.Debug().Str("seed", p.seed.Value).Msg("caller gone, settling spin")
	res, err := c.resolve(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	return res, ctx.Err()
}

// beginAction debounces ledger writes per kind.
func (c *Controller) beginAction(kind string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claiming {
		return nil, ErrClaimInProgress
	}
	now := c.opts.Now()
	if c.busy[kind] || now.Sub(c.lastRun[kind]) < c.opts.Debounce {
		c.log.Debug().Str("action", kind).Msg("throttled")
		return nil, fmt.Errorf("%w: %s", ErrActionThrottled, kind)
	}
	c.busy[kind] = true
	c.lastRun[kind] = now
	return func() {
		c.mu.Lock()
		c.busy[kind] = false
		c.mu.Unlock()
	}, nil
}

// RequestFreeSeeds asks the ledger for the free allowance and adds the
// granted seeds to the free tier. Unused free seeds already held are kept.
func (c *Controller) RequestFreeSeeds(ctx context.Context) (GrantResult, error) {
	done, err := c.beginAction("free")
	if err != nil {
		return GrantResult{}, err
	}
	defer done()

	tx, err := c.opts.Ledger.RequestFreeSeeds(ctx, c.wallet)
	if err != nil {
		return GrantResult{}, fmt.Errorf("play: request free seeds: %w", err)
	}
	return c.grant(ctx, tx, session.TierFree)
}

// Buy purchases plays seeds at price and adds them to the paid tier.
func (c *Controller) Buy(ctx context.Context, plays int, price decimal.Decimal) (GrantResult, error) {
	if plays <= 0 || !price.IsPositive() {
		return GrantResult{}, fmt.Errorf("play: invalid purchase of %d plays at %s", plays, price)
	}
	done, err := c.beginAction("buy")
	if err != nil {
		return GrantResult{}, err
	}
	defer done()

	tx, err := c.opts.Ledger.BuySeeds(ctx, c.wallet, plays, price)
	if err != nil {
		return GrantResult{}, fmt.Errorf("play: buy seeds: %w", err)
	}
	return c.grant(ctx, tx, session.TierPaid)
}

func (c *Controller) grant(ctx context.Context, tx ledger.TxHandle, tier session.Tier) (GrantResult, error) {
	c.log.Info().Str("tx", tx.Hash).Str("tier", string(tier)).Msg("waiting for grant")
	seeds, err := c.waiter.WaitForGrant(ctx, tx)
	if err != nil {
		return GrantResult{TxHash: tx.Hash, Tier: tier}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	added, rejected := c.session.Grant(tier, seeds)
	for _, r := range rejected {
		c.log.Warn().Str("tx", tx.Hash).Str("value", r).Msg("grant contained malformed seed")
	}
	if err := c.opts.Store.Save(ctx, c.session); err != nil {
		c.log.Error().Err(err).Msg("grant kept in memory, save failed")
	}
	c.log.Info().Str("tx", tx.Hash).Int("added", added).Int("credits", c.session.Credits()).Msg("seeds granted")
	return GrantResult{
		TxHash:   tx.Hash,
		Tier:     tier,
		Added:    added,
		Rejected: rejected,
		Credits:  c.session.Credits(),
	}, nil
}

// Sync merges the ledger's unclaimed seeds into the session. A spin in
// flight keeps its reserved seed.
func (c *Controller) Sync(ctx context.Context) (reconcile.Result, error) {
	c.mu.Lock()
	claiming := c.claiming
	c.mu.Unlock()
	if claiming {
		return reconcile.Result{}, ErrClaimInProgress
	}

	unclaimed, err := c.reconciler.Fetch(ctx, c.wallet)
	if err != nil {
		return reconcile.Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	merged, res, err := c.reconciler.Apply(ctx, c.session, unclaimed)
	c.session = merged
	if errors.Is(err, session.ErrPersistence) {
		return res, nil
	}
	return res, err
}

// Claim submits the session's score to the ledger using the most recently
// played seed, naming every played seed so only those are consumed. On
// success played seeds are dropped and the score zeroed while unplayed
// credit stays in its tier; on any failure the session is left untouched.
func (c *Controller) Claim(ctx context.Context) (ClaimResult, error) {
	done, err := c.beginAction("claim")
	if err != nil {
		return ClaimResult{}, err
	}
	defer done()

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return ClaimResult{}, session.ErrSpinInFlight
	}
	last, ok := c.session.LastUsed()
	local := c.session.TotalScore
	if !ok || local == 0 {
		c.mu.Unlock()
		return ClaimResult{}, ErrNothingToClaim
	}
	claim := ledger.Claim{Seed: last.Value, Score: local, Played: c.session.Played()}
	c.claiming = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.claiming = false
		c.mu.Unlock()
	}()

	res := ClaimResult{Seed: last.Value, LocalScore: local}
	if preview, err := c.opts.Ledger.GetScorePreview(ctx, c.wallet, claim); err != nil {
		c.log.Warn().Err(err).Msg("score preview unavailable, claiming anyway")
	} else {
		res.Preview = &preview
		if preview.Score != local {
			c.log.Warn().Int64("ledger", preview.Score).Int64("local", local).Int("seeds", preview.SeedsConsidered).Msg("ledger preview differs from local score")
		}
	}

	tx, err := c.opts.Ledger.ClaimScore(ctx, c.wallet, claim)
	if err != nil {
		return res, fmt.Errorf("play: claim: %w", err)
	}
	res.TxHash = tx.Hash
	c.log.Info().Str("tx", tx.Hash).Str("seed", last.Value).Int64("score", local).Msg("claim submitted")

	rc, err := c.waiter.WaitForReceipt(ctx, tx)
	if err != nil {
		return res, err
	}
	res.ClaimedScore = rc.Score

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.ResetPlayed()
	if err := c.opts.Store.Save(ctx, c.session); err != nil {
		c.log.Error().Err(err).Msg("claim settled but reset not saved")
	}
	c.log.Info().Str("tx", tx.Hash).Int64("claimed", rc.Score).Int("seeds", len(claim.Played)).Int("credits", c.session.Credits()).Msg("claim settled, played seeds cleared")
	return res, nil
}
