package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MJE43/pf-slot-go/internal/audit"
	"github.com/MJE43/pf-slot-go/internal/config"
	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/ledgerauth"
	"github.com/MJE43/pf-slot-go/internal/logging"
	"github.com/MJE43/pf-slot-go/internal/play"
	"github.com/MJE43/pf-slot-go/internal/session"
	"github.com/MJE43/pf-slot-go/internal/store"
)

// app holds the wired collaborators for one command invocation.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	engine    *engine.Engine
	evaluator *games.Evaluator

	db       *store.SQLiteDB
	sessions *session.Store
	ledger   ledger.Ledger
	ctrl     *play.Controller
}

// newApp loads configuration and builds the pure components. Storage and
// the ledger are opened by open.
func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.wallet != "" {
		cfg.Wallet = flags.wallet
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.simulate {
		cfg.Ledger.Mode = config.ModeSimulator
	}

	return &app{
		cfg:       cfg,
		log:       logging.New(cfg.Logging),
		engine:    engine.New(cfg.Game.Paytable.TotalSymbols),
		evaluator: games.NewEvaluator(cfg.Game.Paytable),
	}, nil
}

// open connects storage and the ledger and loads the wallet's session.
func (a *app) open(ctx context.Context) error {
	if session.NormalizeWallet(a.cfg.Wallet) == "" {
		return errors.New("a wallet is required: pass --wallet or set PFSLOT_WALLET")
	}

	path, err := resolveDBPath(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	a.db, err = store.Open(ctx, path)
	if err != nil {
		return err
	}
	a.sessions = session.NewStore(a.db, a.log)

	if a.ledger, err = a.buildLedger(ctx); err != nil {
		return err
	}

	a.ctrl, err = play.New(ctx, a.cfg.Wallet, play.Options{
		Engine:    a.engine,
		Evaluator: a.evaluator,
		Reels:     a.cfg.Game.Reels(),
		Store:     a.sessions,
		Ledger:    a.ledger,
		Policy:    a.cfg.Ledger.Receipt.Policy(),
		History:   a.db,
		Debounce:  a.cfg.Ledger.ActionDebounce,
		Logger:    a.log,
	})
	return err
}

func (a *app) buildLedger(ctx context.Context) (ledger.Ledger, error) {
	lc := a.cfg.Ledger
	if lc.Mode == config.ModeSimulator {
		a.log.Info().Str("mode", lc.Mode).Msg("using simulated ledger")
		return ledger.NewSimulator(ledger.SimulatorConfig{
			ChainID:    lc.ChainID,
			ServerSeed: lc.SimulatorSeed,
			FreeGrant:  lc.FreeGrant,
			Paytable:   a.cfg.Game.Paytable,
			Store:      a.db,
		}), nil
	}

	key, err := ledgerauth.New(ledgerauth.DefaultService, credentialsPath()).APIKey(lc.APIKeyProfile)
	switch {
	case errors.Is(err, ledgerauth.ErrNotFound):
		a.log.Warn().Str("profile", lc.APIKeyProfile).Msg("no gateway API key stored, calling without one")
	case err != nil:
		return nil, err
	}
	client := ledger.NewClient(ledger.Config{
		Endpoint: lc.Endpoint,
		Contract: lc.Contract,
		APIKey:   key,
		SendGap:  lc.SendGap,
		Retry:    lc.Receipt.Policy(),
	})
	if err := ledger.CheckNetwork(ctx, client, lc.ChainID); err != nil {
		return nil, err
	}
	a.log.Info().Str("endpoint", lc.Endpoint).Int64("chain_id", lc.ChainID).Msg("connected to ledger")
	return client, nil
}

func (a *app) auditor() *audit.Auditor {
	return audit.NewAuditor(a.engine, a.evaluator, 0)
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if a.ctrl != nil && a.sessions.Dirty(a.ctrl.Wallet()) {
		if err := a.sessions.Save(context.Background(), a.ctrl.Session()); err != nil {
			a.log.Error().Err(err).Msg("session still unsaved at exit")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close database")
	}
}
