// Package config loads pfslot settings from YAML with PFSLOT_* overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/pf-slot-go/internal/games"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/logging"
	"github.com/MJE43/pf-slot-go/internal/reels"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PFSLOT_"

// Ledger modes.
const (
	ModeSimulator = "simulator"
	ModeRPC       = "rpc"
)

// Config holds all application configuration.
type Config struct {
	Wallet  string         `yaml:"wallet" env:"WALLET"`
	DBPath  string         `yaml:"db_path" env:"DB_PATH"`
	Server  ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Ledger  LedgerConfig   `yaml:"ledger" envPrefix:"LEDGER_"`
	Game    GameConfig     `yaml:"game" envPrefix:"GAME_"`
	Bundles []Bundle       `yaml:"bundles"`
	Logging logging.Config `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr           string        `yaml:"addr" env:"ADDR"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// Token, when set, must be sent as X-Api-Token on /api/v1 requests.
	Token string `yaml:"token" env:"TOKEN"`
}

// LedgerConfig selects and tunes the ledger collaborator.
type LedgerConfig struct {
	Mode           string        `yaml:"mode" env:"MODE"`
	Endpoint       string        `yaml:"endpoint" env:"ENDPOINT"`
	Contract       string        `yaml:"contract" env:"CONTRACT"`
	ChainID        int64         `yaml:"chain_id" env:"CHAIN_ID"`
	APIKeyProfile  string        `yaml:"api_key_profile" env:"API_KEY_PROFILE"`
	SendGap        time.Duration `yaml:"send_gap" env:"SEND_GAP"`
	ActionDebounce time.Duration `yaml:"action_debounce" env:"ACTION_DEBOUNCE"`
	SimulatorSeed  string        `yaml:"simulator_seed" env:"SIMULATOR_SEED"`
	FreeGrant      int           `yaml:"free_grant" env:"FREE_GRANT"`
	Receipt        ReceiptConfig `yaml:"receipt" envPrefix:"RECEIPT_"`
}

// ReceiptConfig mirrors ledger.Policy.
type ReceiptConfig struct {
	Attempts       uint64        `yaml:"attempts" env:"ATTEMPTS"`
	Base           time.Duration `yaml:"base" env:"BASE"`
	MaxDelay       time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	RateLimitPause time.Duration `yaml:"rate_limit_pause" env:"RATE_LIMIT_PAUSE"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Policy converts to a ledger retry policy.
func (r ReceiptConfig) Policy() ledger.Policy {
	return ledger.Policy{
		Attempts:       r.Attempts,
		Base:           r.Base,
		MaxDelay:       r.MaxDelay,
		RateLimitPause: r.RateLimitPause,
		Timeout:        r.Timeout,
	}
}

// GameConfig holds the paytable and animation settings.
type GameConfig struct {
	Paytable      games.Paytable `yaml:"paytable"`
	SymbolHeight  float64        `yaml:"symbol_height" env:"SYMBOL_HEIGHT"`
	Turns         [3]int         `yaml:"turns"`
	FrameInterval time.Duration  `yaml:"frame_interval" env:"FRAME_INTERVAL"`
}

// Reels converts to the animation config.
func (g GameConfig) Reels() reels.Config {
	return reels.Config{
		TotalSymbols: g.Paytable.TotalSymbols,
		SymbolHeight: g.SymbolHeight,
		Turns:        g.Turns,
	}
}

// Bundle is a purchasable pack of plays.
type Bundle struct {
	Name  string          `yaml:"name" json:"name"`
	Plays int             `yaml:"plays" json:"plays"`
	Price decimal.Decimal `yaml:"price" json:"price"`
}

// DefaultBundles are the reference purchase tiers.
func DefaultBundles() []Bundle {
	return []Bundle{
		{Name: "small", Plays: 20, Price: decimal.RequireFromString("0.1")},
		{Name: "medium", Plays: 50, Price: decimal.RequireFromString("0.2")},
		{Name: "large", Plays: 100, Price: decimal.RequireFromString("0.35")},
	}
}

// FindBundle looks a bundle up by name or play count.
func (c *Config) FindBundle(key string) (Bundle, bool) {
	key = strings.TrimSpace(key)
	for _, b := range c.Bundles {
		if strings.EqualFold(b.Name, key) || fmt.Sprint(b.Plays) == key {
			return b, true
		}
	}
	return Bundle{}, false
}

// Default returns the reference deployment settings with the simulator
// ledger.
func Default() *Config {
	return &Config{
		DBPath: "pfslot.db",
		Server: ServerConfig{
			Addr:           "127.0.0.1:8077",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			RequestTimeout: 3 * time.Minute,
		},
		Ledger: LedgerConfig{
			Mode:           ModeSimulator,
			ChainID:        10143,
			APIKeyProfile:  "default",
			SendGap:        700 * time.Millisecond,
			ActionDebounce: time.Second,
			FreeGrant:      10,
			Receipt: ReceiptConfig{
				Attempts:       15,
				Base:           1500 * time.Millisecond,
				MaxDelay:       6 * time.Second,
				RateLimitPause: 5 * time.Second,
				Timeout:        2 * time.Minute,
			},
		},
		Game: GameConfig{
			Paytable:      games.DefaultPaytable(),
			SymbolHeight:  reels.DefaultSymbolHeight,
			Turns:         reels.DefaultTurns,
			FrameInterval: 16 * time.Millisecond,
		},
		Bundles: DefaultBundles(),
		Logging: logging.Config{Level: "info", Format: "json", Output: "stderr"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// yaml merges into existing maps; a file's multipliers replace ours.
		defaults := cfg.Game.Paytable.Multipliers
		cfg.Game.Paytable.Multipliers = nil
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if cfg.Game.Paytable.Multipliers == nil {
			cfg.Game.Paytable.Multipliers = defaults
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Game.Paytable.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Ledger.Mode {
	case ModeSimulator:
	case ModeRPC:
		if c.Ledger.Endpoint == "" {
			errs = append(errs, errors.New("config: ledger.endpoint is required in rpc mode"))
		}
		if c.Ledger.Contract == "" {
			errs = append(errs, errors.New("config: ledger.contract is required in rpc mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown ledger.mode %q", c.Ledger.Mode))
	}
	for i, t := range c.Game.Turns {
		if t <= 0 {
			errs = append(errs, fmt.Errorf("config: game.turns[%d] must be positive", i))
		}
	}
	if c.Game.FrameInterval < 0 {
		errs = append(errs, errors.New("config: game.frame_interval must not be negative"))
	}
	seen := map[string]bool{}
	for _, b := range c.Bundles {
		if b.Plays <= 0 || !b.Price.IsPositive() {
			errs = append(errs, fmt.Errorf("config: bundle %q needs positive plays and price", b.Name))
		}
		if seen[strings.ToLower(b.Name)] {
			errs = append(errs, fmt.Errorf("config: duplicate bundle %q", b.Name))
		}
		seen[strings.ToLower(b.Name)] = true
	}
	return errors.Join(errs...)
}
