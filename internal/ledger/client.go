package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds configuration for the gateway client.
type Config struct {
	// Endpoint is the JSON-RPC gateway URL.
	Endpoint string

	// Contract is the ledger address passed with every write.
	Contract string

	// APIKey is sent as X-Api-Key when set.
	APIKey string

	// SendGap is the minimum spacing between write calls.
	// Defaults to 700ms if zero.
	SendGap time.Duration

	// Retry governs reads that fail with retryable errors.
	Retry Policy

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// Defaults to a client with 30s timeout.
	HTTPClient *http.Client
}

// Client is a JSON-RPC 2.0 Ledger over HTTP.
type Client struct {
	config Config
	http   *http.Client
	nextID atomic.Int64

	sendMu   sync.Mutex
	lastSend time.Time
}

var _ Ledger = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.SendGap == 0 {
		cfg.SendGap = 700 * time.Millisecond
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = Policy{Attempts: 4, Base: 500 * time.Millisecond, MaxDelay: 4 * time.Second, RateLimitPause: 5 * time.Second, Timeout: 30 * time.Second}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{config: cfg, http: httpClient}
}

// Endpoint returns the configured gateway URL.
func (c *Client) Endpoint() string { return c.config.Endpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call sends one JSON-RPC request and decodes result into out.
func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-Api-Key", c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("ledger: invalid response JSON: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		// Leave out at its zero value; GetReceipt relies on this for pending.
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("ledger: decode %s result: %w", method, err)
	}
	return nil
}

// read issues a call under the read retry policy.
func (c *Client) read(ctx context.Context, method string, out any, params ...any) error {
	return c.config.Retry.Do(ctx, func(ctx context.Context) error {
		return c.call(ctx, method, out, params...)
	})
}

// send issues a write call once the send gap has elapsed. Writes are not
// retried: a lost response could still have been mined.
func (c *Client) send(ctx context.Context, method string, out any, params ...any) error {
	c.sendMu.Lock()
	wait := c.config.SendGap - time.Since(c.lastSend)
	if wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			c.sendMu.Unlock()
			return err
		}
	}
	c.lastSend = time.Now()
	c.sendMu.Unlock()
	return c.call(ctx, method, out, params...)
}

// ChainID returns the network id. Gateways answer either a number or a
// hex/decimal string.
func (c *Client) ChainID(ctx context.Context) (int64, error) {
	var raw json.RawMessage
	if err := c.read(ctx, "slot_chainId", &raw); err != nil {
		return 0, err
	}
	return parseChainID(raw)
}

func parseChainID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("ledger: chain id %s: %w", raw, err)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseInt(s[2:], 16, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}

func (c *Client) RequestFreeSeeds(ctx context.Context, wallet string) (TxHandle, error) {
	var hash string
	if err := c.send(ctx, "slot_requestFreeSeeds", &hash, c.config.Contract, wallet); err != nil {
		return TxHandle{}, err
	}
	return TxHandle{Hash: hash, Kind: TxFreeSeeds}, nil
}

func (c *Client) BuySeeds(ctx context.Context, wallet string, count int, price decimal.Decimal) (TxHandle, error) {
	var hash string
	if err := c.send(ctx, "slot_buySeeds", &hash, c.config.Contract, wallet, count, price.String()); err != nil {
		return TxHandle{}, err
	}
	return TxHandle{Hash: hash, Kind: TxBuySeeds}, nil
}

// GetReceipt returns nil while tx is pending.
func (c *Client) GetReceipt(ctx context.Context, tx TxHandle) (*Receipt, error) {
	var wire *wireReceipt
	if err := c.call(ctx, "slot_getReceipt", &wire, tx.Hash); err != nil {
		return nil, err
	}
	if wire == nil {
		return nil, nil
	}
	return wire.receipt()
}

// wireReceipt accepts seeds and score as numbers or strings.
type wireReceipt struct {
	TxHash      string        `json:"txHash"`
	Status      json.Number   `json:"status"`
	BlockNumber json.Number   `json:"blockNumber"`
	Seeds       []json.Number `json:"seeds"`
	Score       json.Number   `json:"score"`
}

func (w *wireReceipt) receipt() (*Receipt, error) {
	rc := &Receipt{TxHash: w.TxHash}
	var err error
	if w.Status != "" {
		status, perr := w.Status.Int64()
		if perr != nil {
			return nil, fmt.Errorf("ledger: receipt status %q: %w", w.Status, perr)
		}
		rc.Status = int(status)
	}
	if w.BlockNumber != "" {
		if rc.BlockNumber, err = strconv.ParseUint(w.BlockNumber.String(), 10, 64); err != nil {
			return nil, fmt.Errorf("ledger: receipt block %q: %w", w.BlockNumber, err)
		}
	}
	if w.Score != "" {
		if rc.Score, err = w.Score.Int64(); err != nil {
			return nil, fmt.Errorf("ledger: receipt score %q: %w", w.Score, err)
		}
	}
	for _, s := range w.Seeds {
		rc.Seeds = append(rc.Seeds, s.String())
	}
	return rc, nil
}

func (c *Client) GetUnclaimedSeeds(ctx context.Context, wallet string) ([]string, error) {
	var seeds []json.Number
	if err := c.read(ctx, "slot_getUnclaimedSeeds", &seeds, c.config.Contract, wallet); err != nil {
		return nil, err
	}
	out := make([]string, len(seeds))
	for i, s := range seeds {
		out[i] = s.String()
	}
	return out, nil
}

func (c *Client) ClaimScore(ctx context.Context, wallet string, claim Claim) (TxHandle, error) {
	var hash string
	if err := c.send(ctx, "slot_claimScore", &hash, c.config.Contract, wallet, claim); err != nil {
		return TxHandle{}, err
	}
	return TxHandle{Hash: hash, Kind: TxClaim}, nil
}

func (c *Client) GetScorePreview(ctx context.Context, wallet string, claim Claim) (ScorePreview, error) {
	var preview ScorePreview
	err := c.read(ctx, "slot_getScorePreview", &preview, c.config.Contract, wallet, claim)
	return preview, err
}
