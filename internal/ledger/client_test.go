package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type rpcHandler func(method string, params []json.RawMessage) (any, *RPCError)

func newRPCServer(t *testing.T, h rpcHandler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing Content-Type header")
		}
		var req struct {
			JSONRPC string            `json:"jsonrpc"`
			ID      int64             `json:"id"`
			Method  string            `json:"method"`
			Params  []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.JSONRPC != "2.0" {
			t.Errorf("jsonrpc = %q", req.JSONRPC)
		}
		result, rpcErr := h(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func fastPolicy() Policy {
	return Policy{Attempts: 5, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond, RateLimitPause: time.Millisecond, Timeout: 2 * time.Second}
}

func TestClientChainID(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result any
		want   int64
	}{
		{"number", 10143, 10143},
		{"hex", "0x279f", 10143},
		{"decimal string", "10143", 10143},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := newRPCServer(t, func(method string, _ []json.RawMessage) (any, *RPCError) {
				if method != "slot_chainId" {
					t.Errorf("method = %s", method)
				}
				return tc.result, nil
			})
			c := NewClient(Config{Endpoint: server.URL, Retry: fastPolicy()})
			got, err := c.ChainID(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("ChainID = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestClientSendsAPIKeyAndParams(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "slot_buySeeds" {
			t.Errorf("method = %s", req.Method)
		}
		if len(req.Params) != 4 || req.Params[0] != "0xcontract" || req.Params[1] != "0xwallet" || req.Params[3] != "0.35" {
			t.Errorf("params = %v", req.Params)
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0xabc"})
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, Contract: "0xcontract", APIKey: "secret", SendGap: time.Millisecond})
	tx, err := c.BuySeeds(context.Background(), "0xwallet", 100, decimal.RequireFromString("0.35"))
	if err != nil {
		t.Fatal(err)
	}
	if tx.Hash != "0xabc" || tx.Kind != TxBuySeeds {
		t.Errorf("tx = %+v", tx)
	}
	if gotKey != "secret" {
		t.Errorf("X-Api-Key = %q", gotKey)
	}
}

func TestClientReceiptPendingAndDecoded(t *testing.T) {
	var calls atomic.Int32
	server := newRPCServer(t, func(method string, _ []json.RawMessage) (any, *RPCError) {
		if calls.Add(1) == 1 {
			return nil, nil
		}
		return map[string]any{
			"txHash":      "0x1",
			"status":      "1",
			"blockNumber": 77,
			"seeds":       []any{"1234567", 7654321},
		}, nil
	})
	c := NewClient(Config{Endpoint: server.URL})

	rc, err := c.GetReceipt(context.Background(), TxHandle{Hash: "0x1"})
	if err != nil || rc != nil {
		t.Fatalf("first poll: rc=%v err=%v, want pending", rc, err)
	}
	rc, err = c.GetReceipt(context.Background(), TxHandle{Hash: "0x1"})
	if err != nil {
		t.Fatal(err)
	}
	if !rc.Succeeded() || rc.BlockNumber != 77 || len(rc.Seeds) != 2 || rc.Seeds[1] != "7654321" {
		t.Errorf("receipt = %+v", rc)
	}
}

func TestClientRPCErrorClassification(t *testing.T) {
	for _, tc := range []struct {
		name        string
		err         *RPCError
		rateLimited bool
		retryable   bool
	}{
		{"limit exceeded", &RPCError{Code: -32005, Message: "limit"}, true, true},
		{"request limit", &RPCError{Code: -32007, Message: "25/second request limit reached"}, true, true},
		{"message only", &RPCError{Code: -32000, Message: "Rate limit hit"}, true, true},
		{"internal", &RPCError{Code: -32603, Message: "internal error"}, false, true},
		{"revert", &RPCError{Code: 3, Message: "execution reverted"}, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.IsRateLimited() != tc.rateLimited {
				t.Errorf("IsRateLimited = %v", !tc.rateLimited)
			}
			if IsRetryable(tc.err) != tc.retryable {
				t.Errorf("IsRetryable = %v", !tc.retryable)
			}
			if errors.Is(tc.err, ErrLedgerRateLimited) != tc.rateLimited {
				t.Errorf("errors.Is(ErrLedgerRateLimited) mismatch")
			}
		})
	}
}

func TestClientHTTPErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": []any{"1111111", "2222222"}})
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, Retry: fastPolicy()})
	seeds, err := c.GetUnclaimedSeeds(context.Background(), "0xw")
	if err != nil {
		t.Fatalf("reads should retry through 429: %v", err)
	}
	if len(seeds) != 2 || calls.Load() != 3 {
		t.Errorf("seeds=%v calls=%d", seeds, calls.Load())
	}
}

func TestClientWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, SendGap: time.Millisecond, Retry: fastPolicy()})
	_, err := c.ClaimScore(context.Background(), "0xw", Claim{Seed: "1234567", Played: []string{"1234567"}})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPError 503, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("write sent %d times", calls.Load())
	}
}

func TestClientSendGap(t *testing.T) {
	server := newRPCServer(t, func(string, []json.RawMessage) (any, *RPCError) {
		return "0xfeed", nil
	})
	gap := 40 * time.Millisecond
	c := NewClient(Config{Endpoint: server.URL, SendGap: gap})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.RequestFreeSeeds(context.Background(), "0xw"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 2*gap {
		t.Errorf("three sends took %v, want at least %v", elapsed, 2*gap)
	}
}

func TestClientClaimSendsPlayedSeeds(t *testing.T) {
	var got Claim
	server := newRPCServer(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		if method != "slot_claimScore" || len(params) != 3 {
			return nil, &RPCError{Code: -32601, Message: "unexpected " + method}
		}
		if err := json.Unmarshal(params[2], &got); err != nil {
			return nil, &RPCError{Code: -32602, Message: err.Error()}
		}
		return "0xc1a1", nil
	})
	c := NewClient(Config{Endpoint: server.URL})

	claim := Claim{Seed: "2345678", Score: 1200, Played: []string{"1234567", "2345678"}}
	tx, err := c.ClaimScore(context.Background(), "0xw", claim)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Hash != "0xc1a1" || tx.Kind != TxClaim {
		t.Errorf("tx = %+v", tx)
	}
	if got.Seed != claim.Seed || got.Score != 1200 || len(got.Played) != 2 || got.Played[0] != "1234567" {
		t.Errorf("ledger received %+v", got)
	}
}
