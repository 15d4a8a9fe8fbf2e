// Package ledger talks to the authoritative seed ledger.
//
// The ledger issues seeds, records which are unclaimed and pays out claims.
// Writes return a TxHandle whose Receipt appears asynchronously; Waiter
// polls for it with a bounded retry policy.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrLedgerTimeout means a receipt did not appear within the retry
	// budget. The transaction may still land; callers must not treat it
	// as success.
	ErrLedgerTimeout = errors.New("ledger: receipt timeout")

	// ErrLedgerRateLimited is matched by rate-limit-class failures.
	ErrLedgerRateLimited = errors.New("ledger: rate limited")

	// ErrTxFailed means the transaction was mined but reverted.
	ErrTxFailed = errors.New("ledger: transaction failed")

	// ErrWrongNetwork means the ledger reports an unexpected chain id.
	ErrWrongNetwork = errors.New("ledger: wrong network")
)

// TxKind names the write a TxHandle belongs to.
type TxKind string

const (
	TxFreeSeeds TxKind = "free_seeds"
	TxBuySeeds  TxKind = "buy_seeds"
	TxClaim     TxKind = "claim"
)

// TxHandle identifies a submitted write.
type TxHandle struct {
	Hash string `json:"hash"`
	Kind TxKind `json:"kind"`
}

// Receipt is the settled result of a write. Seeds is set for grants,
// Score for claims.
type Receipt struct {
	TxHash      string   `json:"txHash"`
	Status      int      `json:"status"`
	BlockNumber uint64   `json:"blockNumber"`
	Seeds       []string `json:"seeds,omitempty"`
	Score       int64    `json:"score,omitempty"`
}

// Succeeded reports a status of 1.
func (r Receipt) Succeeded() bool { return r.Status == 1 }

// ScorePreview is the ledger's view of what a claim would pay.
type ScorePreview struct {
	Score           int64 `json:"score"`
	SeedsConsidered int   `json:"seedsConsidered"`
}

// Claim is what a claim transaction submits: the seed it is made with, the
// session's accumulated score and the seeds played since the last claim.
// Only Played seeds (and Seed) are consumed; unplayed seeds stay unclaimed.
type Claim struct {
	Seed   string   `json:"seed"`
	Score  int64    `json:"score"`
	Played []string `json:"played"`
}

// Ledger is the remote collaborator. GetReceipt returns (nil, nil) while a
// transaction is pending.
type Ledger interface {
	ChainID(ctx context.Context) (int64, error)
	RequestFreeSeeds(ctx context.Context, wallet string) (TxHandle, error)
	BuySeeds(ctx context.Context, wallet string, count int, price decimal.Decimal) (TxHandle, error)
	GetReceipt(ctx context.Context, tx TxHandle) (*Receipt, error)
	GetUnclaimedSeeds(ctx context.Context, wallet string) ([]string, error)
	ClaimScore(ctx context.Context, wallet string, claim Claim) (TxHandle, error)
	GetScorePreview(ctx context.Context, wallet string, claim Claim) (ScorePreview, error)
}

// CheckNetwork fails with ErrWrongNetwork unless l reports want.
func CheckNetwork(ctx context.Context, l Ledger, want int64) error {
	got, err := l.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("ledger: chain id: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: connected to chain %d, expected %d", ErrWrongNetwork, got, want)
	}
	return nil
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger: rpc error %d: %s", e.Code, e.Message)
}

// Rate-limit codes used by common gateways.
const (
	codeLimitExceeded   = -32005
	codeRequestLimit    = -32007
	codeInternalError   = -32603
	codeResourceUnavail = -32002
)

// IsRateLimited reports gateway throttling.
func (e *RPCError) IsRateLimited() bool {
	if e.Code == codeLimitExceeded || e.Code == codeRequestLimit {
		return true
	}
	return isRateLimitMessage(e.Message)
}

// IsRetryable reports rate limits and transient server-side failures.
func (e *RPCError) IsRetryable() bool {
	return e.IsRateLimited() || e.Code == codeInternalError || e.Code == codeResourceUnavail
}

// Is lets errors.Is match ErrLedgerRateLimited.
func (e *RPCError) Is(target error) bool {
	return target == ErrLedgerRateLimited && e.IsRateLimited()
}

// HTTPError is a non-200 gateway response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ledger: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited returns true for 429 and 403.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == 429 || e.StatusCode == 403
}

// IsRetryable returns true for rate limits and 5xx.
func (e *HTTPError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrLedgerRateLimited && e.IsRateLimited()
}

func isRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "/second")
}

// IsRetryable classifies any error returned by a Ledger.
func IsRetryable(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.IsRetryable()
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return errors.Is(err, ErrLedgerRateLimited)
}
