package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// errPending marks a receipt that has not appeared yet.
var errPending = errors.New("ledger: receipt pending")

// Policy bounds how long a receipt is waited for.
type Policy struct {
	// Attempts caps the number of polls.
	Attempts uint64
	// Base is the first delay between polls.
	Base time.Duration
	// MaxDelay caps the exponential delay.
	MaxDelay time.Duration
	// RateLimitPause is added before the next poll after throttling.
	RateLimitPause time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
}

// DefaultPolicy matches the reference client: 15 polls starting 1.5s
// apart, a 5s pause on gateway throttling and a two minute ceiling.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       15,
		Base:           1500 * time.Millisecond,
		MaxDelay:       6 * time.Second,
		RateLimitPause: 5 * time.Second,
		Timeout:        2 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Attempts == 0 {
		p.Attempts = def.Attempts
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	// Attempts counts polls; WithMaxRetries counts retries after the first.
	b = retry.WithMaxRetries(p.Attempts-1, b)
	return retry.WithMaxDuration(p.Timeout, b)
}

// Do runs fn, retrying retryable ledger errors under p. Non-retryable
// errors are returned at once.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if errors.Is(err, ErrLedgerRateLimited) && p.RateLimitPause > 0 {
			if serr := sleep(ctx, p.RateLimitPause); serr != nil {
				return serr
			}
		}
		return retry.RetryableError(err)
	})
}

// Waiter polls a Ledger for receipts.
type Waiter struct {
	ledger Ledger
	policy Policy
	log    zerolog.Logger
}

// NewWaiter returns a Waiter using policy.
func NewWaiter(l Ledger, policy Policy, log zerolog.Logger) *Waiter {
	return &Waiter{
		ledger: l,
		policy: policy.withDefaults(),
		log:    log.With().Str("component", "ledger-waiter").Logger(),
	}
}

// WaitForReceipt polls until tx settles. Exhausting the policy yields
// ErrLedgerTimeout wrapping the last failure. A reverted transaction
// yields ErrTxFailed.
func (w *Waiter) WaitForReceipt(ctx context.Context, tx TxHandle) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.policy.Timeout)
	defer cancel()

	var (
		rc      *Receipt
		attempt int
	)
	err := retry.Do(ctx, w.policy.backoff(), func(ctx context.Context) error {
		attempt++
		got, err := w.ledger.GetReceipt(ctx, tx)
		switch {
		case err == nil && got == nil:
			w.log.Debug().Str("tx", tx.Hash).Int("attempt", attempt).Msg("receipt pending")
			return retry.RetryableError(errPending)
		case err == nil:
			rc = got
			return nil
		case errors.Is(err, ErrLedgerRateLimited):
			w.log.Warn().Str("tx", tx.Hash).Int("attempt", attempt).Err(err).Msg("ledger rate limit, pausing")
			if serr := sleep(ctx, w.policy.RateLimitPause); serr != nil {
				return serr
			}
			return retry.RetryableError(err)
		case IsRetryable(err):
			return retry.RetryableError(err)
		default:
			return err
		}
	})

	if err != nil {
		if IsRetryable(err) || errors.Is(err, errPending) || errors.Is(err, context.DeadlineExceeded) {
			return Receipt{}, fmt.Errorf("%w: tx %s after %d attempts: %w", ErrLedgerTimeout, tx.Hash, attempt, err)
		}
		return Receipt{}, err
	}
	if !rc.Succeeded() {
		return *rc, fmt.Errorf("%w: tx %s status %d", ErrTxFailed, tx.Hash, rc.Status)
	}
	return *rc, nil
}

// WaitForGrant waits for a seed-granting transaction and returns the
// issued seed values in grant order.
func (w *Waiter) WaitForGrant(ctx context.Context, tx TxHandle) ([]string, error) {
	rc, err := w.WaitForReceipt(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(rc.Seeds) == 0 {
		return nil, fmt.Errorf("ledger: tx %s granted no seeds", tx.Hash)
	}
	return rc.Seeds, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
