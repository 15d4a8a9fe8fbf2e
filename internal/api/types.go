package api

import (
	"github.com/MJE43/pf-slot-go/internal/config"
	"github.com/MJE43/pf-slot-go/internal/reels"
	"github.com/MJE43/pf-slot-go/internal/session"
)

// APIError is the body of every failed request.
type APIError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

// Error types.
const (
	ErrTypeInvalidSeed    = "invalid_seed"
	ErrTypeValidation     = "validation_error"
	ErrTypeBundleNotFound = "bundle_not_found"
	ErrTypeUnauthorized   = "unauthorized"

	ErrTypeSpinInFlight    = "spin_in_flight"
	ErrTypeNoCredits       = "no_credits"
	ErrTypeNothingToClaim  = "nothing_to_claim"
	ErrTypeClaimInProgress = "claim_in_progress"
	ErrTypeThrottled       = "action_throttled"

	ErrTypeLedgerTimeout     = "ledger_timeout"
	ErrTypeLedgerRateLimited = "ledger_rate_limited"
	ErrTypeTxFailed          = "transaction_failed"
	ErrTypeWrongNetwork      = "wrong_network"
	ErrTypeLedger            = "ledger_error"

	ErrTypeTimeout  = "timeout"
	ErrTypeInternal = "internal_error"
)

// ErrorCategory groups error types for logging.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategorySession    ErrorCategory = "session"
	CategoryLedger     ErrorCategory = "ledger"
	CategorySystem     ErrorCategory = "system"
)

// GetErrorCategory returns the category for an error type.
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidSeed, ErrTypeValidation, ErrTypeBundleNotFound, ErrTypeUnauthorized:
		return CategoryValidation
	case ErrTypeSpinInFlight, ErrTypeNoCredits, ErrTypeNothingToClaim, ErrTypeClaimInProgress, ErrTypeThrottled:
		return CategorySession
	case ErrTypeLedgerTimeout, ErrTypeLedgerRateLimited, ErrTypeTxFailed, ErrTypeWrongNetwork, ErrTypeLedger:
		return CategoryLedger
	default:
		return CategorySystem
	}
}

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// SpinRequest optionally paces the reels server side.
type SpinRequest struct {
	FrameIntervalMs int `json:"frame_interval_ms,omitempty"`
}

// SessionResponse is a wallet's session with derived counters.
type SessionResponse struct {
	Wallet     string         `json:"wallet"`
	Seeds      []session.Seed `json:"seeds"`
	PaidSeeds  []session.Seed `json:"paidSeeds"`
	TotalScore int64          `json:"totalScore"`
	Credits    int            `json:"credits"`
	Spinning   bool           `json:"spinning"`
	Dirty      bool           `json:"dirty"`
}

// FramesResponse snapshots the reels.
type FramesResponse struct {
	Spinning bool          `json:"spinning"`
	Frames   []reels.Frame `json:"frames"`
}

// BundlesResponse lists purchasable bundles.
type BundlesResponse struct {
	Bundles []config.Bundle `json:"bundles"`
}

// AutoplayRequest starts a scripted run.
type AutoplayRequest struct {
	Script          string `json:"script"`
	MaxSpins        int    `json:"max_spins"`
	FrameIntervalMs int    `json:"frame_interval_ms,omitempty"`
}
