package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Receipt describes a settled on-chain transfer.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	ExplorerURL string `json:"explorer_url"`
}

// Adapter executes ERC-20 transfers from the platform's operator wallet.
// Implementations must not hold database state; callers treat every failure
// as retryable after running their compensating ledger write.
type Adapter interface {
	// Enabled reports whether on-chain settlement is configured at all.
	// When false, withdrawals are queued for manual batch distribution.
	Enabled() bool

	// Transfer moves amount (whole tokens, decimal) to the wallet address
	// and blocks until the bridge reports a result.
	Transfer(ctx context.Context, walletAddress string, amount decimal.Decimal) (*Receipt, error)
}

// ErrInsufficientOperatorFunds means the operator wallet cannot cover the
// transfer; user balances are unaffected.
var ErrInsufficientOperatorFunds = errors.New("chain: insufficient operator funds")

// TransferError wraps a network or contract failure from the bridge.
type TransferError struct {
	Wallet string
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("chain: transfer to %s failed: %s", e.Wallet, e.Reason)
	}
	return fmt.Sprintf("chain: transfer to %s failed", e.Wallet)
}

func (e *TransferError) Unwrap() error { return e.Err }

type disabled struct{}

// Disabled returns an adapter with settlement switched off.
func Disabled() Adapter { return disabled{} }

func (disabled) Enabled() bool { return false }

func (disabled) Transfer(context.Context, string, decimal.Decimal) (*Receipt, error) {
	return nil, errors.New("chain: settlement disabled")
}

// MinorUnitsToTokens renders ledger minor units (2 decimal places) as the
// whole-token decimal amount the bridge expects.
func MinorUnitsToTokens(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
