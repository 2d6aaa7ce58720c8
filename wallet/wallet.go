/*
Package wallet is the ledger adapter for the two payment rails.

PURPOSE:
  The points rail is an internal integer balance, one wallet per
  requester, which must never go negative. The money rail passes charges
  and refunds through to an external payment gateway; this package ships
  a recording stub for it.

CRITICAL INVARIANTS:
  1. Balance >= 0 always: a debit that would overdraw is rejected whole,
     never partially applied.
  2. Debit/credit are atomic per wallet: concurrent operations on one
     wallet must not interleave into an inconsistent balance. The SQLite
     store enforces this with a guarded UPDATE; the memory store with a
     per-store mutex.

SEE ALSO:
  - booking/manager.go: Debits on create, credits on cancel
  - store/sqlite/sqlite.go: Production Store implementation
*/
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInsufficientFunds is returned when a debit would overdraw a wallet.
	// No partial charge is ever applied.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound is returned when the requester has no wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInvalidAmount is returned for zero or negative debit/credit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientFundsError carries the required vs available amounts so the
// caller can show the shortfall.
type InsufficientFundsError struct {
	Account   string
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s requires %d points, has %d",
		e.Account, e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// =============================================================================
// POINTS RAIL - Wallet store
// =============================================================================

// Store holds per-requester points balances.
//
// Debit and Credit must each be atomic against concurrent operations on
// the same wallet.
type Store interface {
	// GetBalance returns the current points balance.
	GetBalance(ctx context.Context, account string) (int64, error)

	// Debit removes amount points. Fails with InsufficientFundsError if
	// the balance would go negative; the balance is then untouched.
	Debit(ctx context.Context, account string, amount int64) error

	// Credit adds amount points.
	Credit(ctx context.Context, account string, amount int64) error
}

// =============================================================================
// MONEY RAIL - Pass-through gateway
// =============================================================================

// Gateway is the monetary rail. Charges and refunds are settled by an
// external payment provider; the engine only initiates them.
type Gateway interface {
	Charge(ctx context.Context, account string, amount decimal.Decimal, reference string) error
	Refund(ctx context.Context, account string, amount decimal.Decimal, reference string) error
}
