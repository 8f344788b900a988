package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Sentinel errors for the ledger. Call sites wrap these with context via
// fmt.Errorf("pkg: ...: %w", err); the typed errors below also match their
// sentinel through errors.Is so callers can branch without unpacking fields.
var (
	// Validation.
	ErrZeroAddress    = errors.New("zero address")
	ErrSelfDealing    = errors.New("buyer and supplier must differ")
	ErrZeroAmount     = errors.New("zero amount")
	ErrMaturityInPast = errors.New("maturity date not in the future")
	ErrInvalidRate    = errors.New("discount rate out of range")
	ErrAmountTooLarge = errors.New("amount exceeds 128 bits")
	ErrInvalidWeight  = errors.New("invalid strategy weight")

	// Authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// State.
	ErrInvalidStatus     = errors.New("invalid invoice status for transition")
	ErrNotOverdue        = errors.New("invoice not overdue")
	ErrPoolHalted        = errors.New("pool is halted")
	ErrRebalanceCooldown = errors.New("rebalance cooldown not elapsed")
	ErrStrategyExists    = errors.New("strategy already registered")
	ErrTooManyStrategies = errors.New("strategy limit reached")
	ErrWeightOverflow    = errors.New("total strategy weight exceeds 10000 bps")
	ErrStrategyPaused    = errors.New("strategy is paused")

	// Resources.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientBuffer    = errors.New("liquidity buffer would be breached")
	ErrAllocationCap         = errors.New("treasury allocation cap exceeded")
	ErrTreasuryManagerNotSet = errors.New("treasury manager not set")
	ErrSlippageExceeded      = errors.New("slippage tolerance exceeded")
	ErrTransferFailed        = errors.New("asset transfer failed")

	// Not found.
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrNotFound         = errors.New("not found")
)

// InvalidStatusError reports a state-machine transition attempted from the
// wrong status. It matches ErrInvalidStatus via errors.Is.
type InvalidStatusError struct {
	InvoiceID uint64
	Expected  []InvoiceStatus
	Actual    InvoiceStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invoice %d: status %s, want one of %v", e.InvoiceID, e.Actual, e.Expected)
}

func (e *InvalidStatusError) Is(target error) bool { return target == ErrInvalidStatus }

// NewInvalidStatus builds an InvalidStatusError for the given transition.
func NewInvalidStatus(id uint64, actual InvoiceStatus, expected ...InvoiceStatus) error {
	return &InvalidStatusError{InvoiceID: id, Expected: expected, Actual: actual}
}

// UnauthorizedError reports a caller lacking the role an operation requires.
// It matches ErrUnauthorized via errors.Is.
type UnauthorizedError struct {
	Caller   common.Address
	Required Role
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("caller %s lacks role %q", e.Caller.Hex(), e.Required)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// SlippageError reports a treasury withdrawal that returned less value than
// the configured tolerance allows. It matches ErrSlippageExceeded via
// errors.Is.
type SlippageError struct {
	Requested *uint256.Int
	Received  *uint256.Int
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("slippage exceeded: requested %s, received %s", e.Requested.Dec(), e.Received.Dec())
}

func (e *SlippageError) Is(target error) bool { return target == ErrSlippageExceeded }
