package events

import (
	"math/big"
	"strconv"

	"repcollateral/core/types"
)

const (
	TypeLoanIssued     = "lending.loanIssued"
	TypeLoanRepaid     = "lending.loanRepaid"
	TypeLoanLiquidated = "lending.loanLiquidated"
	TypePoolSupplied   = "lending.poolSupplied"
)

// LoanIssued is emitted when a borrower draws a loan from the pool.
type LoanIssued struct {
	Borrower   [20]byte
	Tier       string
	Amount     *big.Int
	Collateral *big.Int
	Interest   *big.Int
	RateBps    uint64
	DueTime    int64
}

// EventType implements the Event interface.
func (LoanIssued) EventType() string { return TypeLoanIssued }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e LoanIssued) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanIssued,
		Attributes: map[string]string{
			"borrower":   formatAddress(e.Borrower),
			"tier":       e.Tier,
			"amount":     formatAmount(e.Amount),
			"collateral": formatAmount(e.Collateral),
			"interest":   formatAmount(e.Interest),
			"rateBps":    strconv.FormatUint(e.RateBps, 10),
			"dueTime":    strconv.FormatInt(e.DueTime, 10),
		},
	}
}

// LoanRepaid is emitted when a borrower closes their loan.
type LoanRepaid struct {
	Borrower [20]byte
	Amount   *big.Int
	Interest *big.Int
	Late     bool
	Flash    bool
}

// EventType implements the Event interface.
func (LoanRepaid) EventType() string { return TypeLoanRepaid }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepaid,
		Attributes: map[string]string{
			"borrower": formatAddress(e.Borrower),
			"amount":   formatAmount(e.Amount),
			"interest": formatAmount(e.Interest),
			"late":     strconv.FormatBool(e.Late),
			"flash":    strconv.FormatBool(e.Flash),
		},
	}
}

// LoanLiquidated is emitted when an overdue loan is closed by seizing its
// collateral.
type LoanLiquidated struct {
	Borrower   [20]byte
	Liquidator [20]byte
	Amount     *big.Int
	Collateral *big.Int
}

// EventType implements the Event interface.
func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e LoanLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanLiquidated,
		Attributes: map[string]string{
			"borrower":   formatAddress(e.Borrower),
			"liquidator": formatAddress(e.Liquidator),
			"amount":     formatAmount(e.Amount),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

// PoolSupplied is emitted when the owner adds liquidity to the pool.
type PoolSupplied struct {
	Supplier  [20]byte
	Amount    *big.Int
	Available *big.Int
}

// EventType implements the Event interface.
func (PoolSupplied) EventType() string { return TypePoolSupplied }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e PoolSupplied) Event() *types.Event {
	return &types.Event{
		Type: TypePoolSupplied,
		Attributes: map[string]string{
			"supplier":  formatAddress(e.Supplier),
			"amount":    formatAmount(e.Amount),
			"available": formatAmount(e.Available),
		},
	}
}
