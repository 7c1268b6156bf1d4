package lending

import "math/big"

// Loan is the single open or most recently closed loan of a borrower. Amount
// values are denominated in wei.
type Loan struct {
	Borrower        [20]byte
	Amount          *big.Int
	Collateral      *big.Int
	Interest        *big.Int
	InterestRateBps uint64
	// Tier records the reputation tier the loan was priced at.
	Tier      uint8
	StartTime uint64
	DueTime   uint64
	Active    bool
	// ClosedTime is zero while the loan is active.
	ClosedTime uint64
	Outcome    string
}

// Loan outcomes recorded when a loan closes.
const (
	OutcomeRepaid     = "repaid"
	OutcomeLate       = "late"
	OutcomeFlash      = "flash"
	OutcomeLiquidated = "liquidated"
)

// Pool aggregates the coordinator's liquidity accounting.
type Pool struct {
	// Available is liquidity that can be lent out.
	Available *big.Int
	// Borrowed is outstanding principal across active loans.
	Borrowed *big.Int
	// Collateral is posted collateral held against active loans.
	Collateral *big.Int
	// InterestEarned accumulates interest paid on repayment.
	InterestEarned *big.Int
	ActiveLoans    uint64
}

func newPool() *Pool {
	p := &Pool{}
	p.ensureDefaults()
	return p
}

func (p *Pool) ensureDefaults() {
	if p.Available == nil {
		p.Available = big.NewInt(0)
	}
	if p.Borrowed == nil {
		p.Borrowed = big.NewInt(0)
	}
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.InterestEarned == nil {
		p.InterestEarned = big.NewInt(0)
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		Available:      cloneInt(p.Available),
		Borrowed:       cloneInt(p.Borrowed),
		Collateral:     cloneInt(p.Collateral),
		InterestEarned: cloneInt(p.InterestEarned),
		ActiveLoans:    p.ActiveLoans,
	}
}

func (l *Loan) ensureDefaults() {
	if l.Amount == nil {
		l.Amount = big.NewInt(0)
	}
	if l.Collateral == nil {
		l.Collateral = big.NewInt(0)
	}
	if l.Interest == nil {
		l.Interest = big.NewInt(0)
	}
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = cloneInt(l.Amount)
	clone.Collateral = cloneInt(l.Collateral)
	clone.Interest = cloneInt(l.Interest)
	return &clone
}

// AmountDue is principal plus interest.
func (l *Loan) AmountDue() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(cloneInt(l.Amount), cloneInt(l.Interest))
}
