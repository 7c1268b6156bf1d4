package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"repcollateral/crypto"
	"repcollateral/native/access"
	"repcollateral/native/lending"
	"repcollateral/native/reputation"
)

type reputationJSON struct {
	User    string            `json:"user"`
	Total   uint64            `json:"total"`
	Tier    string            `json:"tier"`
	Active  bool              `json:"active"`
	Updates uint64            `json:"updates"`
	Scores  map[string]uint64 `json:"scores"`
}

type tierJSON struct {
	User  string `json:"user"`
	Tier  string `json:"tier"`
	Level uint8  `json:"level"`
}

type accessLevelJSON struct {
	User          string `json:"user,omitempty"`
	Tier          string `json:"tier"`
	MinScore      uint64 `json:"minScore"`
	MaxLoan       string `json:"maxLoan"`
	CollateralBps uint64 `json:"collateralBps"`
	DiscountBps   uint64 `json:"discountBps"`
	Exclusive     bool   `json:"exclusive"`
}

type loanTermsJSON struct {
	User               string `json:"user"`
	Approved           bool   `json:"approved"`
	Tier               string `json:"tier"`
	Amount             string `json:"amount"`
	MaxAmount          string `json:"maxAmount"`
	InterestRateBps    uint64 `json:"interestRateBps"`
	RequiredCollateral string `json:"requiredCollateral"`
}

type loanJSON struct {
	Borrower        string `json:"borrower"`
	Amount          string `json:"amount"`
	Collateral      string `json:"collateral"`
	Interest        string `json:"interest"`
	AmountDue       string `json:"amountDue"`
	InterestRateBps uint64 `json:"interestRateBps"`
	Tier            string `json:"tier"`
	StartTime       uint64 `json:"startTime"`
	DueTime         uint64 `json:"dueTime"`
	Active          bool   `json:"active"`
	ClosedTime      uint64 `json:"closedTime,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
}

type poolJSON struct {
	Available      string `json:"available"`
	Borrowed       string `json:"borrowed"`
	Collateral     string `json:"collateral"`
	InterestEarned string `json:"interestEarned"`
	ActiveLoans    uint64 `json:"activeLoans"`
}

func formatAddress(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

// parseAmount accepts a non-negative base-10 integer in wei.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return amount, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatReputation(user [20]byte, snapshot reputation.Snapshot) reputationJSON {
	scores := make(map[string]uint64, len(snapshot.Scores))
	for _, category := range reputation.Categories() {
		if int(category) < len(snapshot.Scores) {
			scores[category.String()] = snapshot.Scores[category]
		}
	}
	return reputationJSON{
		User:    formatAddress(user),
		Total:   snapshot.Total,
		Tier:    reputation.Classify(snapshot.Total).String(),
		Active:  snapshot.Active,
		Updates: snapshot.Updates,
		Scores:  scores,
	}
}

func formatAccessTier(row access.AccessTier) accessLevelJSON {
	return accessLevelJSON{
		Tier:          row.Tier.String(),
		MinScore:      row.MinScore,
		MaxLoan:       formatAmount(row.MaxLoanWei),
		CollateralBps: row.CollateralBps,
		DiscountBps:   row.DiscountBps,
		Exclusive:     row.Exclusive,
	}
}

func formatAccessLevel(user [20]byte, level access.AccessLevel) accessLevelJSON {
	return accessLevelJSON{
		User:          formatAddress(user),
		Tier:          level.Tier.String(),
		MinScore:      level.Tier.MinScore(),
		MaxLoan:       formatAmount(level.MaxLoanWei),
		CollateralBps: level.CollateralBps,
		DiscountBps:   level.DiscountBps,
		Exclusive:     level.Exclusive,
	}
}

func formatLoanTerms(user [20]byte, terms access.LoanTerms) loanTermsJSON {
	return loanTermsJSON{
		User:               formatAddress(user),
		Approved:           terms.Approved,
		Tier:               terms.Tier.String(),
		Amount:             formatAmount(terms.Amount),
		MaxAmount:          formatAmount(terms.MaxAmount),
		InterestRateBps:    terms.InterestRateBps,
		RequiredCollateral: formatAmount(terms.RequiredCollateral),
	}
}

func formatLoan(borrower [20]byte, loan *lending.Loan) loanJSON {
	if loan == nil {
		loan = &lending.Loan{}
	}
	due := "0"
	if loan.Active {
		due = formatAmount(loan.AmountDue())
	}
	return loanJSON{
		Borrower:        formatAddress(borrower),
		Amount:          formatAmount(loan.Amount),
		Collateral:      formatAmount(loan.Collateral),
		Interest:        formatAmount(loan.Interest),
		AmountDue:       due,
		InterestRateBps: loan.InterestRateBps,
		Tier:            reputation.Tier(loan.Tier).String(),
		StartTime:       loan.StartTime,
		DueTime:         loan.DueTime,
		Active:          loan.Active,
		ClosedTime:      loan.ClosedTime,
		Outcome:         loan.Outcome,
	}
}

func formatPool(pool *lending.Pool) poolJSON {
	if pool == nil {
		pool = &lending.Pool{}
	}
	return poolJSON{
		Available:      formatAmount(pool.Available),
		Borrowed:       formatAmount(pool.Borrowed),
		Collateral:     formatAmount(pool.Collateral),
		InterestEarned: formatAmount(pool.InterestEarned),
		ActiveLoans:    pool.ActiveLoans,
	}
}
