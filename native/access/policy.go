package access

import (
	"errors"
	"math/big"

	"repcollateral/native/reputation"
	"repcollateral/observability/metrics"
)

// ErrInvalidAmount is returned when a loan quote is requested for a nil or
// negative amount.
var ErrInvalidAmount = errors.New("access: amount must not be negative")

// tierSource resolves a user's live reputation tier.
type tierSource interface {
	GetReputationTier(user [20]byte) (reputation.Tier, error)
}

// AccessLevel is the tier row a user currently qualifies for.
type AccessLevel struct {
	Tier          reputation.Tier
	MaxLoanWei    *big.Int
	CollateralBps uint64
	DiscountBps   uint64
	Exclusive     bool
}

// LoanTerms is the evaluation of a requested amount. A rejected request is a
// result with Approved=false, never an error.
type LoanTerms struct {
	Approved           bool
	Tier               reputation.Tier
	Amount             *big.Int
	MaxAmount          *big.Int
	InterestRateBps    uint64
	RequiredCollateral *big.Int
}

// Policy translates reputation tiers into lending parameters. It holds no
// state of its own and reads the ledger on every call.
type Policy struct {
	source      tierSource
	baseRateBps uint64
	metrics     *metrics.ReputationMetrics
}

// NewPolicy builds a policy over source using the default base rate.
func NewPolicy(source tierSource) *Policy {
	return &Policy{source: source, baseRateBps: DefaultBaseRateBps}
}

// SetBaseRate overrides the undiscounted interest rate in basis points.
func (p *Policy) SetBaseRate(bps uint64) {
	if p == nil {
		return
	}
	p.baseRateBps = bps
}

// BaseRate returns the configured base rate.
func (p *Policy) BaseRate() uint64 {
	if p == nil {
		return DefaultBaseRateBps
	}
	return p.baseRateBps
}

// SetMetrics attaches prometheus collectors.
func (p *Policy) SetMetrics(m *metrics.ReputationMetrics) {
	if p == nil {
		return
	}
	p.metrics = m
}

// GetUserAccessLevel returns the access row for the user's current tier.
func (p *Policy) GetUserAccessLevel(user [20]byte) (AccessLevel, error) {
	tier, err := p.tier(user)
	if err != nil {
		return AccessLevel{}, err
	}
	row := TierFor(tier)
	return AccessLevel{
		Tier:          tier,
		MaxLoanWei:    row.MaxLoanWei,
		CollateralBps: row.CollateralBps,
		DiscountBps:   row.DiscountBps,
		Exclusive:     row.Exclusive,
	}, nil
}

// CalculateLoanTerms evaluates amount against the user's tier. The required
// collateral is quoted even when the request is not approved.
func (p *Policy) CalculateLoanTerms(user [20]byte, amount *big.Int) (LoanTerms, error) {
	if amount == nil || amount.Sign() < 0 {
		return LoanTerms{}, ErrInvalidAmount
	}
	tier, err := p.tier(user)
	if err != nil {
		return LoanTerms{}, err
	}
	row := TierFor(tier)
	terms := LoanTerms{
		Approved:           amount.Cmp(row.MaxLoanWei) <= 0,
		Tier:               tier,
		Amount:             new(big.Int).Set(amount),
		MaxAmount:          row.MaxLoanWei,
		InterestRateBps:    discountedRate(p.BaseRate(), row.DiscountBps),
		RequiredCollateral: applyBps(amount, row.CollateralBps),
	}
	p.metrics.ObserveLoanTerms(tier.String(), terms.Approved)
	return terms, nil
}

func (p *Policy) tier(user [20]byte) (reputation.Tier, error) {
	if p == nil || p.source == nil {
		return reputation.TierUnrated, errors.New("access: reputation source not configured")
	}
	return p.source.GetReputationTier(user)
}

func discountedRate(base, discount uint64) uint64 {
	if discount >= base {
		return 0
	}
	return base - discount
}

func applyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}
