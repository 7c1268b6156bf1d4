package access

import (
	"errors"
	"fmt"
	"math/big"

	"repcollateral/native/reputation"
)

const (
	// BasisPoints is the denominator for every ratio in the tier table.
	BasisPoints uint64 = 10_000
	// DefaultBaseRateBps is the annual rate charged before tier discounts.
	DefaultBaseRateBps uint64 = 500
	// unratedCollateralBps mirrors the Bronze ratio so collateral quotes for
	// unrated users stay meaningful even though they cannot borrow.
	unratedCollateralBps uint64 = 15_000
)

var (
	basisPoints = new(big.Int).SetUint64(BasisPoints)
	weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerToken)
}

// AccessTier is a static row of lending parameters granted to a reputation
// tier.
type AccessTier struct {
	Tier          reputation.Tier
	MinScore      uint64
	MaxLoanWei    *big.Int
	CollateralBps uint64
	DiscountBps   uint64
	Exclusive     bool
}

// Clone returns a deep copy so callers cannot mutate the shared table.
func (t AccessTier) Clone() AccessTier {
	clone := t
	if t.MaxLoanWei != nil {
		clone.MaxLoanWei = new(big.Int).Set(t.MaxLoanWei)
	} else {
		clone.MaxLoanWei = big.NewInt(0)
	}
	return clone
}

var unratedTier = AccessTier{
	Tier:          reputation.TierUnrated,
	MaxLoanWei:    big.NewInt(0),
	CollateralBps: unratedCollateralBps,
}

// defaultTiers is ordered by ascending MinScore.
var defaultTiers = []AccessTier{
	{Tier: reputation.TierBronze, MinScore: 200, MaxLoanWei: tokens(10_000), CollateralBps: 15_000, DiscountBps: 0},
	{Tier: reputation.TierSilver, MinScore: 400, MaxLoanWei: tokens(50_000), CollateralBps: 13_000, DiscountBps: 50},
	{Tier: reputation.TierGold, MinScore: 600, MaxLoanWei: tokens(200_000), CollateralBps: 11_000, DiscountBps: 100, Exclusive: true},
	{Tier: reputation.TierPlatinum, MinScore: 800, MaxLoanWei: tokens(1_000_000), CollateralBps: 10_500, DiscountBps: 200, Exclusive: true},
}

func init() {
	if err := ValidateTiers(defaultTiers); err != nil {
		panic(err)
	}
}

var errTierTable = errors.New("access: invalid tier table")

// ValidateTiers checks that rows are ordered by score, that each row matches
// the reputation classifier threshold, and that better tiers never receive
// worse terms.
func ValidateTiers(rows []AccessTier) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: empty", errTierTable)
	}
	for i, row := range rows {
		if !row.Tier.Valid() || row.Tier == reputation.TierUnrated {
			return fmt.Errorf("%w: row %d has tier %s", errTierTable, i, row.Tier)
		}
		if row.MinScore != row.Tier.MinScore() {
			return fmt.Errorf("%w: %s min score %d does not match classifier threshold %d",
				errTierTable, row.Tier, row.MinScore, row.Tier.MinScore())
		}
		if row.MaxLoanWei == nil || row.MaxLoanWei.Sign() <= 0 {
			return fmt.Errorf("%w: %s max loan must be positive", errTierTable, row.Tier)
		}
		if row.CollateralBps < BasisPoints {
			return fmt.Errorf("%w: %s collateral ratio %d below 100%%", errTierTable, row.Tier, row.CollateralBps)
		}
		if i == 0 {
			continue
		}
		prev := rows[i-1]
		switch {
		case row.MinScore <= prev.MinScore:
			return fmt.Errorf("%w: %s not above %s", errTierTable, row.Tier, prev.Tier)
		case row.MaxLoanWei.Cmp(prev.MaxLoanWei) < 0:
			return fmt.Errorf("%w: %s max loan below %s", errTierTable, row.Tier, prev.Tier)
		case row.CollateralBps > prev.CollateralBps:
			return fmt.Errorf("%w: %s collateral ratio above %s", errTierTable, row.Tier, prev.Tier)
		case row.DiscountBps < prev.DiscountBps:
			return fmt.Errorf("%w: %s discount below %s", errTierTable, row.Tier, prev.Tier)
		case prev.Exclusive && !row.Exclusive:
			return fmt.Errorf("%w: %s loses exclusive access held by %s", errTierTable, row.Tier, prev.Tier)
		}
	}
	return nil
}

// Tiers returns a copy of the built-in table.
func Tiers() []AccessTier {
	out := make([]AccessTier, len(defaultTiers))
	for i, row := range defaultTiers {
		out[i] = row.Clone()
	}
	return out
}

// TierFor returns the row for tier. Unrated and unknown tiers resolve to the
// zero-limit row.
func TierFor(tier reputation.Tier) AccessTier {
	for _, row := range defaultTiers {
		if row.Tier == tier {
			return row.Clone()
		}
	}
	return unratedTier.Clone()
}
