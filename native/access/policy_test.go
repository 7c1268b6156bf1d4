package access

import (
	"errors"
	"math/big"
	"testing"

	"repcollateral/native/reputation"
)

type staticTiers map[[20]byte]reputation.Tier

func (s staticTiers) GetReputationTier(user [20]byte) (reputation.Tier, error) {
	return s[user], nil
}

type failingTiers struct{}

func (failingTiers) GetReputationTier([20]byte) (reputation.Tier, error) {
	return reputation.TierUnrated, errors.New("disk gone")
}

func user(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	unrated  = user(0)
	bronze   = user(1)
	silver   = user(2)
	gold     = user(3)
	platinum = user(4)
)

func newTestPolicy() *Policy {
	return NewPolicy(staticTiers{
		bronze:   reputation.TierBronze,
		silver:   reputation.TierSilver,
		gold:     reputation.TierGold,
		platinum: reputation.TierPlatinum,
	})
}

func TestGetUserAccessLevel(t *testing.T) {
	policy := newTestPolicy()
	cases := []struct {
		user       [20]byte
		tier       reputation.Tier
		maxLoan    *big.Int
		collateral uint64
		discount   uint64
		exclusive  bool
	}{
		{unrated, reputation.TierUnrated, big.NewInt(0), 15_000, 0, false},
		{bronze, reputation.TierBronze, tokens(10_000), 15_000, 0, false},
		{silver, reputation.TierSilver, tokens(50_000), 13_000, 50, false},
		{gold, reputation.TierGold, tokens(200_000), 11_000, 100, true},
		{platinum, reputation.TierPlatinum, tokens(1_000_000), 10_500, 200, true},
	}
	for _, tc := range cases {
		level, err := policy.GetUserAccessLevel(tc.user)
		if err != nil {
			t.Fatalf("access level for %s: %v", tc.tier, err)
		}
		if level.Tier != tc.tier {
			t.Fatalf("expected tier %s, got %s", tc.tier, level.Tier)
		}
		if level.MaxLoanWei.Cmp(tc.maxLoan) != 0 {
			t.Fatalf("%s: expected max loan %s, got %s", tc.tier, tc.maxLoan, level.MaxLoanWei)
		}
		if level.CollateralBps != tc.collateral || level.DiscountBps != tc.discount || level.Exclusive != tc.exclusive {
			t.Fatalf("%s: unexpected row %+v", tc.tier, level)
		}
	}
}

func TestCalculateLoanTermsGold(t *testing.T) {
	policy := newTestPolicy()
	terms, err := policy.CalculateLoanTerms(gold, tokens(100_000))
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	if !terms.Approved {
		t.Fatalf("expected approval")
	}
	if terms.RequiredCollateral.Cmp(tokens(110_000)) != 0 {
		t.Fatalf("expected 110k collateral, got %s", terms.RequiredCollateral)
	}
	if terms.InterestRateBps != 400 {
		t.Fatalf("expected 400 bps, got %d", terms.InterestRateBps)
	}
	if terms.MaxAmount.Cmp(tokens(200_000)) != 0 {
		t.Fatalf("unexpected max amount %s", terms.MaxAmount)
	}
}

func TestCalculateLoanTermsRejectionIsNotAnError(t *testing.T) {
	policy := newTestPolicy()
	terms, err := policy.CalculateLoanTerms(bronze, tokens(50_000))
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	if terms.Approved {
		t.Fatalf("bronze must not borrow 50k")
	}
	if terms.MaxAmount.Cmp(tokens(10_000)) != 0 {
		t.Fatalf("max amount should echo the tier ceiling, got %s", terms.MaxAmount)
	}
	if terms.RequiredCollateral.Cmp(tokens(75_000)) != 0 {
		t.Fatalf("collateral should be quoted on rejection, got %s", terms.RequiredCollateral)
	}
}

func TestCalculateLoanTermsBoundary(t *testing.T) {
	policy := newTestPolicy()
	ceiling := tokens(50_000)

	terms, err := policy.CalculateLoanTerms(silver, ceiling)
	if err != nil || !terms.Approved {
		t.Fatalf("exact ceiling must be approved: %+v %v", terms, err)
	}
	over := new(big.Int).Add(ceiling, big.NewInt(1))
	terms, err = policy.CalculateLoanTerms(silver, over)
	if err != nil || terms.Approved {
		t.Fatalf("ceiling plus one wei must be rejected: %+v %v", terms, err)
	}
	if terms.InterestRateBps != 450 {
		t.Fatalf("expected 450 bps, got %d", terms.InterestRateBps)
	}
}

func TestCalculateLoanTermsUnratedAndZero(t *testing.T) {
	policy := newTestPolicy()
	terms, err := policy.CalculateLoanTerms(unrated, big.NewInt(1))
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	if terms.Approved || terms.MaxAmount.Sign() != 0 {
		t.Fatalf("unrated users cannot borrow: %+v", terms)
	}
	for _, who := range [][20]byte{bronze, unrated} {
		terms, err = policy.CalculateLoanTerms(who, big.NewInt(0))
		if err != nil {
			t.Fatalf("terms: %v", err)
		}
		if !terms.Approved || terms.RequiredCollateral.Sign() != 0 {
			t.Fatalf("zero amount is within every ceiling: %+v", terms)
		}
	}
	if _, err := policy.CalculateLoanTerms(platinum, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := policy.CalculateLoanTerms(platinum, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestInterestRateFloorsAtZero(t *testing.T) {
	policy := newTestPolicy()
	policy.SetBaseRate(150)
	terms, err := policy.CalculateLoanTerms(platinum, tokens(1))
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	if terms.InterestRateBps != 0 {
		t.Fatalf("expected rate floored at zero, got %d", terms.InterestRateBps)
	}
}

func TestPolicyPropagatesStorageFailure(t *testing.T) {
	policy := NewPolicy(failingTiers{})
	if _, err := policy.GetUserAccessLevel(gold); err == nil {
		t.Fatalf("expected storage failure to surface")
	}
}

func TestReturnedRowsAreCopies(t *testing.T) {
	policy := newTestPolicy()
	level, err := policy.GetUserAccessLevel(gold)
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	level.MaxLoanWei.SetInt64(1)
	again, _ := policy.GetUserAccessLevel(gold)
	if again.MaxLoanWei.Cmp(tokens(200_000)) != 0 {
		t.Fatalf("tier table mutated through returned value")
	}
}

func TestValidateTiersRejectsRegressions(t *testing.T) {
	rows := Tiers()
	rows[2].CollateralBps = rows[1].CollateralBps + 1
	if err := ValidateTiers(rows); err == nil {
		t.Fatalf("expected collateral regression to be rejected")
	}
	rows = Tiers()
	rows[1].MinScore = 350
	if err := ValidateTiers(rows); err == nil {
		t.Fatalf("expected threshold mismatch to be rejected")
	}
	if err := ValidateTiers(Tiers()); err != nil {
		t.Fatalf("built-in table invalid: %v", err)
	}
}
