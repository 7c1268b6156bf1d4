package reputation

import (
	"fmt"
	"strings"
)

const (
	// MinScore is the floor applied to every category score.
	MinScore uint64 = 0
	// MaxScore is the ceiling applied to every category score.
	MaxScore uint64 = 1000
	// weightDenominator is the sum of all category weights.
	weightDenominator uint64 = 100
	// maxReasonBytes bounds the audit text attached to an update event.
	maxReasonBytes = 256
)

// Category identifies a behavioural bucket. The numeric values match the
// identifiers used by the lending pool and existing integrations.
type Category uint8

const (
	CategoryLoanRepayment Category = iota
	CategoryLoanDefault
	CategoryStakingReward
	CategoryEarlyUnstaking
	CategoryFlashLoanAbuse
	CategoryCommunityContribution
	CategoryGovernanceParticipation

	numCategories
)

// categoryWeights holds the contribution of each category to the total, in
// percent. Penalty categories carry no weight of their own; their updates
// are folded into the parent category.
var categoryWeights = [numCategories]uint64{
	CategoryLoanRepayment:           40,
	CategoryLoanDefault:             0,
	CategoryStakingReward:           25,
	CategoryEarlyUnstaking:          0,
	CategoryFlashLoanAbuse:          0,
	CategoryCommunityContribution:   20,
	CategoryGovernanceParticipation: 15,
}

var penaltyParents = map[Category]Category{
	CategoryLoanDefault:    CategoryLoanRepayment,
	CategoryEarlyUnstaking: CategoryStakingReward,
	CategoryFlashLoanAbuse: CategoryLoanRepayment,
}

var categoryNames = [numCategories]string{
	CategoryLoanRepayment:           "LoanRepayment",
	CategoryLoanDefault:             "LoanDefault",
	CategoryStakingReward:           "StakingReward",
	CategoryEarlyUnstaking:          "EarlyUnstaking",
	CategoryFlashLoanAbuse:          "FlashLoanAbuse",
	CategoryCommunityContribution:   "CommunityContribution",
	CategoryGovernanceParticipation: "GovernanceParticipation",
}

func init() {
	var sum uint64
	for _, w := range categoryWeights {
		sum += w
	}
	if sum != weightDenominator {
		panic(fmt.Sprintf("reputation: category weights sum to %d, want %d", sum, weightDenominator))
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c < numCategories
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// Weight returns the percentage contribution of the category to the total
// score. Penalty categories report zero.
func (c Category) Weight() uint64 {
	if !c.Valid() {
		return 0
	}
	return categoryWeights[c]
}

// IsPenalty reports whether updates to c are applied as deductions from a
// parent category.
func (c Category) IsPenalty() bool {
	_, ok := penaltyParents[c]
	return ok
}

// Parent returns the weighted category a penalty folds into. Weighted
// categories are their own parent.
func (c Category) Parent() Category {
	if parent, ok := penaltyParents[c]; ok {
		return parent
	}
	return c
}

// Categories lists every category in identifier order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory resolves a category by case-insensitive name.
func ParseCategory(name string) (Category, error) {
	trimmed := strings.TrimSpace(name)
	for c, candidate := range categoryNames {
		if strings.EqualFold(candidate, trimmed) {
			return Category(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, name)
}

// Record is the persisted reputation state for a single user. Scores is
// indexed by Category; Total is derived from Scores and never written
// independently.
type Record struct {
	Scores      []uint64
	Total       uint64
	Active      bool
	Updates     uint64
	LastUpdated uint64
}

func newRecord() *Record {
	return &Record{Scores: make([]uint64, numCategories)}
}

// normalize pads records written by older layouts so every category is
// addressable.
func (r *Record) normalize() {
	if len(r.Scores) < int(numCategories) {
		padded := make([]uint64, numCategories)
		copy(padded, r.Scores)
		r.Scores = padded
	}
}

// Score returns the stored score for c.
func (r *Record) Score(c Category) uint64 {
	if r == nil || !c.Valid() || int(c) >= len(r.Scores) {
		return 0
	}
	return r.Scores[c]
}

// Snapshot is the read model returned to callers.
type Snapshot struct {
	Total      uint64
	Loan       uint64
	Staking    uint64
	Community  uint64
	FlashLoan  uint64
	Governance uint64
	Active     bool
	Updates    uint64
	// Scores exposes every category, indexed by Category.
	Scores []uint64
}

func snapshotFromRecord(r *Record) Snapshot {
	if r == nil {
		r = newRecord()
	}
	scores := make([]uint64, numCategories)
	copy(scores, r.Scores)
	return Snapshot{
		Total:      r.Total,
		Loan:       r.Score(CategoryLoanRepayment),
		Staking:    r.Score(CategoryStakingReward),
		Community:  r.Score(CategoryCommunityContribution),
		FlashLoan:  r.Score(CategoryFlashLoanAbuse),
		Governance: r.Score(CategoryGovernanceParticipation),
		Active:     r.Active,
		Updates:    r.Updates,
		Scores:     scores,
	}
}
