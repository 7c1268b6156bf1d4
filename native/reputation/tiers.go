package reputation

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is the label derived from a total score. Tiers are ordered: a higher
// value is a better tier.
type Tier uint8

const (
	TierUnrated Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
)

type tierThreshold struct {
	tier     Tier
	minScore uint64
	name     string
}

// tierThresholds is sorted by minScore ascending. The first entry must start
// at zero so every score classifies.
var tierThresholds = [...]tierThreshold{
	{tier: TierUnrated, minScore: 0, name: "Unrated"},
	{tier: TierBronze, minScore: 200, name: "Bronze"},
	{tier: TierSilver, minScore: 400, name: "Silver"},
	{tier: TierGold, minScore: 600, name: "Gold"},
	{tier: TierPlatinum, minScore: 800, name: "Platinum"},
}

// Classify maps a total score to its tier. Lower bounds are inclusive.
func Classify(score uint64) Tier {
	idx := sort.Search(len(tierThresholds), func(i int) bool {
		return tierThresholds[i].minScore > score
	})
	if idx == 0 {
		return TierUnrated
	}
	return tierThresholds[idx-1].tier
}

// MinScore returns the inclusive lower bound of the tier.
func (t Tier) MinScore() uint64 {
	if !t.Valid() {
		return 0
	}
	return tierThresholds[t].minScore
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return int(t) < len(tierThresholds)
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
	return tierThresholds[t].name
}

// Tiers lists every tier from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, len(tierThresholds))
	for i, entry := range tierThresholds {
		out[i] = entry.tier
	}
	return out
}

// ParseTier resolves a tier from its case-insensitive name.
func ParseTier(name string) (Tier, error) {
	trimmed := strings.TrimSpace(name)
	for _, entry := range tierThresholds {
		if strings.EqualFold(entry.name, trimmed) {
			return entry.tier, nil
		}
	}
	return TierUnrated, fmt.Errorf("reputation: unknown tier %q", name)
}
