package reputation

import (
	"math"
	"strings"
	"unicode/utf8"
)

// clampScore applies a signed delta to current and saturates the result to
// [MinScore, MaxScore]. current is assumed to already lie within bounds.
func clampScore(current uint64, delta int64) uint64 {
	if delta >= int64(MaxScore) {
		return MaxScore
	}
	if delta <= -int64(MaxScore) {
		return MinScore
	}
	next := int64(current) + delta
	if next < int64(MinScore) {
		return MinScore
	}
	if next > int64(MaxScore) {
		return MaxScore
	}
	return uint64(next)
}

func magnitude(delta int64) int64 {
	if delta == math.MinInt64 {
		return math.MaxInt64
	}
	if delta < 0 {
		return -delta
	}
	return delta
}

// weightedTotal computes floor(sum(score*weight)/100) over every category.
func weightedTotal(scores []uint64) uint64 {
	var sum uint64
	for c := Category(0); c < numCategories; c++ {
		if int(c) >= len(scores) {
			break
		}
		sum += scores[c] * categoryWeights[c]
	}
	return sum / weightDenominator
}

// apply mutates r for a single scoring event and recomputes the total.
// Penalty categories deduct |delta| from their parent and add |delta| to
// their own tally.
func (r *Record) apply(category Category, delta int64) {
	r.normalize()
	if category.IsPenalty() {
		m := magnitude(delta)
		parent := category.Parent()
		r.Scores[parent] = clampScore(r.Scores[parent], -m)
		r.Scores[category] = clampScore(r.Scores[category], m)
	} else {
		r.Scores[category] = clampScore(r.Scores[category], delta)
	}
	r.Total = weightedTotal(r.Scores)
	r.Active = true
	r.Updates++
}

func sanitizeReason(reason string) string {
	trimmed := strings.TrimSpace(reason)
	if len(trimmed) <= maxReasonBytes {
		return trimmed
	}
	cut := trimmed[:maxReasonBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
