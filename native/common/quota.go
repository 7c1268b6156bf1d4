package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaUnitsExceeded    = errors.New("quota units exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount  uint32
	UnitsUsed uint64
	EpochID   uint64
}

// Quota defines the limits enforced for a module interaction per address.
// Zero limits are unlimited.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxUnitsPerEpoch    uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxUnitsPerEpoch > 0
}

// EpochAt maps a unix timestamp to the quota window it falls in.
func (q Quota) EpochAt(unix int64) uint64 {
	if unix <= 0 || q.EpochSeconds == 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and unit usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addUnits uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addUnits > 0 {
		if next.UnitsUsed > math.MaxUint64-addUnits {
			return prev, ErrQuotaCounterOverflow
		}
		next.UnitsUsed += addUnits
	}
	if q.MaxUnitsPerEpoch > 0 && next.UnitsUsed > q.MaxUnitsPerEpoch {
		return prev, ErrQuotaUnitsExceeded
	}

	return next, nil
}
