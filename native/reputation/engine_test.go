package reputation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"repcollateral/core/events"
	nhbstate "repcollateral/core/state"
	nativecommon "repcollateral/native/common"
	storagedb "repcollateral/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = b
	out[19] = b
	return out
}

var (
	owner  = addr(0x01)
	scorer = addr(0x02)
	alice  = addr(0xA1)
	bob    = addr(0xB0)
)

func newTestEngine(t *testing.T) (*Engine, *recordingEmitter) {
	t.Helper()
	engine := NewEngine(nhbstate.NewManager(storagedb.NewMemDB()))
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	require.NoError(t, engine.InitOwner(owner))
	require.NoError(t, engine.AuthorizeScorer(owner, scorer))
	emitter.events = nil
	return engine, emitter
}

func TestUpdateReputationClampsScores(t *testing.T) {
	engine, _ := newTestEngine(t)

	total, err := engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 1500, "over the top")
	require.NoError(t, err)
	snapshot, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, MaxScore, snapshot.Loan)
	require.Equal(t, uint64(400), total)

	_, err = engine.UpdateReputation(scorer, bob, CategoryStakingReward, -100, "below floor")
	require.NoError(t, err)
	snapshot, err = engine.GetUserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(0), snapshot.Staking)
	require.True(t, snapshot.Active)
}

func TestUpdateReputationWeightedTotal(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 100, "repaid")
	require.NoError(t, err)
	total, err := engine.UpdateReputation(scorer, alice, CategoryStakingReward, 80, "staked")
	require.NoError(t, err)
	require.Equal(t, uint64(60), total)

	snapshot, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(60), snapshot.Total)
	require.Equal(t, uint64(100), snapshot.Loan)
	require.Equal(t, uint64(80), snapshot.Staking)
	require.Equal(t, uint64(2), snapshot.Updates)
}

func TestUpdateReputationTotalBounded(t *testing.T) {
	engine, _ := newTestEngine(t)
	for _, c := range Categories() {
		if c.IsPenalty() {
			continue
		}
		_, err := engine.UpdateReputation(owner, alice, c, 5000, "")
		require.NoError(t, err)
	}
	snapshot, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, MaxScore, snapshot.Total)
	tier, err := engine.GetReputationTier(alice)
	require.NoError(t, err)
	require.Equal(t, TierPlatinum, tier)
}

func TestPenaltyFoldsIntoParent(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 500, "")
	require.NoError(t, err)
	total, err := engine.UpdateReputation(scorer, alice, CategoryFlashLoanAbuse, -100, "flash loan")
	require.NoError(t, err)

	snapshot, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(400), snapshot.Loan)
	require.Equal(t, uint64(100), snapshot.FlashLoan)
	require.Equal(t, uint64(160), total)

	// The sign of a penalty delta is ignored.
	_, err = engine.UpdateReputation(scorer, alice, CategoryLoanDefault, 50, "late")
	require.NoError(t, err)
	snapshot, err = engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(350), snapshot.Loan)
	require.Equal(t, uint64(50), snapshot.Scores[CategoryLoanDefault])
}

func TestUnauthorizedUpdateLeavesStateUntouched(t *testing.T) {
	engine, emitter := newTestEngine(t)

	_, err := engine.UpdateReputation(scorer, alice, CategoryCommunityContribution, 100, "")
	require.NoError(t, err)
	before, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	emitted := len(emitter.events)

	_, err = engine.UpdateReputation(bob, alice, CategoryCommunityContribution, 900, "")
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = engine.UpdateReputation([20]byte{}, alice, CategoryCommunityContribution, 900, "")
	require.ErrorIs(t, err, ErrNotAuthorized)

	after, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Len(t, emitter.events, emitted)
}

func TestUpdateReputationRejectsBadInput(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.UpdateReputation(scorer, alice, Category(42), 10, "")
	require.ErrorIs(t, err, ErrInvalidCategory)
	_, err = engine.UpdateReputation(scorer, [20]byte{}, CategoryLoanRepayment, 10, "")
	require.ErrorIs(t, err, ErrInvalidUser)

	snapshot, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.False(t, snapshot.Active)
}

func TestReadsAreIdempotentForUnknownUsers(t *testing.T) {
	engine, emitter := newTestEngine(t)

	first, err := engine.GetUserReputation(bob)
	require.NoError(t, err)
	second, err := engine.GetUserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Zero(t, first.Total)
	require.False(t, first.Active)

	tier, err := engine.GetReputationTier(bob)
	require.NoError(t, err)
	require.Equal(t, TierUnrated, tier)
	require.Empty(t, emitter.events)
}

func TestZeroDeltaMarksActive(t *testing.T) {
	engine, _ := newTestEngine(t)
	total, err := engine.UpdateReputation(scorer, alice, CategoryGovernanceParticipation, 0, "")
	require.NoError(t, err)
	require.Zero(t, total)
	snapshot, err := engine.GetUserReputation(alice)
	require.NoError(t, err)
	require.True(t, snapshot.Active)
}

func TestUpdateEmitsEventWithTrimmedReason(t *testing.T) {
	engine, emitter := newTestEngine(t)
	reason := strings.Repeat("é", 200)

	_, err := engine.UpdateReputation(scorer, alice, CategoryStakingReward, 40, reason)
	require.NoError(t, err)
	require.Len(t, emitter.events, 1)
	evt, ok := emitter.events[0].(events.ReputationUpdated)
	require.True(t, ok)
	require.Equal(t, alice, evt.User)
	require.Equal(t, scorer, evt.Scorer)
	require.Equal(t, "StakingReward", evt.Category)
	require.Equal(t, int64(40), evt.Delta)
	require.Equal(t, uint64(10), evt.NewTotal)
	require.LessOrEqual(t, len(evt.Reason), maxReasonBytes)
	require.True(t, strings.HasPrefix(reason, evt.Reason))
}

func TestScorerAdministration(t *testing.T) {
	engine, emitter := newTestEngine(t)

	require.ErrorIs(t, engine.AuthorizeScorer(scorer, bob), ErrNotAuthorized)
	require.NoError(t, engine.AuthorizeScorer(owner, bob))
	require.NoError(t, engine.AuthorizeScorer(owner, bob))
	require.Len(t, emitter.events, 1)

	list, err := engine.Scorers()
	require.NoError(t, err)
	require.ElementsMatch(t, [][20]byte{scorer, bob}, list)

	require.NoError(t, engine.RevokeScorer(owner, scorer))
	ok, err := engine.IsAuthorizedScorer(scorer)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 10, "")
	require.ErrorIs(t, err, ErrNotAuthorized)

	list, err = engine.Scorers()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{bob}, list)
}

func TestTransferOwnership(t *testing.T) {
	engine, _ := newTestEngine(t)

	require.ErrorIs(t, engine.TransferOwnership(bob, bob), ErrNotAuthorized)
	require.NoError(t, engine.TransferOwnership(owner, bob))
	current, err := engine.Owner()
	require.NoError(t, err)
	require.Equal(t, bob, current)

	require.ErrorIs(t, engine.AuthorizeScorer(owner, alice), ErrNotAuthorized)
	require.NoError(t, engine.AuthorizeScorer(bob, alice))

	// InitOwner never overwrites an existing owner.
	require.NoError(t, engine.InitOwner(owner))
	current, err = engine.Owner()
	require.NoError(t, err)
	require.Equal(t, bob, current)
}

func TestOwnerMissing(t *testing.T) {
	engine := NewEngine(nhbstate.NewManager(storagedb.NewMemDB()))
	_, err := engine.Owner()
	require.ErrorIs(t, err, ErrOwnerNotSet)
	_, err = engine.UpdateReputation(owner, alice, CategoryLoanRepayment, 10, "")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestPausedEngineRejectsUpdates(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetPauses(nativecommon.NewPauses(moduleName))

	_, err := engine.UpdateReputation(owner, alice, CategoryLoanRepayment, 10, "")
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	_, err = engine.GetUserReputation(alice)
	require.NoError(t, err)
}

func TestScorerQuota(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetQuota(nativecommon.Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 3600})

	for i := 0; i < 2; i++ {
		_, err := engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 1, "")
		require.NoError(t, err)
	}
	_, err := engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 1, "")
	require.True(t, errors.Is(err, nativecommon.ErrQuotaRequestsExceeded), "unexpected error %v", err)

	// The owner is not rate limited.
	_, err = engine.UpdateReputation(owner, alice, CategoryLoanRepayment, 1, "")
	require.NoError(t, err)

	engine.SetNowFunc(func() int64 { return 1_700_000_000 + 3600 })
	_, err = engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 1, "")
	require.NoError(t, err)
}

func TestScorerQuotaExemptWriter(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.AuthorizeScorer(owner, bob))
	engine.SetQuota(nativecommon.Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 86400})
	engine.SetQuotaExempt(bob)

	for i := 0; i < 3; i++ {
		_, err := engine.UpdateReputation(bob, alice, CategoryLoanRepayment, 10, "")
		require.NoError(t, err)
	}
	_, err := engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 1, "")
	require.NoError(t, err)
	_, err = engine.UpdateReputation(scorer, alice, CategoryLoanRepayment, 1, "")
	require.ErrorIs(t, err, nativecommon.ErrQuotaRequestsExceeded)
}

func TestScorersListedInByteOrder(t *testing.T) {
	engine, _ := newTestEngine(t)
	high := addr(0xFF)
	low := addr(0x00)
	low[19] = 0x03

	require.NoError(t, engine.AuthorizeScorer(owner, high))
	require.NoError(t, engine.AuthorizeScorer(owner, low))

	list, err := engine.Scorers()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{low, scorer, high}, list)
}

func TestNilEngine(t *testing.T) {
	var engine *Engine
	_, err := engine.GetUserReputation(alice)
	require.Error(t, err)
	_, err = engine.UpdateReputation(owner, alice, CategoryLoanRepayment, 1, "")
	require.Error(t, err)
}
