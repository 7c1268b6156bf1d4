package reputation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"repcollateral/core/events"
	nativecommon "repcollateral/native/common"
	"repcollateral/observability/metrics"
)

const moduleName = "reputation"

var quotaPrefix = []byte("reputation/quota/")

func quotaKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", quotaPrefix, addr))
}

// Engine wires the scoring rules, the authorized scorer set and event
// emission on top of the ledger. It is the only type that mutates records.
type Engine struct {
	ledger  *Ledger
	store   storage
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.ReputationMetrics
	pauses  nativecommon.PauseView
	quota   nativecommon.Quota
	exempt  map[[20]byte]struct{}
	nowFn   func() int64
}

// NewEngine constructs an engine backed by the provided storage backend.
func NewEngine(store storage) *Engine {
	e := &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	if store != nil {
		e.ledger = NewLedger(store)
	}
	return e
}

// SetEmitter routes events raised by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger overrides the logger; nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	e.logger = logger
}

// SetMetrics attaches prometheus collectors.
func (e *Engine) SetMetrics(m *metrics.ReputationMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetPauses wires the module pause switch.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetQuota limits how many updates and how many score points a non-owner
// scorer may submit per window.
func (e *Engine) SetQuota(q nativecommon.Quota) {
	if e == nil {
		return
	}
	e.quota = q
}

// SetQuotaExempt lifts the scorer quota for the supplied system writers,
// such as the lending coordinator.
func (e *Engine) SetQuotaExempt(addrs ...[20]byte) {
	if e == nil {
		return
	}
	e.exempt = make(map[[20]byte]struct{}, len(addrs))
	for _, addr := range addrs {
		if addr != ([20]byte{}) {
			e.exempt[addr] = struct{}{}
		}
	}
}

// SetNowFunc overrides the wall clock used to stamp records.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

// Ledger exposes the underlying ledger for read-only collaborators.
func (e *Engine) Ledger() *Ledger {
	if e == nil {
		return nil
	}
	return e.ledger
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func shortAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func (e *Engine) ready() error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// InitOwner records the initial owner. It is a no-op when an owner already
// exists, so it can run on every start.
func (e *Engine) InitOwner(owner [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, ok, err := e.ledger.Owner(); err != nil || ok {
		return err
	}
	if err := e.ledger.SetOwner(owner); err != nil {
		return err
	}
	e.emitter.Emit(events.OwnerChanged{Owner: owner})
	return nil
}

// Owner returns the ledger owner.
func (e *Engine) Owner() ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	owner, ok, err := e.ledger.Owner()
	if err != nil {
		return owner, err
	}
	if !ok {
		return owner, ErrOwnerNotSet
	}
	return owner, nil
}

func (e *Engine) requireOwner(caller [20]byte) error {
	owner, ok, err := e.ledger.Owner()
	if err != nil {
		return err
	}
	if !ok || caller != owner {
		e.metrics.ObserveRejected("not_owner")
		e.log().Warn("reputation admin call refused", "caller", shortAddr(caller))
		return ErrNotAuthorized
	}
	return nil
}

// authorize reports whether caller may submit scoring events and whether it
// is the owner.
func (e *Engine) authorize(caller [20]byte) (bool, error) {
	owner, ok, err := e.ledger.Owner()
	if err != nil {
		return false, err
	}
	if ok && caller == owner {
		return true, nil
	}
	if caller == ([20]byte{}) {
		return false, ErrNotAuthorized
	}
	authorized, err := e.ledger.IsScorer(caller)
	if err != nil {
		return false, err
	}
	if !authorized {
		return false, ErrNotAuthorized
	}
	return false, nil
}

func (e *Engine) consumeQuota(scorer [20]byte, delta int64) error {
	if !e.quota.Enabled() {
		return nil
	}
	if _, ok := e.exempt[scorer]; ok {
		return nil
	}
	var usage nativecommon.QuotaNow
	if _, err := e.store.KVGet(quotaKey(scorer), &usage); err != nil {
		return err
	}
	next, err := nativecommon.CheckQuota(e.quota, e.quota.EpochAt(e.now()), usage, 1, uint64(magnitude(delta)))
	if err != nil {
		return fmt.Errorf("reputation: scorer quota: %w", err)
	}
	return e.store.KVPut(quotaKey(scorer), &next)
}

// UpdateReputation applies a signed delta to one category of user's record
// and returns the recomputed total. Only the owner and authorized scorers may
// call it. The reason is carried on the emitted event for auditing and has
// no effect on scoring.
func (e *Engine) UpdateReputation(caller, user [20]byte, category Category, delta int64, reason string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	isOwner, err := e.authorize(caller)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			e.metrics.ObserveRejected("not_authorized")
			e.log().Warn("reputation update refused",
				"caller", shortAddr(caller),
				"user", shortAddr(user))
		}
		return 0, err
	}
	if !category.Valid() {
		e.metrics.ObserveRejected("invalid_category")
		return 0, fmt.Errorf("%w: %d", ErrInvalidCategory, uint8(category))
	}
	if user == ([20]byte{}) {
		return 0, ErrInvalidUser
	}
	if !isOwner {
		if err := e.consumeQuota(caller, delta); err != nil {
			e.metrics.ObserveRejected("quota")
			return 0, err
		}
	}

	record, _, err := e.ledger.Record(user)
	if err != nil {
		return 0, err
	}
	record.apply(category, delta)
	if now := e.now(); now > 0 {
		record.LastUpdated = uint64(now)
	}
	if err := e.ledger.PutRecord(user, record); err != nil {
		return 0, err
	}

	cleanReason := sanitizeReason(reason)
	e.emitter.Emit(events.ReputationUpdated{
		User:     user,
		Scorer:   caller,
		Category: category.String(),
		Delta:    delta,
		NewTotal: record.Total,
		Reason:   cleanReason,
	})
	e.metrics.ObserveUpdate(category.String(), record.Total)
	e.log().Info("reputation updated",
		"user", shortAddr(user),
		"category", category.String(),
		"delta", delta,
		"total", record.Total,
		"reason", cleanReason)
	return record.Total, nil
}

// GetUserReputation returns the current snapshot for user. Unknown users
// yield a zero, inactive snapshot; only storage failures return an error.
func (e *Engine) GetUserReputation(user [20]byte) (Snapshot, error) {
	if err := e.ready(); err != nil {
		return Snapshot{}, err
	}
	record, _, err := e.ledger.Record(user)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRecord(record), nil
}

// GetReputationTier classifies the user's live total.
func (e *Engine) GetReputationTier(user [20]byte) (Tier, error) {
	snapshot, err := e.GetUserReputation(user)
	if err != nil {
		return TierUnrated, err
	}
	return Classify(snapshot.Total), nil
}

// AuthorizeScorer admits scorer to the writer set. Owner only. Authorizing
// an existing scorer is a no-op.
func (e *Engine) AuthorizeScorer(caller, scorer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if scorer == ([20]byte{}) {
		return ErrInvalidUser
	}
	already, err := e.ledger.IsScorer(scorer)
	if err != nil || already {
		return err
	}
	if err := e.ledger.SetScorer(scorer, true); err != nil {
		return err
	}
	e.emitter.Emit(events.ScorerAuthorized{Scorer: scorer})
	e.metrics.ObserveScorerChange("authorize")
	e.log().Info("reputation scorer authorized", "scorer", shortAddr(scorer))
	return nil
}

// RevokeScorer removes scorer from the writer set. Owner only.
func (e *Engine) RevokeScorer(caller, scorer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	present, err := e.ledger.IsScorer(scorer)
	if err != nil || !present {
		return err
	}
	if err := e.ledger.SetScorer(scorer, false); err != nil {
		return err
	}
	e.emitter.Emit(events.ScorerRevoked{Scorer: scorer})
	e.metrics.ObserveScorerChange("revoke")
	e.log().Info("reputation scorer revoked", "scorer", shortAddr(scorer))
	return nil
}

// IsAuthorizedScorer reports scorer set membership. The owner is implicitly
// authorized but is not reported here.
func (e *Engine) IsAuthorizedScorer(addr [20]byte) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.ledger.IsScorer(addr)
}

// Scorers lists the authorized scorers.
func (e *Engine) Scorers() ([][20]byte, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.ledger.Scorers()
}

// TransferOwnership hands the owner role to next. Owner only.
func (e *Engine) TransferOwnership(caller, next [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if next == ([20]byte{}) {
		return ErrInvalidUser
	}
	if err := e.ledger.SetOwner(next); err != nil {
		return err
	}
	e.emitter.Emit(events.OwnerChanged{Previous: caller, Owner: next})
	e.log().Info("reputation ownership transferred", "previous", shortAddr(caller), "owner", shortAddr(next))
	return nil
}
