package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"repcollateral/core/events"
	nhbstate "repcollateral/core/state"
	"repcollateral/core/types"
	"repcollateral/native/access"
	nativecommon "repcollateral/native/common"
	"repcollateral/native/lending"
	"repcollateral/native/reputation"
	"repcollateral/observability/metrics"
	"repcollateral/storage"
)

const maxEventHistory = 1024

var (
	errNilDatabase = errors.New("core: database required")
	errNoOwner     = errors.New("core: owner address required")
)

// Options configures the engines hosted by a Node.
type Options struct {
	// Owner administers the reputation ledger. It is only applied when the
	// database holds no owner yet.
	Owner [20]byte
	// Scorers are authorized on start if missing.
	Scorers [][20]byte
	// Coordinator is the scorer identity used by the lending coordinator.
	// It is authorized automatically.
	Coordinator [20]byte
	Keeper      [20]byte
	BaseRateBps uint64
	Lending     lending.Config
	ScorerQuota nativecommon.Quota
	Paused      []string
	Logger      *slog.Logger
	Metrics     *metrics.ReputationMetrics
}

// Node hosts the reputation ledger, the access policy and the lending
// coordinator over one state manager. Every mutation runs inside execute,
// which holds the write lock, commits on success and discards on error.
// Events raised by a call reach subscribers only after its commit.
type Node struct {
	db     storage.Database
	state  *nhbstate.Manager
	mu     sync.RWMutex
	buffer *events.Buffer

	reputation *reputation.Engine
	access     *access.Policy
	lending    *lending.Engine
	pauses     *nativecommon.Pauses

	timeMu     sync.RWMutex
	timeSource func() time.Time

	logger  *slog.Logger
	metrics *metrics.ReputationMetrics

	eventsMu    sync.Mutex
	events      []types.Event
	subscribers map[int]chan types.Event
	nextSubID   int
}

// NewNode wires the engines to db and applies the genesis settings in opts.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Lending
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		db:          db,
		state:       nhbstate.NewManager(db),
		buffer:      &events.Buffer{},
		pauses:      nativecommon.NewPauses(opts.Paused...),
		timeSource:  time.Now,
		logger:      logger,
		metrics:     opts.Metrics,
		subscribers: make(map[int]chan types.Event),
	}
	now := func() int64 { return n.now().Unix() }

	n.reputation = reputation.NewEngine(n.state)
	n.reputation.SetEmitter(n.buffer)
	n.reputation.SetLogger(logger.With("module", "reputation"))
	n.reputation.SetMetrics(opts.Metrics)
	n.reputation.SetPauses(n.pauses)
	n.reputation.SetQuota(opts.ScorerQuota)
	n.reputation.SetQuotaExempt(opts.Coordinator)
	n.reputation.SetNowFunc(now)

	n.access = access.NewPolicy(n.reputation)
	if opts.BaseRateBps > 0 {
		n.access.SetBaseRate(opts.BaseRateBps)
	}
	n.access.SetMetrics(opts.Metrics)

	n.lending = lending.NewEngine(opts.Coordinator, n.reputation, n.access, cfg)
	n.lending.SetState(n.state)
	n.lending.SetEmitter(n.buffer)
	n.lending.SetLogger(logger.With("module", "lending"))
	n.lending.SetMetrics(opts.Metrics)
	n.lending.SetPauses(n.pauses)
	n.lending.SetKeeper(opts.Keeper)
	n.lending.SetNowFunc(now)

	if err := n.applyGenesis(opts, cfg); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) applyGenesis(opts Options, cfg lending.Config) error {
	return n.execute(context.Background(), "genesis", func() error {
		owner, err := n.reputation.Owner()
		fresh := errors.Is(err, reputation.ErrOwnerNotSet)
		if err != nil && !fresh {
			return err
		}
		if fresh {
			if opts.Owner == ([20]byte{}) {
				return errNoOwner
			}
			if err := n.reputation.InitOwner(opts.Owner); err != nil {
				return err
			}
			owner = opts.Owner
		}
		if owner != opts.Owner {
			n.logger.Warn("configured owner differs from ledger owner; skipping scorer bootstrap",
				"ledgerOwner", fmt.Sprintf("%x", owner))
			return nil
		}
		scorers := append([][20]byte(nil), opts.Scorers...)
		if opts.Coordinator != ([20]byte{}) {
			scorers = append(scorers, opts.Coordinator)
		}
		for _, scorer := range scorers {
			if err := n.reputation.AuthorizeScorer(owner, scorer); err != nil {
				return fmt.Errorf("core: authorize scorer %x: %w", scorer, err)
			}
		}
		if fresh && opts.Coordinator != ([20]byte{}) && cfg.InitialLiquidityWei.Sign() > 0 {
			if _, err := n.lending.Supply(owner, cfg.InitialLiquidityWei); err != nil {
				return fmt.Errorf("core: seed liquidity: %w", err)
			}
		}
		return nil
	})
}

// execute runs fn under the write lock. State written by fn is committed
// only when fn succeeds; otherwise it is discarded together with any events
// fn raised. A panic in fn is rolled back the same way and re-raised after
// the lock is released.
func (n *Node) execute(ctx context.Context, op string, fn func() error) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	pending, err := n.apply(op, fn)
	if err != nil {
		return err
	}
	n.deliverLocked(pending)
	n.eventsMu.Unlock()
	return nil
}

// apply runs fn and commits its writes. On success it returns with eventsMu
// held so the caller delivers events in commit order.
func (n *Node) apply(op string, fn func() error) (pending []events.Event, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	committed := false
	defer func() {
		if committed {
			return
		}
		n.state.Discard()
		n.buffer.Reset()
		if r := recover(); r != nil {
			n.logger.Error("call panicked", "op", op, "panic", r)
			panic(r)
		}
	}()

	if err := fn(); err != nil {
		n.logger.Debug("call rolled back", "op", op, "error", err)
		return nil, err
	}
	if err := n.state.Commit(); err != nil {
		n.logger.Error("commit failed", "op", op, "error", err)
		return nil, fmt.Errorf("core: commit %s: %w", op, err)
	}
	committed = true
	pending = n.buffer.Drain()
	// Taking eventsMu before releasing mu keeps delivery in commit order.
	n.eventsMu.Lock()
	return pending, nil
}

func (n *Node) read(ctx context.Context, fn func() error) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return fn()
}

func (n *Node) deliverLocked(pending []events.Event) {
	for _, evt := range pending {
		generic := events.ToGeneric(evt)
		if generic == nil {
			continue
		}
		n.events = append(n.events, *generic)
		for id, ch := range n.subscribers {
			select {
			case ch <- *generic:
			default:
				n.logger.Warn("dropping event for slow subscriber", "subscriber", id, "type", generic.Type)
			}
		}
	}
	if over := len(n.events) - maxEventHistory; over > 0 {
		n.events = append([]types.Event(nil), n.events[over:]...)
	}
}

// Events returns the committed events retained in memory, oldest first.
func (n *Node) Events() []types.Event {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// Subscribe returns a channel receiving committed events and a function that
// cancels the subscription. Events are dropped for subscribers whose buffer
// is full.
func (n *Node) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.Event, buffer)
	n.eventsMu.Lock()
	id := n.nextSubID
	n.nextSubID++
	n.subscribers[id] = ch
	n.eventsMu.Unlock()

	return ch, func() {
		n.eventsMu.Lock()
		defer n.eventsMu.Unlock()
		if _, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(ch)
		}
	}
}

// SetTimeSource overrides the clock used to stamp records and time loans.
func (n *Node) SetTimeSource(source func() time.Time) {
	n.timeMu.Lock()
	defer n.timeMu.Unlock()
	if source == nil {
		source = time.Now
	}
	n.timeSource = source
}

func (n *Node) now() time.Time {
	n.timeMu.RLock()
	defer n.timeMu.RUnlock()
	return n.timeSource()
}

// SetPaused toggles a module pause switch.
func (n *Node) SetPaused(module string, paused bool) {
	n.pauses.Set(module, paused)
	n.logger.Info("module pause updated", "module", module, "paused", paused)
}

// Paused lists the paused modules.
func (n *Node) Paused() []string {
	return n.pauses.Paused()
}

// WithState runs fn against the committed state under the write lock and
// discards anything fn writes.
func (n *Node) WithState(fn func(*nhbstate.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.state.Discard()
	return fn(n.state)
}

// Close ends every subscription and releases the database.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eventsMu.Lock()
	for id, ch := range n.subscribers {
		delete(n.subscribers, id)
		close(ch)
	}
	n.eventsMu.Unlock()
	n.db.Close()
}

// --- Reputation ---

func (n *Node) UpdateReputation(ctx context.Context, caller, user [20]byte, category reputation.Category, delta int64, reason string) (uint64, error) {
	var total uint64
	err := n.execute(ctx, "reputation_update", func() error {
		var err error
		total, err = n.reputation.UpdateReputation(caller, user, category, delta, reason)
		return err
	})
	return total, err
}

func (n *Node) GetUserReputation(ctx context.Context, user [20]byte) (reputation.Snapshot, error) {
	var snapshot reputation.Snapshot
	err := n.read(ctx, func() error {
		var err error
		snapshot, err = n.reputation.GetUserReputation(user)
		return err
	})
	return snapshot, err
}

func (n *Node) GetReputationTier(ctx context.Context, user [20]byte) (reputation.Tier, error) {
	tier := reputation.TierUnrated
	err := n.read(ctx, func() error {
		var err error
		tier, err = n.reputation.GetReputationTier(user)
		return err
	})
	return tier, err
}

func (n *Node) AuthorizeScorer(ctx context.Context, caller, scorer [20]byte) error {
	return n.execute(ctx, "reputation_authorizeScorer", func() error {
		return n.reputation.AuthorizeScorer(caller, scorer)
	})
}

func (n *Node) RevokeScorer(ctx context.Context, caller, scorer [20]byte) error {
	return n.execute(ctx, "reputation_revokeScorer", func() error {
		return n.reputation.RevokeScorer(caller, scorer)
	})
}

func (n *Node) TransferOwnership(ctx context.Context, caller, next [20]byte) error {
	return n.execute(ctx, "reputation_transferOwnership", func() error {
		return n.reputation.TransferOwnership(caller, next)
	})
}

func (n *Node) IsAuthorizedScorer(ctx context.Context, addr [20]byte) (bool, error) {
	var ok bool
	err := n.read(ctx, func() error {
		var err error
		ok, err = n.reputation.IsAuthorizedScorer(addr)
		return err
	})
	return ok, err
}

func (n *Node) Scorers(ctx context.Context) ([][20]byte, error) {
	var list [][20]byte
	err := n.read(ctx, func() error {
		var err error
		list, err = n.reputation.Scorers()
		return err
	})
	return list, err
}

func (n *Node) Owner(ctx context.Context) ([20]byte, error) {
	var owner [20]byte
	err := n.read(ctx, func() error {
		var err error
		owner, err = n.reputation.Owner()
		return err
	})
	return owner, err
}

// --- Access ---

func (n *Node) GetUserAccessLevel(ctx context.Context, user [20]byte) (access.AccessLevel, error) {
	var level access.AccessLevel
	err := n.read(ctx, func() error {
		var err error
		level, err = n.access.GetUserAccessLevel(user)
		return err
	})
	return level, err
}

func (n *Node) CalculateLoanTerms(ctx context.Context, user [20]byte, amount *big.Int) (access.LoanTerms, error) {
	var terms access.LoanTerms
	err := n.read(ctx, func() error {
		var err error
		terms, err = n.access.CalculateLoanTerms(user, amount)
		return err
	})
	return terms, err
}

// --- Lending ---

func (n *Node) SupplyLiquidity(ctx context.Context, caller [20]byte, amount *big.Int) (*big.Int, error) {
	var available *big.Int
	err := n.execute(ctx, "lending_supply", func() error {
		var err error
		available, err = n.lending.Supply(caller, amount)
		return err
	})
	return available, err
}

func (n *Node) RequestLoan(ctx context.Context, borrower [20]byte, amount, collateral *big.Int) (*lending.Loan, error) {
	var loan *lending.Loan
	err := n.execute(ctx, "lending_requestLoan", func() error {
		var err error
		loan, err = n.lending.RequestLoan(borrower, amount, collateral)
		return err
	})
	return loan, err
}

func (n *Node) RepayLoan(ctx context.Context, borrower [20]byte) (*lending.Loan, error) {
	var loan *lending.Loan
	err := n.execute(ctx, "lending_repayLoan", func() error {
		var err error
		loan, err = n.lending.RepayLoan(borrower)
		return err
	})
	return loan, err
}

func (n *Node) Liquidate(ctx context.Context, caller, borrower [20]byte) (*lending.Loan, error) {
	var loan *lending.Loan
	err := n.execute(ctx, "lending_liquidate", func() error {
		var err error
		loan, err = n.lending.Liquidate(caller, borrower)
		return err
	})
	return loan, err
}

func (n *Node) GetLoanDetails(ctx context.Context, borrower [20]byte) (*lending.Loan, error) {
	var loan *lending.Loan
	err := n.read(ctx, func() error {
		var err error
		loan, err = n.lending.GetLoanDetails(borrower)
		return err
	})
	return loan, err
}

func (n *Node) Pool(ctx context.Context) (*lending.Pool, error) {
	var pool *lending.Pool
	err := n.read(ctx, func() error {
		var err error
		pool, err = n.lending.Pool()
		return err
	})
	return pool, err
}

// Coordinator returns the lending coordinator's scorer identity.
func (n *Node) Coordinator() [20]byte {
	return n.lending.Identity()
}
