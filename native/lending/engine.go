package lending

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"repcollateral/core/events"
	"repcollateral/native/access"
	nativecommon "repcollateral/native/common"
	"repcollateral/native/reputation"
	"repcollateral/observability/metrics"
)

var (
	errNilState       = errors.New("lending engine: state not configured")
	errNilLedger      = errors.New("lending engine: reputation ledger not configured")
	errNilPolicy      = errors.New("lending engine: access policy not configured")
	errZeroIdentity   = errors.New("lending engine: coordinator identity not configured")
	errInvalidAmount  = errors.New("lending engine: amount must be positive")
	errInvalidAddress = errors.New("lending engine: borrower must not be the zero address")
)

var (
	// ErrLoanNotApproved is returned when the access policy rejects the
	// requested amount for the borrower's tier.
	ErrLoanNotApproved = errors.New("lending engine: loan not approved for tier")
	// ErrInsufficientCollateral is returned when posted collateral is below
	// the tier requirement.
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	// ErrActiveLoan is returned when the borrower already has an open loan.
	ErrActiveLoan = errors.New("lending engine: borrower has an active loan")
	// ErrNoActiveLoan is returned by repay and liquidate when nothing is open.
	ErrNoActiveLoan = errors.New("lending engine: no active loan")
	// ErrInsufficientLiquidity is returned when the pool cannot fund a loan.
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	// ErrNotLiquidatable is returned when a loan is liquidated before its
	// due time.
	ErrNotLiquidatable = errors.New("lending engine: loan not past due")
	// ErrUnauthorized is returned for owner or keeper calls made by anyone
	// else.
	ErrUnauthorized = errors.New("lending engine: caller not authorized")
)

const moduleName = "lending"

type reputationWriter interface {
	UpdateReputation(caller, user [20]byte, category reputation.Category, delta int64, reason string) (uint64, error)
	Owner() ([20]byte, error)
}

type termsSource interface {
	CalculateLoanTerms(user [20]byte, amount *big.Int) (access.LoanTerms, error)
}

// Engine coordinates loans against reputation-derived terms and reports
// borrower behaviour back to the reputation ledger under its own scorer
// identity.
type Engine struct {
	state    engineState
	ledger   reputationWriter
	policy   termsSource
	identity [20]byte
	keeper   [20]byte
	cfg      Config
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *metrics.ReputationMetrics
	pauses   nativecommon.PauseView
	nowFn    func() int64
}

// NewEngine constructs a coordinator that writes reputation as identity.
// identity must be an authorized scorer on the ledger.
func NewEngine(identity [20]byte, ledger reputationWriter, policy termsSource, cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		ledger:   ledger,
		policy:   policy,
		identity: identity,
		cfg:      cfg,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

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

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetKeeper allows addr to liquidate overdue loans alongside the owner.
func (e *Engine) SetKeeper(addr [20]byte) {
	if e == nil {
		return
	}
	e.keeper = addr
}

// SetNowFunc overrides the wall clock used for loan timing.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

// Identity returns the scorer address the coordinator writes reputation as.
func (e *Engine) Identity() [20]byte {
	if e == nil {
		return [20]byte{}
	}
	return e.identity
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return DefaultConfig()
	}
	return e.cfg
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.policy == nil {
		return errNilPolicy
	}
	if e.identity == ([20]byte{}) {
		return errZeroIdentity
	}
	return nil
}

func (e *Engine) requireOwner(caller [20]byte, allowKeeper bool) error {
	if allowKeeper && e.keeper != ([20]byte{}) && caller == e.keeper {
		return nil
	}
	owner, err := e.ledger.Owner()
	if err != nil {
		if errors.Is(err, reputation.ErrOwnerNotSet) {
			return ErrUnauthorized
		}
		return err
	}
	if caller != owner {
		e.log().Warn("lending admin call refused", "caller", hexAddr(caller))
		return ErrUnauthorized
	}
	return nil
}

// Supply adds owner-provided liquidity to the pool and returns the new
// available balance.
func (e *Engine) Supply(caller [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := e.requireOwner(caller, false); err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	pool.Available.Add(pool.Available, amount)
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PoolSupplied{Supplier: caller, Amount: cloneInt(amount), Available: cloneInt(pool.Available)})
	e.log().Info("lending pool supplied", "supplier", hexAddr(caller), "amount", amount.String(), "available", pool.Available.String())
	return cloneInt(pool.Available), nil
}

// RequestLoan issues a loan when the borrower's tier approves amount and the
// posted collateral covers the tier requirement.
func (e *Engine) RequestLoan(borrower [20]byte, amount, collateral *big.Int) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if borrower == ([20]byte{}) {
		return nil, errInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if collateral == nil || collateral.Sign() < 0 {
		return nil, ErrInsufficientCollateral
	}

	existing, _, err := e.loadLoan(borrower)
	if err != nil {
		return nil, err
	}
	if existing.Active {
		return nil, ErrActiveLoan
	}

	terms, err := e.policy.CalculateLoanTerms(borrower, amount)
	if err != nil {
		return nil, err
	}
	if !terms.Approved {
		e.log().Warn("lending request rejected",
			"borrower", hexAddr(borrower),
			"tier", terms.Tier.String(),
			"amount", amount.String(),
			"max", terms.MaxAmount.String())
		return nil, fmt.Errorf("%w: %s requested, %s tier allows %s", ErrLoanNotApproved, amount, terms.Tier, terms.MaxAmount)
	}
	if collateral.Cmp(terms.RequiredCollateral) < 0 {
		return nil, fmt.Errorf("%w: posted %s, required %s", ErrInsufficientCollateral, collateral, terms.RequiredCollateral)
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Available.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	now := e.now()
	loan := &Loan{
		Borrower:        borrower,
		Amount:          cloneInt(amount),
		Collateral:      cloneInt(collateral),
		Interest:        mulBps(amount, terms.InterestRateBps),
		InterestRateBps: terms.InterestRateBps,
		Tier:            uint8(terms.Tier),
		StartTime:       now,
		DueTime:         now + e.cfg.LoanTermSeconds,
		Active:          true,
	}
	pool.Available.Sub(pool.Available, amount)
	pool.Borrowed.Add(pool.Borrowed, amount)
	pool.Collateral.Add(pool.Collateral, collateral)
	pool.ActiveLoans++

	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.LoanIssued{
		Borrower:   borrower,
		Tier:       terms.Tier.String(),
		Amount:     cloneInt(loan.Amount),
		Collateral: cloneInt(loan.Collateral),
		Interest:   cloneInt(loan.Interest),
		RateBps:    loan.InterestRateBps,
		DueTime:    int64(loan.DueTime),
	})
	e.metrics.ObserveLoanEvent("issued")
	e.metrics.SetActiveLoans(pool.ActiveLoans)
	e.log().Info("lending loan issued",
		"borrower", hexAddr(borrower),
		"tier", terms.Tier.String(),
		"amount", amount.String(),
		"rateBps", loan.InterestRateBps,
		"dueTime", loan.DueTime)
	return loan.Clone(), nil
}

// RepayLoan closes the borrower's loan, releases collateral and scores the
// repayment: early repayment counts as flash-loan abuse, late repayment as
// a default, anything else as a good repayment.
func (e *Engine) RepayLoan(borrower [20]byte) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	loan, _, err := e.loadLoan(borrower)
	if err != nil {
		return nil, err
	}
	if !loan.Active {
		return nil, ErrNoActiveLoan
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}

	now := e.now()
	var (
		category reputation.Category
		delta    int64
		reason   string
	)
	switch {
	case now < loan.StartTime+e.cfg.MinLoanSeconds:
		loan.Outcome = OutcomeFlash
		category, delta, reason = reputation.CategoryFlashLoanAbuse, -e.cfg.FlashLoanPenalty, "loan repaid within minimum duration"
	case now > loan.DueTime:
		loan.Outcome = OutcomeLate
		category, delta, reason = reputation.CategoryLoanDefault, -e.cfg.LatePenalty, "loan repaid after due time"
	default:
		loan.Outcome = OutcomeRepaid
		category, delta, reason = reputation.CategoryLoanRepayment, e.cfg.RepaymentReward, "loan repaid on time"
	}

	loan.Active = false
	loan.ClosedTime = now
	pool.Available.Add(pool.Available, loan.AmountDue())
	pool.Borrowed = subFloor(pool.Borrowed, loan.Amount)
	pool.Collateral = subFloor(pool.Collateral, loan.Collateral)
	pool.InterestEarned.Add(pool.InterestEarned, loan.Interest)
	if pool.ActiveLoans > 0 {
		pool.ActiveLoans--
	}
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if _, err := e.ledger.UpdateReputation(e.identity, borrower, category, delta, reason); err != nil {
		return nil, fmt.Errorf("lending engine: score repayment: %w", err)
	}

	e.emitter.Emit(events.LoanRepaid{
		Borrower: borrower,
		Amount:   cloneInt(loan.Amount),
		Interest: cloneInt(loan.Interest),
		Late:     loan.Outcome == OutcomeLate,
		Flash:    loan.Outcome == OutcomeFlash,
	})
	e.metrics.ObserveLoanEvent(loan.Outcome)
	e.metrics.SetActiveLoans(pool.ActiveLoans)
	e.log().Info("lending loan repaid",
		"borrower", hexAddr(borrower),
		"outcome", loan.Outcome,
		"amount", loan.Amount.String(),
		"interest", loan.Interest.String())
	return loan.Clone(), nil
}

// Liquidate closes an overdue loan, seizes its collateral into the pool and
// records a default. Only the owner or the configured keeper may call it.
func (e *Engine) Liquidate(caller, borrower [20]byte) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller, true); err != nil {
		return nil, err
	}
	loan, _, err := e.loadLoan(borrower)
	if err != nil {
		return nil, err
	}
	if !loan.Active {
		return nil, ErrNoActiveLoan
	}
	now := e.now()
	if now <= loan.DueTime {
		return nil, ErrNotLiquidatable
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}

	loan.Active = false
	loan.ClosedTime = now
	loan.Outcome = OutcomeLiquidated
	pool.Borrowed = subFloor(pool.Borrowed, loan.Amount)
	pool.Collateral = subFloor(pool.Collateral, loan.Collateral)
	pool.Available.Add(pool.Available, loan.Collateral)
	if pool.ActiveLoans > 0 {
		pool.ActiveLoans--
	}
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.storePool(pool); err != nil {
		return nil, err
	}
	if _, err := e.ledger.UpdateReputation(e.identity, borrower, reputation.CategoryLoanDefault, -e.cfg.DefaultPenalty, "loan liquidated after due time"); err != nil {
		return nil, fmt.Errorf("lending engine: score default: %w", err)
	}

	e.emitter.Emit(events.LoanLiquidated{
		Borrower:   borrower,
		Liquidator: caller,
		Amount:     cloneInt(loan.Amount),
		Collateral: cloneInt(loan.Collateral),
	})
	e.metrics.ObserveLoanEvent(OutcomeLiquidated)
	e.metrics.SetActiveLoans(pool.ActiveLoans)
	e.log().Info("lending loan liquidated",
		"borrower", hexAddr(borrower),
		"liquidator", hexAddr(caller),
		"collateral", loan.Collateral.String())
	return loan.Clone(), nil
}

// GetLoanDetails returns the borrower's current or last loan. Borrowers that
// never borrowed get a zero, inactive loan.
func (e *Engine) GetLoanDetails(borrower [20]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, _, err := e.loadLoan(borrower)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Pool returns the liquidity accounting snapshot.
func (e *Engine) Pool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadPool()
}
