package spend

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spendgate/core/events"
	"spendgate/crypto"
)

// Engine orchestrates one delegated spend end to end: authorization check,
// limit check, pull into the executor, forward to the venue, ledger commit,
// audit emission. A single mutex serializes the whole sequence together with
// every administrative mutation; an atomic sentinel rejects re-entrant calls
// outright so a forwarding venue can never trigger a nested execution.
type Engine struct {
	mu       sync.Mutex
	inFlight atomic.Bool

	ledger    AssetLedger
	validator *Validator
	policies  *PolicyStore
	forwarder Forwarder
	emitter   events.Emitter

	executor      crypto.Address
	forwardTarget crypto.Address

	paused bool
	nowFn  func() time.Time
}

// EngineOption customises the engine instance.
type EngineOption func(*Engine)

// WithEmitter supplies the audit event emitter.
func WithEmitter(emitter events.Emitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithClock sets the time source, primarily for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithPaused starts the engine in the paused state.
func WithPaused(paused bool) EngineOption {
	return func(e *Engine) { e.paused = paused }
}

// NewEngine wires the engine with its collaborators. The forward target is
// the fixed, trusted venue identity the executor approves before invoking the
// forwarding call.
func NewEngine(ledger AssetLedger, policies *PolicyStore, forwarder Forwarder, executor, forwardTarget crypto.Address, opts ...EngineOption) *Engine {
	engine := &Engine{
		ledger:        ledger,
		validator:     NewValidator(ledger, executor),
		policies:      policies,
		forwarder:     forwarder,
		emitter:       events.NoopEmitter{},
		executor:      executor,
		forwardTarget: forwardTarget,
		nowFn:         time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Execute runs the full state machine for one request. Every rejection is
// synchronous and typed; nothing is retried internally. A second call while
// one execution holds the guard — re-entrant or concurrent — fails with
// ErrExecutionInFlight before touching any state.
func (e *Engine) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionRecord, error) {
	if e == nil || e.ledger == nil || e.policies == nil || e.forwarder == nil {
		return nil, fmt.Errorf("spend: engine not configured")
	}
	if req == nil {
		return nil, fmt.Errorf("spend: request required")
	}
	if req.Amount == nil || req.Amount.Sign() < 0 {
		return nil, fmt.Errorf("spend: amount must not be negative")
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrExecutionInFlight
	}
	defer e.inFlight.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrPaused
	}

	// The timestamp is sampled exactly once so the deadline check and the day
	// bucket cannot disagree across a boundary mid-execution.
	now := e.nowFn()
	day := dayIndex(now.Unix())

	if err := e.validator.Verify(req.Grant, req.Principal, req.Amount, now); err != nil {
		return nil, err
	}
	if _, err := e.policies.CheckAndReserve(req.Principal, req.Kind, req.Amount, day); err != nil {
		return nil, err
	}
	if err := e.ledger.Pull(req.Principal, e.executor, req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.forward(ctx, req); err != nil {
		if rbErr := e.rollback(req); rbErr != nil {
			return nil, fmt.Errorf("%w: %v (forward: %v)", ErrRollbackFailed, rbErr, err)
		}
		return nil, err
	}
	if err := e.policies.Commit(req.Principal, day, req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	record := &ExecutionRecord{
		ID:            uuid.NewString(),
		Principal:     req.Principal,
		Kind:          req.Kind,
		Amount:        cloneBigInt(req.Amount),
		ForwardStatus: ForwardStatusDelivered,
		Day:           day,
		Timestamp:     now.Unix(),
	}
	e.emit(events.SpendExecuted{
		RecordID:      record.ID,
		Principal:     record.Principal.String(),
		Kind:          string(record.Kind),
		Amount:        record.Amount,
		ForwardStatus: string(record.ForwardStatus),
		Day:           record.Day,
		Timestamp:     record.Timestamp,
	})
	return record, nil
}

// forward approves the venue for exactly the pulled amount and invokes the
// forwarding call with the opaque payload.
func (e *Engine) forward(ctx context.Context, req *ExecutionRequest) error {
	if err := e.ledger.Approve(e.executor, e.forwardTarget, req.Amount); err != nil {
		return fmt.Errorf("%w: approve: %v", ErrForwardFailed, err)
	}
	if _, err := e.forwarder.Invoke(ctx, req.Payload); err != nil {
		return fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	return nil
}

// rollback unwinds a failed transfer-and-forward: the venue approval is
// unset and the pulled funds are returned to the principal, leaving balances
// and the daily ledger as they were before the request.
func (e *Engine) rollback(req *ExecutionRequest) error {
	if err := e.ledger.Approve(e.executor, e.forwardTarget, big.NewInt(0)); err != nil {
		return fmt.Errorf("reset approval: %w", err)
	}
	if req.Amount.Sign() > 0 {
		if err := e.ledger.Transfer(e.executor, req.Principal, req.Amount); err != nil {
			return fmt.Errorf("refund principal: %w", err)
		}
	}
	return nil
}

// SetPolicy rewrites the principal's limits under the execution guard and
// emits a policy-change record.
func (e *Engine) SetPolicy(principal crypto.Address, policy *Policy) error {
	if e == nil || e.policies == nil {
		return fmt.Errorf("spend: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.policies.SetPolicy(principal, policy); err != nil {
		return err
	}
	normalized := policy.Clone()
	if normalized == nil {
		normalized = &Policy{}
	}
	e.emit(events.SpendPolicyUpdated{
		Principal: principal.String(),
		DailyCap:  cloneBigInt(normalized.DailyCap),
		LikeCap:   cloneBigInt(normalized.LikeCap),
		RepostCap: cloneBigInt(normalized.RepostCap),
		Timestamp: e.nowFn().Unix(),
	})
	return nil
}

// Policy returns the stored limits for the principal.
func (e *Engine) Policy(principal crypto.Address) (*Policy, bool, error) {
	if e == nil || e.policies == nil {
		return nil, false, fmt.Errorf("spend: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policies.Get(principal)
}

// DailySpent reports the cumulative spend for the principal in the day bucket
// containing now.
func (e *Engine) DailySpent(principal crypto.Address, now time.Time) (*big.Int, error) {
	if e == nil || e.policies == nil {
		return nil, fmt.Errorf("spend: engine not configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policies.DailySpent(principal, dayIndex(now.Unix()))
}

// Pause blocks all subsequently admitted executions. An execution already
// past admission completes normally; there is no mid-flight preemption.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.emit(events.SpendPaused{Timestamp: e.nowFn().Unix()})
}

// Resume re-admits executions.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	e.emit(events.SpendResumed{Timestamp: e.nowFn().Unix()})
}

// Paused reports whether the engine is currently rejecting new executions.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Recover sweeps the executor's full balance to the destination address. It
// exists for stray funds left behind by rollback failures and operational
// mistakes, and runs under the same guard as executions.
func (e *Engine) Recover(to crypto.Address) (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("spend: engine not configured")
	}
	if to.IsZero() {
		return nil, fmt.Errorf("spend: recovery destination required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	balance, err := e.ledger.BalanceOf(e.executor)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.ledger.Transfer(e.executor, to, balance); err != nil {
		return nil, err
	}
	swept := new(big.Int).Set(balance)
	e.emit(events.SpendRecovered{To: to.String(), Amount: swept, Timestamp: e.nowFn().Unix()})
	return swept, nil
}

// Executor returns the executor identity the engine spends from.
func (e *Engine) Executor() crypto.Address { return e.executor }
