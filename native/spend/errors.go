package spend

import "errors"

// Authorization failures. All of them reject before any fund movement.
var (
	// ErrAuthorizationExpired indicates the grant deadline has passed.
	ErrAuthorizationExpired = errors.New("spend: authorization expired")
	// ErrInvalidSignature indicates the grant does not authenticate the
	// principal's delegation to the executor for at least the requested amount.
	ErrInvalidSignature = errors.New("spend: authorization signature invalid")
	// ErrInsufficientGrant indicates the asset ledger refused to register the
	// allowance (replay, mismatch, or ledger-level rejection).
	ErrInsufficientGrant = errors.New("spend: authorization grant insufficient")
)

// Policy failures. All of them reject before any fund movement.
var (
	// ErrUnknownActionKind indicates a tag outside the closed action set.
	ErrUnknownActionKind = errors.New("spend: unknown action kind")
	// ErrActionNotConfigured indicates the per-kind cap is unset for the principal.
	ErrActionNotConfigured = errors.New("spend: action cap not configured")
	// ErrActionCapExceeded indicates the amount exceeds the per-kind cap.
	ErrActionCapExceeded = errors.New("spend: action cap exceeded")
	// ErrDailyNotConfigured indicates the daily cap is unset for the principal.
	ErrDailyNotConfigured = errors.New("spend: daily cap not configured")
	// ErrDailyCapExceeded indicates the projected daily total exceeds the cap.
	ErrDailyCapExceeded = errors.New("spend: daily cap exceeded")
)

// Execution failures. Any funds already pulled are returned to the principal.
var (
	// ErrTransferFailed indicates the asset pull into the executor failed.
	ErrTransferFailed = errors.New("spend: transfer failed")
	// ErrForwardFailed indicates the forwarding call failed and the execution
	// was rolled back.
	ErrForwardFailed = errors.New("spend: forward failed")
)

// Fatal invariant violations. These abort the operation and must never be
// silently truncated or retried.
var (
	// ErrLedgerOverflow indicates the daily ledger addition would overflow the
	// 256-bit amount domain.
	ErrLedgerOverflow = errors.New("spend: daily ledger overflow")
	// ErrCommitFailed indicates the post-forward commit could not be applied.
	ErrCommitFailed = errors.New("spend: ledger commit failed")
	// ErrRollbackFailed indicates a compensating refund could not be applied;
	// the pulled funds remain with the executor pending emergency recovery.
	ErrRollbackFailed = errors.New("spend: rollback failed")
)

// Engine admission failures.
var (
	// ErrPaused indicates the executor is not admitting new executions.
	ErrPaused = errors.New("spend: executor paused")
	// ErrExecutionInFlight indicates a re-entrant or concurrent call into the
	// engine while an execution holds the guard.
	ErrExecutionInFlight = errors.New("spend: execution already in flight")
)
