package spend

import (
	"fmt"
	"math/big"
	"strings"

	"spendgate/crypto"

	"github.com/holiman/uint256"
)

// PolicyStore keeps per-principal spend limits and the rolling daily-spend
// ledger. It performs no locking of its own; the engine serializes access
// under its execution guard.
type PolicyStore struct {
	store Storage
}

// NewPolicyStore constructs a policy store backed by the provided storage.
func NewPolicyStore(store Storage) *PolicyStore {
	return &PolicyStore{store: store}
}

// SetPolicy overwrites the daily cap and both action caps for the principal
// in one write. Nil caps normalise to zero, i.e. not configured.
func (ps *PolicyStore) SetPolicy(principal crypto.Address, policy *Policy) error {
	if ps == nil || ps.store == nil {
		return fmt.Errorf("spend: policy store not configured")
	}
	if principal.IsZero() {
		return fmt.Errorf("spend: principal required")
	}
	normalized := policy.Clone()
	if normalized == nil {
		normalized = &Policy{}
	}
	for _, limit := range []*big.Int{normalized.DailyCap, normalized.LikeCap, normalized.RepostCap} {
		if limit != nil && limit.Sign() < 0 {
			return fmt.Errorf("spend: caps must not be negative")
		}
	}
	record := policyRecord{
		DailyCap:  cloneBigInt(normalized.DailyCap).String(),
		LikeCap:   cloneBigInt(normalized.LikeCap).String(),
		RepostCap: cloneBigInt(normalized.RepostCap).String(),
	}
	return ps.store.KVPut(policyKey(principal), record)
}

// Get loads the stored policy for the principal. The boolean reports whether
// a policy has ever been written.
func (ps *PolicyStore) Get(principal crypto.Address) (*Policy, bool, error) {
	if ps == nil || ps.store == nil {
		return nil, false, fmt.Errorf("spend: policy store not configured")
	}
	var record policyRecord
	ok, err := ps.store.KVGet(policyKey(principal), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	policy := &Policy{}
	if policy.DailyCap, err = parseAmount(record.DailyCap); err != nil {
		return nil, false, fmt.Errorf("spend: stored daily cap: %w", err)
	}
	if policy.LikeCap, err = parseAmount(record.LikeCap); err != nil {
		return nil, false, fmt.Errorf("spend: stored like cap: %w", err)
	}
	if policy.RepostCap, err = parseAmount(record.RepostCap); err != nil {
		return nil, false, fmt.Errorf("spend: stored repost cap: %w", err)
	}
	return policy, true, nil
}

// CheckAndReserve evaluates the per-action and daily caps for the pending
// spend without mutating the ledger. On success it returns the cumulative
// daily total the caller must later commit.
func (ps *PolicyStore) CheckAndReserve(principal crypto.Address, kind ActionKind, amount *big.Int, day int64) (*big.Int, error) {
	if ps == nil || ps.store == nil {
		return nil, fmt.Errorf("spend: policy store not configured")
	}
	if !kind.Valid() {
		return nil, ErrUnknownActionKind
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("spend: amount must not be negative")
	}
	policy, ok, err := ps.Get(principal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrActionNotConfigured
	}
	actionCap := policy.ActionCap(kind)
	if actionCap.Sign() == 0 {
		return nil, ErrActionNotConfigured
	}
	if amount.Cmp(actionCap) > 0 {
		return nil, ErrActionCapExceeded
	}
	if policy.DailyCap == nil || policy.DailyCap.Sign() == 0 {
		return nil, ErrDailyNotConfigured
	}
	spent, err := ps.DailySpent(principal, day)
	if err != nil {
		return nil, err
	}
	projected := new(big.Int).Add(spent, amount)
	if _, overflow := uint256.FromBig(projected); overflow {
		return nil, ErrDailyCapExceeded
	}
	if projected.Cmp(policy.DailyCap) > 0 {
		return nil, ErrDailyCapExceeded
	}
	return projected, nil
}

// Commit adds the spent amount to the principal's ledger bucket for the given
// day. It must run exactly once per successful execution, after the forward
// call completes; an overflow here is an invariant violation, never wrapped
// around.
func (ps *PolicyStore) Commit(principal crypto.Address, day int64, amount *big.Int) error {
	if ps == nil || ps.store == nil {
		return fmt.Errorf("spend: policy store not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("spend: amount must not be negative")
	}
	spent, err := ps.DailySpent(principal, day)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(spent, amount)
	if _, overflow := uint256.FromBig(updated); overflow {
		return ErrLedgerOverflow
	}
	return ps.store.KVPut(ledgerKey(principal, day), amountRecord{Amount: updated.String()})
}

// DailySpent returns the cumulative amount the principal has spent within the
// given day bucket.
func (ps *PolicyStore) DailySpent(principal crypto.Address, day int64) (*big.Int, error) {
	if ps == nil || ps.store == nil {
		return nil, fmt.Errorf("spend: policy store not configured")
	}
	var record amountRecord
	ok, err := ps.store.KVGet(ledgerKey(principal, day), &record)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(record.Amount) == "" {
		return big.NewInt(0), nil
	}
	return parseAmount(record.Amount)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}
