package spend

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	"spendgate/crypto"
)

// Validator checks delegated authorization grants and registers the resulting
// allowance with the asset ledger. It holds no replay state of its own; the
// ledger's one-time nonce semantics are authoritative.
type Validator struct {
	ledger   AssetLedger
	executor crypto.Address
}

// NewValidator constructs a validator for the executor identity backed by the
// provided ledger.
func NewValidator(ledger AssetLedger, executor crypto.Address) *Validator {
	return &Validator{ledger: ledger, executor: executor}
}

// Verify confirms the grant authorizes the executor to move at least amount
// of the principal's funds before the deadline, then registers the allowance
// with the ledger. Ledger refusal (replay, mismatch) surfaces as
// ErrInsufficientGrant.
func (v *Validator) Verify(grant *AuthorizationGrant, principal crypto.Address, amount *big.Int, now time.Time) error {
	if v == nil || v.ledger == nil {
		return fmt.Errorf("spend: validator not configured")
	}
	if grant == nil {
		return ErrInvalidSignature
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("spend: amount must not be negative")
	}
	if now.Unix() > grant.Deadline {
		return ErrAuthorizationExpired
	}
	if !strings.EqualFold(strings.TrimSpace(grant.Domain), GrantDomainV1) {
		return ErrInvalidSignature
	}
	if !bytes.Equal(grant.Principal.Bytes(), principal.Bytes()) {
		return ErrInvalidSignature
	}
	if !bytes.Equal(grant.Spender.Bytes(), v.executor.Bytes()) {
		return ErrInvalidSignature
	}
	if grant.Amount == nil || grant.Amount.Cmp(amount) < 0 {
		return ErrInvalidSignature
	}
	signed, err := grant.SignedBy()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !signed {
		return ErrInvalidSignature
	}
	if err := v.ledger.RegisterAuthorization(grant.Principal, grant.Spender, grant.Amount, grant.Deadline, grant.Nonce, grant.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientGrant, err)
	}
	return nil
}
