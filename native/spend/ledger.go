package spend

import (
	"context"
	"math/big"

	"spendgate/crypto"
)

// AssetLedger is the external collaborator holding custody of principal
// funds. It is the sole source of truth for balances and for authorization
// replay prevention: a grant nonce consumed by RegisterAuthorization can
// never be registered again.
type AssetLedger interface {
	// RegisterAuthorization consumes the grant and installs the allowance
	// from the principal to the spender. Replay, deadline, and signature
	// mismatches are ledger-level failures.
	RegisterAuthorization(principal, spender crypto.Address, amount *big.Int, deadline int64, nonce, signature []byte) error
	// Pull moves funds from the principal using a previously registered
	// allowance held by the destination.
	Pull(principal, to crypto.Address, amount *big.Int) error
	// Approve sets the allowance from owner to spender. The engine only ever
	// approves out of its own executor account.
	Approve(owner, spender crypto.Address, amount *big.Int) error
	// Transfer moves owned funds directly, used for rollback refunds and
	// emergency recovery sweeps.
	Transfer(from, to crypto.Address, amount *big.Int) error
	// BalanceOf reports the current balance for the address.
	BalanceOf(addr crypto.Address) (*big.Int, error)
}

// Forwarder invokes the pre-agreed downstream integration with an opaque
// payload. The engine only interprets pass/fail; it does not parse the output
// and it does not re-validate that any recipient encoded inside the payload
// matches the principal — the venue is a fixed, pre-audited integration.
type Forwarder interface {
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Invoke implements the Forwarder interface.
func (f ForwarderFunc) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
