package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"spendgate/crypto"
	"spendgate/native/spend"
)

var (
	// ErrNonceConsumed indicates the authorization was already registered once.
	ErrNonceConsumed = errors.New("token: authorization already consumed")
	// ErrAuthorizationExpired indicates the grant deadline has passed.
	ErrAuthorizationExpired = errors.New("token: authorization expired")
	// ErrSignatureMismatch indicates the recovered signer is not the principal.
	ErrSignatureMismatch = errors.New("token: signature mismatch")
	// ErrInsufficientAllowance indicates a pull beyond the registered allowance.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrInsufficientBalance indicates a move beyond the owner's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// Ledger is an in-process asset ledger with one-time authorization semantics.
// It backs tests and local deployments; production deployments substitute the
// real custody ledger behind the same interface. Replay prevention lives
// here: a nonce registers at most once, ever.
type Ledger struct {
	mu         sync.Mutex
	chainID    uint64
	nowFn      func() time.Time
	balances   map[string]*big.Int
	allowances map[string]*big.Int
	consumed   map[string]struct{}
}

// NewLedger constructs an empty ledger for the given chain identifier.
func NewLedger(chainID uint64) *Ledger {
	return &Ledger{
		chainID:    chainID,
		nowFn:      time.Now,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		consumed:   make(map[string]struct{}),
	}
}

// SetClock overrides the time source for deterministic tests.
func (l *Ledger) SetClock(now func() time.Time) {
	if l == nil || now == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = now
}

func balanceKey(addr crypto.Address) string {
	return string(addr.Bytes())
}

func allowanceKey(owner, spender crypto.Address) string {
	return string(owner.Bytes()) + "|" + string(spender.Bytes())
}

func nonceKey(principal crypto.Address, nonce []byte) string {
	return string(principal.Bytes()) + "|" + hex.EncodeToString(nonce)
}

// Mint credits the address, seeding balances for tests and local runs.
func (l *Ledger) Mint(addr crypto.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: mint amount must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.balanceLocked(addr)
	l.balances[balanceKey(addr)] = new(big.Int).Add(current, amount)
	return nil
}

func (l *Ledger) balanceLocked(addr crypto.Address) *big.Int {
	if current, ok := l.balances[balanceKey(addr)]; ok {
		return new(big.Int).Set(current)
	}
	return big.NewInt(0)
}

func (l *Ledger) allowanceLocked(owner, spender crypto.Address) *big.Int {
	if current, ok := l.allowances[allowanceKey(owner, spender)]; ok {
		return new(big.Int).Set(current)
	}
	return big.NewInt(0)
}

// RegisterAuthorization verifies the grant against the ledger's own view —
// deadline, one-time nonce, and signature recovery over the canonical digest
// — then installs the allowance. The nonce is consumed even if a later pull
// fails; retries require a fresh grant.
func (l *Ledger) RegisterAuthorization(principal, spender crypto.Address, amount *big.Int, deadline int64, nonce, signature []byte) error {
	if l == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: amount must not be negative")
	}
	if len(nonce) == 0 {
		return fmt.Errorf("token: nonce required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nowFn().Unix() > deadline {
		return ErrAuthorizationExpired
	}
	key := nonceKey(principal, nonce)
	if _, used := l.consumed[key]; used {
		return ErrNonceConsumed
	}
	grant := spend.AuthorizationGrant{
		Domain:    spend.GrantDomainV1,
		ChainID:   l.chainID,
		Principal: principal,
		Spender:   spender,
		Amount:    amount,
		Nonce:     nonce,
		Deadline:  deadline,
		Signature: signature,
	}
	signed, err := grant.SignedBy()
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if !signed {
		return ErrSignatureMismatch
	}
	l.consumed[key] = struct{}{}
	l.allowances[allowanceKey(principal, spender)] = new(big.Int).Set(amount)
	return nil
}

// Pull moves funds from the principal to the destination against the
// destination's registered allowance.
func (l *Ledger) Pull(principal, to crypto.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: amount must not be negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance := l.allowanceLocked(principal, to)
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	balance := l.balanceLocked(principal)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.allowances[allowanceKey(principal, to)] = new(big.Int).Sub(allowance, amount)
	l.balances[balanceKey(principal)] = new(big.Int).Sub(balance, amount)
	l.balances[balanceKey(to)] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

// Approve sets the allowance from owner to spender.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: amount must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey(owner, spender)] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves owned funds directly between accounts.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: amount must not be negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[balanceKey(from)] = new(big.Int).Sub(balance, amount)
	l.balances[balanceKey(to)] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

// BalanceOf reports the address balance.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("token: ledger not initialised")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(addr), nil
}

// Allowance reports the remaining allowance from owner to spender.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("token: ledger not initialised")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceLocked(owner, spender), nil
}
