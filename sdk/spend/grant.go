package spendsdk

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"spendgate/crypto"
	"spendgate/native/spend"
)

// NewGrant builds and signs a one-time authorization grant with a random
// 16-byte nonce. The key must belong to the principal whose funds the spender
// will move.
func NewGrant(key *crypto.PrivateKey, chainID uint64, spender crypto.Address, amount *big.Int, deadline int64) (*spend.AuthorizationGrant, error) {
	if key == nil {
		return nil, fmt.Errorf("principal key required")
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	grant := &spend.AuthorizationGrant{
		Domain:    spend.GrantDomainV1,
		ChainID:   chainID,
		Principal: key.PubKey().Address(),
		Spender:   spender,
		Amount:    new(big.Int).Set(amount),
		Nonce:     nonce,
		Deadline:  deadline,
	}
	digest, err := grant.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash grant: %w", err)
	}
	signature, err := key.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign grant: %w", err)
	}
	grant.Signature = signature
	return grant, nil
}
