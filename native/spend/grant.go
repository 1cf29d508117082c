package spend

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	repoCrypto "spendgate/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// GrantDomainV1 tags the first version of the delegated spend authorization.
const GrantDomainV1 = "SPENDGATE_GRANT_V1"

// AuthorizationGrant is a one-time, deadline-bounded proof that a principal
// permits the spender to move up to Amount of their asset. The asset ledger
// consumes the nonce on first successful registration, making replay
// impossible at the source of truth.
type AuthorizationGrant struct {
	Domain    string
	ChainID   uint64
	Principal repoCrypto.Address
	Spender   repoCrypto.Address
	Amount    *big.Int
	Nonce     []byte
	Deadline  int64
	Signature []byte
}

type grantJSON struct {
	Domain    string `json:"domain"`
	ChainID   uint64 `json:"chainId"`
	Principal string `json:"principal"`
	Spender   string `json:"spender"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

// MarshalJSON encodes the grant into the representation accepted over HTTP.
func (g AuthorizationGrant) MarshalJSON() ([]byte, error) {
	amountStr := "0"
	if g.Amount != nil {
		amountStr = strings.TrimSpace(g.Amount.String())
	}
	payload := grantJSON{
		Domain:    strings.TrimSpace(g.Domain),
		ChainID:   g.ChainID,
		Principal: g.Principal.String(),
		Spender:   g.Spender.String(),
		Amount:    amountStr,
		Nonce:     strings.ToLower(hex.EncodeToString(g.Nonce)),
		Deadline:  g.Deadline,
		Signature: strings.ToLower(hex.EncodeToString(g.Signature)),
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the on-wire representation into the canonical struct.
func (g *AuthorizationGrant) UnmarshalJSON(data []byte) error {
	if g == nil {
		return fmt.Errorf("grant: nil receiver")
	}
	var payload grantJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	domain := strings.TrimSpace(payload.Domain)
	if domain == "" {
		return fmt.Errorf("grant: domain required")
	}
	principal, err := repoCrypto.DecodeAddress(strings.TrimSpace(payload.Principal))
	if err != nil {
		return fmt.Errorf("grant: principal: %w", err)
	}
	spender, err := repoCrypto.DecodeAddress(strings.TrimSpace(payload.Spender))
	if err != nil {
		return fmt.Errorf("grant: spender: %w", err)
	}
	amountStr := strings.TrimSpace(payload.Amount)
	if amountStr == "" {
		return fmt.Errorf("grant: amount required")
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return fmt.Errorf("grant: invalid amount %q", payload.Amount)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("grant: amount must not be negative")
	}
	nonceStr := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(payload.Nonce)), "0x")
	if nonceStr == "" {
		return fmt.Errorf("grant: nonce required")
	}
	nonce, err := hex.DecodeString(nonceStr)
	if err != nil {
		return fmt.Errorf("grant: nonce: %w", err)
	}
	sigStr := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(payload.Signature)), "0x")
	signature, err := hex.DecodeString(sigStr)
	if err != nil {
		return fmt.Errorf("grant: signature: %w", err)
	}
	*g = AuthorizationGrant{
		Domain:    domain,
		ChainID:   payload.ChainID,
		Principal: principal,
		Spender:   spender,
		Amount:    amount,
		Nonce:     nonce,
		Deadline:  payload.Deadline,
		Signature: signature,
	}
	return nil
}

// Hash reconstructs the canonical digest the principal signed. Amounts are
// encoded as 32-byte big-endian words so the digest domain is fixed-width.
func (g AuthorizationGrant) Hash() ([]byte, error) {
	amount := big.NewInt(0)
	if g.Amount != nil {
		amount = g.Amount
	}
	encoded, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return nil, fmt.Errorf("grant: amount outside the unsigned 256-bit domain")
	}
	amountWord := encoded.Bytes32()
	payload := fmt.Sprintf("%s|chain=%d|principal=%s|spender=%s|amount=%s|nonce=%s|deadline=%d",
		strings.TrimSpace(g.Domain),
		g.ChainID,
		hex.EncodeToString(g.Principal.Bytes()),
		hex.EncodeToString(g.Spender.Bytes()),
		hex.EncodeToString(amountWord[:]),
		strings.ToLower(hex.EncodeToString(g.Nonce)),
		g.Deadline,
	)
	return ethcrypto.Keccak256([]byte(payload)), nil
}

// SignedBy recovers the signer and reports whether it matches the grant's
// principal. A malformed signature counts as a mismatch, never an error the
// caller needs to branch on.
func (g AuthorizationGrant) SignedBy() (bool, error) {
	if len(g.Signature) != 65 {
		return false, nil
	}
	digest, err := g.Hash()
	if err != nil {
		return false, err
	}
	pubKey, err := ethcrypto.SigToPub(digest, g.Signature)
	if err != nil {
		return false, nil
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	return bytes.Equal(recovered.Bytes(), g.Principal.Bytes()), nil
}
