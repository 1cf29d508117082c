package spend

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"spendgate/crypto"
)

func signedGrant(t *testing.T, key *crypto.PrivateKey, spender crypto.Address, amount int64, deadline int64) *AuthorizationGrant {
	t.Helper()
	grant := &AuthorizationGrant{
		Domain:    GrantDomainV1,
		ChainID:   1,
		Principal: key.PubKey().Address(),
		Spender:   spender,
		Amount:    big.NewInt(amount),
		Nonce:     []byte{0xde, 0xad, 0xbe, 0xef},
		Deadline:  deadline,
	}
	digest, err := grant.Hash()
	if err != nil {
		t.Fatalf("hash grant: %v", err)
	}
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	grant.Signature = sig
	return grant
}

func TestGrantHashDeterministic(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	grant := signedGrant(t, key, testAddress(0x02), 50, 1_000_000)
	first, err := grant.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := grant.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("hash must be deterministic")
	}

	modified := *grant
	modified.Amount = big.NewInt(51)
	changed, err := modified.Hash()
	if err != nil {
		t.Fatalf("hash modified: %v", err)
	}
	if bytes.Equal(first, changed) {
		t.Fatal("amount change must alter the digest")
	}
}

func TestGrantSignedByRecoversPrincipal(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	grant := signedGrant(t, key, testAddress(0x02), 50, 1_000_000)
	ok, err := grant.SignedBy()
	if err != nil {
		t.Fatalf("signed by: %v", err)
	}
	if !ok {
		t.Fatal("valid signature must recover the principal")
	}
}

func TestGrantSignedByRejectsTampering(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	grant := signedGrant(t, key, testAddress(0x02), 50, 1_000_000)
	grant.Amount = big.NewInt(500)
	ok, err := grant.SignedBy()
	if err != nil {
		t.Fatalf("signed by: %v", err)
	}
	if ok {
		t.Fatal("tampered grant must not verify")
	}
}

func TestGrantSignedByRejectsShortSignature(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	grant := signedGrant(t, key, testAddress(0x02), 50, 1_000_000)
	grant.Signature = grant.Signature[:32]
	ok, err := grant.SignedBy()
	if err != nil {
		t.Fatalf("signed by: %v", err)
	}
	if ok {
		t.Fatal("truncated signature must not verify")
	}
}

func TestGrantJSONRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	grant := signedGrant(t, key, testAddress(0x02), 50, 1_000_000)
	encoded, err := json.Marshal(grant)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded AuthorizationGrant
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Domain != grant.Domain || decoded.ChainID != grant.ChainID || decoded.Deadline != grant.Deadline {
		t.Fatalf("decoded header mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Principal.Bytes(), grant.Principal.Bytes()) {
		t.Fatal("principal mismatch after round trip")
	}
	if decoded.Amount.Cmp(grant.Amount) != 0 {
		t.Fatalf("amount mismatch: %s vs %s", decoded.Amount, grant.Amount)
	}
	if !bytes.Equal(decoded.Nonce, grant.Nonce) || !bytes.Equal(decoded.Signature, grant.Signature) {
		t.Fatal("nonce or signature mismatch after round trip")
	}
	ok, err := decoded.SignedBy()
	if err != nil || !ok {
		t.Fatalf("decoded grant must still verify: ok=%v err=%v", ok, err)
	}
}

func TestGrantUnmarshalRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing domain": `{"chainId":1,"principal":"x","spender":"x","amount":"1","nonce":"01","deadline":1}`,
		"missing amount": `{"domain":"SPENDGATE_GRANT_V1","chainId":1,"principal":"x","spender":"x","nonce":"01","deadline":1}`,
		"missing nonce":  `{"domain":"SPENDGATE_GRANT_V1","chainId":1,"principal":"x","spender":"x","amount":"1","deadline":1}`,
	}
	for name, payload := range cases {
		var grant AuthorizationGrant
		if err := json.Unmarshal([]byte(payload), &grant); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
