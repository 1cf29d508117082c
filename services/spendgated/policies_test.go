package spendgated

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spendgate/crypto"
)

func writePolicies(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadPolicies(t *testing.T) {
	keyA, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	keyB, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addrA := keyA.PubKey().Address().String()
	addrB := keyB.PubKey().Address().String()

	path := writePolicies(t, `
- principal: "`+addrA+`"
  daily_cap: "100"
  like_cap: "60"
  repost_cap: "40"
- principal: "`+addrB+`"
  daily_cap: "250"
  like_cap: "100"
`)
	policies, err := LoadPolicies(path)
	require.NoError(t, err)
	require.Len(t, policies, 2)

	byPrincipal := map[string]PrincipalPolicy{}
	for _, entry := range policies {
		byPrincipal[entry.Principal.String()] = entry
	}
	require.Equal(t, "100", byPrincipal[addrA].Policy.DailyCap.String())
	require.Equal(t, "60", byPrincipal[addrA].Policy.LikeCap.String())
	require.Equal(t, "40", byPrincipal[addrA].Policy.RepostCap.String())
	require.Equal(t, "0", byPrincipal[addrB].Policy.RepostCap.String())
}

func TestLoadPoliciesRejectsDuplicates(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address().String()
	path := writePolicies(t, `
- principal: "`+addr+`"
  daily_cap: "100"
- principal: "`+addr+`"
  daily_cap: "200"
`)
	_, err = LoadPolicies(path)
	require.Error(t, err)
}

func TestLoadPoliciesRejectsBadAddress(t *testing.T) {
	path := writePolicies(t, `
- principal: "not-a-bech32-address"
  daily_cap: "100"
`)
	_, err := LoadPolicies(path)
	require.Error(t, err)
}

func TestLoadPoliciesRejectsNegativeCap(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	path := writePolicies(t, `
- principal: "`+key.PubKey().Address().String()+`"
  daily_cap: "-5"
`)
	_, err = LoadPolicies(path)
	require.Error(t, err)
}
