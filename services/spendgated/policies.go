package spendgated

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"spendgate/crypto"
	"spendgate/native/spend"
)

// PrincipalPolicy pairs a principal with its bootstrap spend limits.
type PrincipalPolicy struct {
	Principal crypto.Address
	Policy    *spend.Policy
}

// policyFile mirrors the YAML representation of a policy entry.
type policyFile struct {
	Principal string `yaml:"principal"`
	DailyCap  string `yaml:"daily_cap"`
	LikeCap   string `yaml:"like_cap"`
	RepostCap string `yaml:"repost_cap"`
}

// LoadPolicies reads per-principal bootstrap policies from a YAML file.
func LoadPolicies(path string) ([]PrincipalPolicy, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policies: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []policyFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	policies := make([]PrincipalPolicy, 0, len(entries))
	seen := make(map[string]struct{})
	for _, entry := range entries {
		raw := strings.TrimSpace(entry.Principal)
		if raw == "" {
			return nil, fmt.Errorf("policy principal required")
		}
		principal, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("policy principal %s: %w", raw, err)
		}
		if _, exists := seen[raw]; exists {
			return nil, fmt.Errorf("duplicate policy for principal %s", raw)
		}
		dailyCap, err := parseDecimal(entry.DailyCap)
		if err != nil {
			return nil, fmt.Errorf("principal %s daily_cap: %w", raw, err)
		}
		likeCap, err := parseDecimal(entry.LikeCap)
		if err != nil {
			return nil, fmt.Errorf("principal %s like_cap: %w", raw, err)
		}
		repostCap, err := parseDecimal(entry.RepostCap)
		if err != nil {
			return nil, fmt.Errorf("principal %s repost_cap: %w", raw, err)
		}
		policies = append(policies, PrincipalPolicy{
			Principal: principal,
			Policy: &spend.Policy{
				DailyCap:  dailyCap,
				LikeCap:   likeCap,
				RepostCap: repostCap,
			},
		})
		seen[raw] = struct{}{}
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Principal.String() < policies[j].Principal.String()
	})
	return policies, nil
}

func parseDecimal(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}
