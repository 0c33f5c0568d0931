// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/ids"

	vaultgenesis "github.com/luxfi/vaultvm/genesis"
)

// Spec is the human-written JSON form of a genesis. Addresses are the
// usual base58 short-ID strings.
type Spec struct {
	Timestamp      int64       `json:"timestamp"`
	TreasuryBudget uint64      `json:"treasuryBudget"`
	Vaults         []VaultSpec `json:"vaults"`
}

type VaultSpec struct {
	Name        string           `json:"name"`
	RewardRate  uint64           `json:"rewardRate"`
	Allocations []AllocationSpec `json:"allocations"`
}

type AllocationSpec struct {
	Address string `json:"address"`
	Shares  uint64 `json:"shares"`
}

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "genesis",
		Short: "Builds serialized genesis bytes from a JSON spec",
		RunE:  genesisFunc,
	}
	AddFlags(c.Flags())
	return c
}

func genesisFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	specBytes, err := os.ReadFile(config.Input)
	if err != nil {
		return err
	}
	gen, err := ParseSpec(specBytes)
	if err != nil {
		return err
	}

	genesisBytes, err := gen.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(config.Output, genesisBytes, 0o600); err != nil {
		return err
	}

	fmt.Printf("wrote genesis (%d bytes) to %s\n", len(genesisBytes), config.Output)
	return nil
}

// ParseSpec decodes a JSON genesis spec into a verified genesis.
func ParseSpec(specBytes []byte) (*vaultgenesis.Genesis, error) {
	spec := &Spec{}
	if err := json.Unmarshal(specBytes, spec); err != nil {
		return nil, fmt.Errorf("failed to decode genesis spec: %w", err)
	}

	gen := &vaultgenesis.Genesis{
		Timestamp:      spec.Timestamp,
		TreasuryBudget: spec.TreasuryBudget,
		Vaults:         make([]vaultgenesis.Vault, 0, len(spec.Vaults)),
	}
	for _, v := range spec.Vaults {
		genVault := vaultgenesis.Vault{
			Name:        v.Name,
			RewardRate:  v.RewardRate,
			Allocations: make([]vaultgenesis.Allocation, 0, len(v.Allocations)),
		}
		for _, alloc := range v.Allocations {
			addr, err := ids.ShortFromString(alloc.Address)
			if err != nil {
				return nil, fmt.Errorf("invalid address %q in vault %q: %w",
					alloc.Address, v.Name, err)
			}
			genVault.Allocations = append(genVault.Allocations, vaultgenesis.Allocation{
				Address: addr,
				Shares:  alloc.Shares,
			})
		}
		gen.Vaults = append(gen.Vaults, genVault)
	}

	if err := gen.Verify(); err != nil {
		return nil, err
	}
	return gen, nil
}
