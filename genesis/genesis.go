// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis defines the vault VM's genesis format: the reward
// treasury budget and the initial vaults with their allocations.
package genesis

import (
	"errors"
	"fmt"
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/ids"
)

const codecVersion = 0

var (
	Codec codec.Manager

	ErrNoTimestamp      = errors.New("genesis timestamp must be set")
	ErrNoBudget         = errors.New("genesis treasury budget must be positive")
	ErrNoVaults         = errors.New("genesis must define at least one vault")
	ErrEmptyVaultName   = errors.New("genesis vault name must not be empty")
	ErrDuplicateVault   = errors.New("duplicate genesis vault name")
	ErrEmptyAllocation  = errors.New("genesis allocation shares must be positive")
	ErrDuplicateAddress = errors.New("duplicate allocation address in vault")
)

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&Genesis{}),
		Codec.RegisterCodec(codecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

// Allocation seeds one holder's shares in a genesis vault.
type Allocation struct {
	Address ids.ShortID `json:"address"`
	Shares  uint64      `json:"shares"`
}

// Vault declares one vault created at genesis.
type Vault struct {
	Name        string       `json:"name"`
	RewardRate  uint64       `json:"rewardRate"` // reward units per second
	Allocations []Allocation `json:"allocations"`
}

// Genesis is the chain's initial state.
type Genesis struct {
	Timestamp      int64   `json:"timestamp"`
	TreasuryBudget uint64  `json:"treasuryBudget"`
	Vaults         []Vault `json:"vaults"`
}

// Verify checks the genesis is internally consistent.
func (g *Genesis) Verify() error {
	if g.Timestamp <= 0 {
		return ErrNoTimestamp
	}
	if g.TreasuryBudget == 0 {
		return ErrNoBudget
	}
	if len(g.Vaults) == 0 {
		return ErrNoVaults
	}

	names := make(map[string]struct{}, len(g.Vaults))
	for _, v := range g.Vaults {
		if v.Name == "" {
			return ErrEmptyVaultName
		}
		if _, ok := names[v.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateVault, v.Name)
		}
		names[v.Name] = struct{}{}

		addrs := make(map[ids.ShortID]struct{}, len(v.Allocations))
		for _, alloc := range v.Allocations {
			if alloc.Shares == 0 {
				return fmt.Errorf("%w: vault %q address %s",
					ErrEmptyAllocation, v.Name, alloc.Address)
			}
			if _, ok := addrs[alloc.Address]; ok {
				return fmt.Errorf("%w: vault %q address %s",
					ErrDuplicateAddress, v.Name, alloc.Address)
			}
			addrs[alloc.Address] = struct{}{}
		}
	}
	return nil
}

// Bytes serializes the genesis.
func (g *Genesis) Bytes() ([]byte, error) {
	return Codec.Marshal(codecVersion, g)
}

// Parse deserializes and verifies a genesis.
func Parse(bytes []byte) (*Genesis, error) {
	g := &Genesis{}
	if _, err := Codec.Unmarshal(bytes, g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if err := g.Verify(); err != nil {
		return nil, err
	}
	return g, nil
}
