// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func testGenesis() *Genesis {
	return &Genesis{
		Timestamp:      1_000,
		TreasuryBudget: 1_000_000_000,
		Vaults: []Vault{
			{
				Name:       "stake",
				RewardRate: 1_000_000,
				Allocations: []Allocation{
					{Address: ids.GenerateTestShortID(), Shares: 1_000},
					{Address: ids.GenerateTestShortID(), Shares: 3_000},
				},
			},
			{
				Name:       "reserve",
				RewardRate: 0,
			},
		},
	}
}

func TestGenesisRoundtrip(t *testing.T) {
	require := require.New(t)

	g := testGenesis()
	bytes, err := g.Bytes()
	require.NoError(err)

	parsed, err := Parse(bytes)
	require.NoError(err)
	require.Equal(g.Timestamp, parsed.Timestamp)
	require.Equal(g.TreasuryBudget, parsed.TreasuryBudget)
	require.Len(parsed.Vaults, 2)
	require.Equal(g.Vaults[0].Name, parsed.Vaults[0].Name)
	require.Equal(g.Vaults[0].Allocations, parsed.Vaults[0].Allocations)
}

func TestGenesisVerify(t *testing.T) {
	require := require.New(t)

	g := testGenesis()
	require.NoError(g.Verify())

	g = testGenesis()
	g.Timestamp = 0
	require.ErrorIs(g.Verify(), ErrNoTimestamp)

	g = testGenesis()
	g.TreasuryBudget = 0
	require.ErrorIs(g.Verify(), ErrNoBudget)

	g = testGenesis()
	g.Vaults = nil
	require.ErrorIs(g.Verify(), ErrNoVaults)

	g = testGenesis()
	g.Vaults[1].Name = "stake"
	require.ErrorIs(g.Verify(), ErrDuplicateVault)

	g = testGenesis()
	g.Vaults[0].Name = ""
	require.ErrorIs(g.Verify(), ErrEmptyVaultName)

	g = testGenesis()
	g.Vaults[0].Allocations[1].Shares = 0
	require.ErrorIs(g.Verify(), ErrEmptyAllocation)

	g = testGenesis()
	g.Vaults[0].Allocations[1].Address = g.Vaults[0].Allocations[0].Address
	require.ErrorIs(g.Verify(), ErrDuplicateAddress)
}

func TestParseGarbage(t *testing.T) {
	require := require.New(t)

	_, err := Parse([]byte("not a genesis"))
	require.Error(err)
}
