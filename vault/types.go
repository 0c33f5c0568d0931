// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"

	"github.com/luxfi/ids"
)

// Vault is a named share pool with a fixed emission rate.
type Vault struct {
	ID          ids.ID                   `json:"id"`
	Name        string                   `json:"name"`
	RewardRate  *big.Int                 `json:"rewardRate"` // reward units emitted per second
	CreatedAt   int64                    `json:"createdAt"`
	TotalShares *big.Int                 `json:"totalShares"`
	Balances    map[ids.ShortID]*big.Int `json:"balances"`
}

// NumHolders returns the number of addresses holding shares.
func (v *Vault) NumHolders() int {
	return len(v.Balances)
}

func (v *Vault) balanceOf(addr ids.ShortID) *big.Int {
	if bal, ok := v.Balances[addr]; ok {
		return bal
	}
	return new(big.Int)
}

func (v *Vault) copy() *Vault {
	balances := make(map[ids.ShortID]*big.Int, len(v.Balances))
	for addr, bal := range v.Balances {
		balances[addr] = new(big.Int).Set(bal)
	}
	return &Vault{
		ID:          v.ID,
		Name:        v.Name,
		RewardRate:  new(big.Int).Set(v.RewardRate),
		CreatedAt:   v.CreatedAt,
		TotalShares: new(big.Int).Set(v.TotalShares),
		Balances:    balances,
	}
}

// VaultRecord is the flattened persistent form of a vault and its
// reward pool accounting.
type VaultRecord struct {
	ID                ids.ID   `json:"id"`
	Name              string   `json:"name"`
	RewardRate        *big.Int `json:"rewardRate"`
	CreatedAt         int64    `json:"createdAt"`
	TotalShares       *big.Int `json:"totalShares"`
	AccRewardPerShare *big.Int `json:"accRewardPerShare"`
	LastAccrualTime   int64    `json:"lastAccrualTime"`
	TotalEmitted      *big.Int `json:"totalEmitted"`
	TotalForfeited    *big.Int `json:"totalForfeited"`
	TotalClaimed      *big.Int `json:"totalClaimed"`
}

// HolderRecord is the persistent form of one holder's stake in a vault.
type HolderRecord struct {
	Address    ids.ShortID `json:"address"`
	Balance    *big.Int    `json:"balance"`
	RewardDebt *big.Int    `json:"rewardDebt"`
	Claimable  *big.Int    `json:"claimable"`
}

// TreasuryRecord is the persistent form of the reward treasury.
type TreasuryRecord struct {
	Budget   *big.Int                 `json:"budget"` // remaining mintable rewards
	Issued   *big.Int                 `json:"issued"`
	Balances map[ids.ShortID]*big.Int `json:"balances"`
}

// Store persists vault, holder, and treasury records. The engine writes
// through after every applied operation; the store decides when to flush.
type Store interface {
	PutVault(rec *VaultRecord) error
	PutHolder(vaultID ids.ID, rec *HolderRecord) error
	DeleteHolder(vaultID ids.ID, addr ids.ShortID) error
	PutTreasury(rec *TreasuryRecord) error
}
