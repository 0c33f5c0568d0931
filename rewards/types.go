// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rewards

import (
	"math/big"

	"github.com/luxfi/ids"
)

// RewardPrecision scales the per-share accumulator so that integer division
// keeps sub-unit remainders. 1e12 leaves ample headroom for pools whose share
// supply exceeds the emission rate by many orders of magnitude.
var RewardPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// Pool is the accrual state of one reward stream. The accumulator records,
// scaled by RewardPrecision, how much reward one share would have earned had
// it been staked since pool creation. It only moves forward.
type Pool struct {
	ID ids.ID `json:"id"`

	// RewardRate is the emission in raw reward units per second. Fixed at
	// creation.
	RewardRate *big.Int `json:"rewardRate"`

	AccRewardPerShare *big.Int `json:"accRewardPerShare"`
	LastAccrualTime   int64    `json:"lastAccrualTime"`

	// Lifetime accounting, for operators and the API.
	TotalEmitted   *big.Int `json:"totalEmitted"`
	TotalForfeited *big.Int `json:"totalForfeited"`
	TotalClaimed   *big.Int `json:"totalClaimed"`
}

// Position is one holder's standing in a pool. RewardDebt marks the slice of
// the accumulator already accounted for; Claimable holds settled rewards not
// yet paid out.
type Position struct {
	RewardDebt *big.Int `json:"rewardDebt"`
	Claimable  *big.Int `json:"claimable"`
}

// Minter pays out claimed rewards from a source outside the ledger. A Mint
// error must leave the minter unchanged; the ledger restores its own state
// and surfaces ErrIssuanceFailed.
type Minter interface {
	Mint(to ids.ShortID, amount *big.Int) error
}

func newPool(id ids.ID, rate *big.Int, now int64) *Pool {
	return &Pool{
		ID:                id,
		RewardRate:        new(big.Int).Set(rate),
		AccRewardPerShare: new(big.Int),
		LastAccrualTime:   now,
		TotalEmitted:      new(big.Int),
		TotalForfeited:    new(big.Int),
		TotalClaimed:      new(big.Int),
	}
}

func newPosition() *Position {
	return &Position{
		RewardDebt: new(big.Int),
		Claimable:  new(big.Int),
	}
}

func (p *Pool) copy() *Pool {
	return &Pool{
		ID:                p.ID,
		RewardRate:        new(big.Int).Set(p.RewardRate),
		AccRewardPerShare: new(big.Int).Set(p.AccRewardPerShare),
		LastAccrualTime:   p.LastAccrualTime,
		TotalEmitted:      new(big.Int).Set(p.TotalEmitted),
		TotalForfeited:    new(big.Int).Set(p.TotalForfeited),
		TotalClaimed:      new(big.Int).Set(p.TotalClaimed),
	}
}

func (p *Position) copy() *Position {
	return &Position{
		RewardDebt: new(big.Int).Set(p.RewardDebt),
		Claimable:  new(big.Int).Set(p.Claimable),
	}
}
