// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rewards implements the time-weighted reward accrual ledger behind
// vault staking. Emission is linear in time and split pro-rata by share
// balance using a lazily advanced per-share accumulator: nothing is stored
// per holder per second, only the accumulator and one debt marker per
// position.
//
// Callers own the ordering contract. Around every share balance mutation:
//
//	Accrue(pool, preSupply)
//	Settle(pool, holder, preBalance)   for every affected holder
//	... mutate balances ...
//	SyncDebt(pool, holder, postBalance) for every affected holder
//
// Claims and reads follow the same accrue-first discipline but mutate no
// balances.
package rewards

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vaultvm/metrics"
	"github.com/luxfi/vaultvm/utils/timer/mockable"
)

var (
	ErrPoolNotFound   = errors.New("reward pool not found")
	ErrPoolExists     = errors.New("reward pool already exists")
	ErrInvalidRate    = errors.New("invalid reward rate")
	ErrNoRewards      = errors.New("no rewards available")
	ErrIssuanceFailed = errors.New("reward issuance failed")
)

// Ledger tracks reward pools and holder positions. A single mutex serializes
// all mutations, so each pool sees one writer at a time and the contract
// sequence above is atomic when the caller holds its own lock across it.
type Ledger struct {
	mu        sync.RWMutex
	pools     map[ids.ID]*Pool
	positions map[ids.ID]map[ids.ShortID]*Position

	clock   *mockable.Clock
	minter  Minter
	log     log.Logger
	metrics metrics.Metrics

	debtRegressions uint64
}

// NewLedger returns an empty ledger. The clock is shared with the caller and
// read on every accrual; pinning it to block timestamps makes accrual
// deterministic across replays.
func NewLedger(clock *mockable.Clock, minter Minter, logger log.Logger, mtr metrics.Metrics) *Ledger {
	return &Ledger{
		pools:     make(map[ids.ID]*Pool),
		positions: make(map[ids.ID]map[ids.ShortID]*Position),
		clock:     clock,
		minter:    minter,
		log:       logger,
		metrics:   mtr,
	}
}

// CreatePool registers a pool emitting rate raw reward units per second. The
// rate is copied and immutable afterwards.
func (l *Ledger) CreatePool(id ids.ID, rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidRate
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pools[id]; ok {
		return ErrPoolExists
	}

	l.pools[id] = newPool(id, rate, l.clock.Unix())
	l.positions[id] = make(map[ids.ShortID]*Position)
	return nil
}

// Accrue folds the emission since LastAccrualTime into the accumulator.
// Idempotent within one second. With no shares staked the elapsed emission
// is forfeited: the window is closed without moving the accumulator, so a
// later depositor earns nothing retroactively.
func (l *Ledger) Accrue(id ids.ID, totalShares *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[id]
	if !ok {
		return ErrPoolNotFound
	}
	l.accrue(pool, totalShares)
	return nil
}

func (l *Ledger) accrue(pool *Pool, totalShares *big.Int) {
	elapsed := l.clock.Unix() - pool.LastAccrualTime
	if elapsed <= 0 {
		return
	}

	emitted := new(big.Int).Mul(pool.RewardRate, big.NewInt(elapsed))
	if totalShares == nil || totalShares.Sign() == 0 {
		pool.TotalForfeited.Add(pool.TotalForfeited, emitted)
		pool.LastAccrualTime += elapsed
		l.metrics.MarkRewardsForfeited(emitted)
		l.log.Debug("emission forfeited with no shares staked",
			zap.Stringer("pool", pool.ID),
			zap.Stringer("amount", emitted),
		)
		return
	}

	perShare := new(big.Int).Mul(emitted, RewardPrecision)
	perShare.Div(perShare, totalShares)
	pool.AccRewardPerShare.Add(pool.AccRewardPerShare, perShare)
	pool.TotalEmitted.Add(pool.TotalEmitted, emitted)
	pool.LastAccrualTime += elapsed
}

// Settle moves the holder's unsettled entitlement into Claimable and marks
// the debt at the current accumulator. balance must be the holder's share
// balance before any mutation the caller is about to apply.
func (l *Ledger) Settle(id ids.ID, holder ids.ShortID, balance *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[id]
	if !ok {
		return ErrPoolNotFound
	}

	pos := l.getOrCreatePosition(id, holder)
	entitlement := entitled(balance, pool.AccRewardPerShare)

	if entitlement.Cmp(pos.RewardDebt) < 0 {
		// The recorded debt exceeds what the balance can have earned. Some
		// caller mutated a balance without settling first. Credit nothing,
		// realign the debt, and make the violation visible.
		l.debtRegressions++
		l.metrics.MarkDebtRegression()
		l.log.Error("reward debt above holder entitlement; settle ordering violated",
			zap.Stringer("pool", id),
			zap.Stringer("holder", holder),
			zap.Stringer("rewardDebt", pos.RewardDebt),
			zap.Stringer("entitlement", entitlement),
			zap.Stringer("balance", balance),
		)
		pos.RewardDebt.Set(entitlement)
		return nil
	}

	delta := new(big.Int).Sub(entitlement, pos.RewardDebt)
	pos.Claimable.Add(pos.Claimable, delta)
	pos.RewardDebt.Set(entitlement)
	return nil
}

// SyncDebt marks the holder's debt at the current accumulator for the given
// post-mutation balance. It never credits or removes rewards; Settle must
// already have run on the pre-mutation balance.
func (l *Ledger) SyncDebt(id ids.ID, holder ids.ShortID, balance *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[id]
	if !ok {
		return ErrPoolNotFound
	}

	pos := l.getOrCreatePosition(id, holder)
	pos.RewardDebt.Set(entitled(balance, pool.AccRewardPerShare))
	return nil
}

// Claim pays the holder's settled rewards through the minter and zeroes
// Claimable, in that order of record: the claimable is cleared before the
// minter runs and restored in full if it fails, so a failed claim changes
// nothing.
func (l *Ledger) Claim(id ids.ID, holder ids.ShortID) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}

	pos := l.getOrCreatePosition(id, holder)
	if pos.Claimable.Sign() == 0 {
		return nil, ErrNoRewards
	}

	amount := new(big.Int).Set(pos.Claimable)
	pos.Claimable.SetUint64(0)

	if l.minter == nil {
		pos.Claimable.Set(amount)
		return nil, fmt.Errorf("%w: no minter configured", ErrIssuanceFailed)
	}
	if err := l.minter.Mint(holder, new(big.Int).Set(amount)); err != nil {
		pos.Claimable.Set(amount)
		return nil, fmt.Errorf("%w: %w", ErrIssuanceFailed, err)
	}

	pool.TotalClaimed.Add(pool.TotalClaimed, amount)
	return amount, nil
}

// Pending projects the full amount the holder could claim right now: settled
// Claimable plus the entitlement delta the next Accrue+Settle would credit.
// Pure read; no pool or position state moves, including LastAccrualTime.
func (l *Ledger) Pending(id ids.ID, holder ids.ShortID, balance, totalShares *big.Int) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pool, ok := l.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}

	projected := new(big.Int).Set(pool.AccRewardPerShare)
	if totalShares != nil && totalShares.Sign() > 0 {
		if elapsed := l.clock.Unix() - pool.LastAccrualTime; elapsed > 0 {
			emitted := new(big.Int).Mul(pool.RewardRate, big.NewInt(elapsed))
			emitted.Mul(emitted, RewardPrecision)
			emitted.Div(emitted, totalShares)
			projected.Add(projected, emitted)
		}
	}

	pending := new(big.Int).Mul(balance, projected)
	pending.Div(pending, RewardPrecision)

	if pos, ok := l.positions[id][holder]; ok {
		pending.Sub(pending, pos.RewardDebt)
		if pending.Sign() < 0 {
			pending.SetUint64(0)
		}
		pending.Add(pending, pos.Claimable)
	}
	return pending, nil
}

// Forfeit abandons the holder's position: settled and unsettled rewards are
// both given up. Part of the emergency exit path, which skips settlement on
// purpose.
func (l *Ledger) Forfeit(id ids.ID, holder ids.ShortID) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}

	forfeited := new(big.Int)
	if pos, ok := l.positions[id][holder]; ok {
		forfeited.Set(pos.Claimable)
		delete(l.positions[id], holder)
	}
	if forfeited.Sign() > 0 {
		pool.TotalForfeited.Add(pool.TotalForfeited, forfeited)
		l.metrics.MarkRewardsForfeited(forfeited)
	}
	return forfeited, nil
}

// PoolInfo returns a copy of the pool's accrual state.
func (l *Ledger) PoolInfo(id ids.ID) (*Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pool, ok := l.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool.copy(), nil
}

// PositionInfo returns a copy of the holder's position. A holder that never
// settled reports a zero position.
func (l *Ledger) PositionInfo(id ids.ID, holder ids.ShortID) (*Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.pools[id]; !ok {
		return nil, ErrPoolNotFound
	}
	if pos, ok := l.positions[id][holder]; ok {
		return pos.copy(), nil
	}
	return newPosition(), nil
}

// RestorePool installs a persisted pool, replacing any in-memory state.
func (l *Ledger) RestorePool(pool *Pool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pools[pool.ID] = pool.copy()
	if _, ok := l.positions[pool.ID]; !ok {
		l.positions[pool.ID] = make(map[ids.ShortID]*Position)
	}
}

// RestorePosition installs a persisted position for an existing pool.
func (l *Ledger) RestorePosition(id ids.ID, holder ids.ShortID, pos *Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pools[id]; !ok {
		return ErrPoolNotFound
	}
	l.positions[id][holder] = pos.copy()
	return nil
}

// DebtRegressions reports how many settlements hit the defensive branch.
// Nonzero means a caller broke the ordering contract.
func (l *Ledger) DebtRegressions() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.debtRegressions
}

func (l *Ledger) getOrCreatePosition(id ids.ID, holder ids.ShortID) *Position {
	pos, ok := l.positions[id][holder]
	if !ok {
		pos = newPosition()
		l.positions[id][holder] = pos
	}
	return pos
}

// entitled computes balance x accumulator / precision, truncating toward
// zero.
func entitled(balance, accRewardPerShare *big.Int) *big.Int {
	entitlement := new(big.Int).Mul(balance, accRewardPerShare)
	return entitlement.Div(entitlement, RewardPrecision)
}
