// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault implements named share vaults with time-weighted reward
// accrual. Every share mutation runs the same sequence against the
// rewards ledger: accrue the pool, settle the touched holders at their
// pre-mutation balances, apply the mutation, then sync reward debt at
// the post-mutation balances.
package vault

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/vaultvm/metrics"
	"github.com/luxfi/vaultvm/rewards"
	"github.com/luxfi/vaultvm/utils/timer/mockable"
)

var (
	ErrVaultNotFound      = errors.New("vault not found")
	ErrVaultExists        = errors.New("vault already exists")
	ErrInvalidName        = errors.New("vault name must not be empty")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// VaultID derives a vault's ID from its name.
func VaultID(name string) ids.ID {
	return ids.ID(sha256.Sum256([]byte(name)))
}

// Engine owns all vaults and routes every share mutation through the
// rewards ledger in the required order.
type Engine struct {
	mu       sync.RWMutex
	vaults   map[ids.ID]*Vault
	ledger   *rewards.Ledger
	treasury *Treasury
	store    Store
	clock    *mockable.Clock
	log      log.Logger
	metrics  metrics.Metrics
}

// NewEngine creates an engine minting claimed rewards from the treasury
// and writing records through to the store.
func NewEngine(
	clk *mockable.Clock,
	treasury *Treasury,
	store Store,
	logger log.Logger,
	mtr metrics.Metrics,
) *Engine {
	return &Engine{
		vaults:   make(map[ids.ID]*Vault),
		ledger:   rewards.NewLedger(clk, treasury, logger, mtr),
		treasury: treasury,
		store:    store,
		clock:    clk,
		log:      logger,
		metrics:  mtr,
	}
}

// CreateVault creates a vault emitting rate reward units per second.
func (e *Engine) CreateVault(name string, rate *big.Int) (*Vault, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := VaultID(name)
	if _, exists := e.vaults[id]; exists {
		return nil, ErrVaultExists
	}

	if err := e.ledger.CreatePool(id, rate); err != nil {
		return nil, err
	}

	v := &Vault{
		ID:          id,
		Name:        name,
		RewardRate:  new(big.Int).Set(rate),
		CreatedAt:   e.clock.Unix(),
		TotalShares: new(big.Int),
		Balances:    make(map[ids.ShortID]*big.Int),
	}
	e.vaults[id] = v

	if err := e.putVault(v); err != nil {
		return nil, err
	}
	e.metrics.SetNumVaults(len(e.vaults))

	e.log.Info("vault created",
		zap.Stringer("vault", id),
		zap.String("name", name),
		zap.Stringer("rewardRate", rate),
	)
	return v.copy(), nil
}

// Deposit adds shares to a holder's stake.
func (e *Engine) Deposit(vaultID ids.ID, holder ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return ErrVaultNotFound
	}

	if err := e.ledger.Accrue(vaultID, v.TotalShares); err != nil {
		return err
	}

	bal, ok := v.Balances[holder]
	if !ok {
		bal = new(big.Int)
		v.Balances[holder] = bal
	}
	if err := e.ledger.Settle(vaultID, holder, bal); err != nil {
		return err
	}

	bal.Add(bal, amount)
	v.TotalShares.Add(v.TotalShares, amount)

	if err := e.ledger.SyncDebt(vaultID, holder, bal); err != nil {
		return err
	}

	if err := e.putVault(v); err != nil {
		return err
	}
	if err := e.putHolder(v, holder); err != nil {
		return err
	}
	e.metrics.MarkDeposit()

	e.log.Debug("deposit",
		zap.Stringer("vault", vaultID),
		zap.Stringer("holder", holder),
		zap.Stringer("amount", amount),
	)
	return nil
}

// Withdraw removes shares from a holder's stake. Accrued rewards stay
// claimable after a full exit.
func (e *Engine) Withdraw(vaultID ids.ID, holder ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return ErrVaultNotFound
	}

	bal, ok := v.Balances[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}

	if err := e.ledger.Accrue(vaultID, v.TotalShares); err != nil {
		return err
	}
	if err := e.ledger.Settle(vaultID, holder, bal); err != nil {
		return err
	}

	bal.Sub(bal, amount)
	v.TotalShares.Sub(v.TotalShares, amount)

	if err := e.ledger.SyncDebt(vaultID, holder, bal); err != nil {
		return err
	}

	if err := e.putVault(v); err != nil {
		return err
	}
	if err := e.putHolder(v, holder); err != nil {
		return err
	}
	e.metrics.MarkWithdraw()

	e.log.Debug("withdraw",
		zap.Stringer("vault", vaultID),
		zap.Stringer("holder", holder),
		zap.Stringer("amount", amount),
	)
	return nil
}

// Transfer moves shares between holders. Both sides settle at their
// pre-transfer balances so earned rewards stay with the sender.
func (e *Engine) Transfer(vaultID ids.ID, from, to ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return ErrVaultNotFound
	}

	fromBal, ok := v.Balances[from]
	if !ok || fromBal.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}

	if err := e.ledger.Accrue(vaultID, v.TotalShares); err != nil {
		return err
	}

	toBal, ok := v.Balances[to]
	if !ok {
		toBal = new(big.Int)
		v.Balances[to] = toBal
	}

	if err := e.ledger.Settle(vaultID, from, fromBal); err != nil {
		return err
	}
	if err := e.ledger.Settle(vaultID, to, toBal); err != nil {
		return err
	}

	fromBal.Sub(fromBal, amount)
	toBal.Add(toBal, amount)

	if err := e.ledger.SyncDebt(vaultID, from, fromBal); err != nil {
		return err
	}
	if err := e.ledger.SyncDebt(vaultID, to, toBal); err != nil {
		return err
	}

	if err := e.putVault(v); err != nil {
		return err
	}
	if err := e.putHolder(v, from); err != nil {
		return err
	}
	if err := e.putHolder(v, to); err != nil {
		return err
	}
	e.metrics.MarkTransfer()

	e.log.Debug("transfer",
		zap.Stringer("vault", vaultID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("amount", amount),
	)
	return nil
}

// Claim settles and pays out a holder's accrued rewards through the
// treasury. A failed payout leaves the claimable balance intact.
func (e *Engine) Claim(vaultID ids.ID, holder ids.ShortID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return nil, ErrVaultNotFound
	}

	// A claim with nothing to pay must not move the pool, so probe with
	// the read-only projection first.
	pend, err := e.ledger.Pending(vaultID, holder, v.balanceOf(holder), v.TotalShares)
	if err != nil {
		return nil, err
	}
	if pend.Sign() == 0 {
		return nil, rewards.ErrNoRewards
	}

	if err := e.ledger.Accrue(vaultID, v.TotalShares); err != nil {
		return nil, err
	}
	if err := e.ledger.Settle(vaultID, holder, v.balanceOf(holder)); err != nil {
		return nil, err
	}

	payout, claimErr := e.ledger.Claim(vaultID, holder)

	// The accrue and settle effects stand whether or not the payout
	// went through.
	if err := e.putVault(v); err != nil {
		return nil, err
	}
	if err := e.putHolder(v, holder); err != nil {
		return nil, err
	}
	if claimErr != nil {
		return nil, claimErr
	}

	if err := e.store.PutTreasury(e.treasury.Record()); err != nil {
		return nil, err
	}
	e.metrics.MarkClaim(payout)

	e.log.Debug("claim",
		zap.Stringer("vault", vaultID),
		zap.Stringer("holder", holder),
		zap.Stringer("amount", payout),
	)
	return payout, nil
}

// EmergencyWithdraw returns all of a holder's shares and forfeits every
// accrued reward. It is the exit of last resort.
func (e *Engine) EmergencyWithdraw(vaultID ids.ID, holder ids.ShortID) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return nil, nil, ErrVaultNotFound
	}

	bal, ok := v.Balances[holder]
	if !ok || bal.Sign() == 0 {
		return nil, nil, ErrInsufficientShares
	}

	if err := e.ledger.Accrue(vaultID, v.TotalShares); err != nil {
		return nil, nil, err
	}
	if err := e.ledger.Settle(vaultID, holder, bal); err != nil {
		return nil, nil, err
	}

	forfeited, err := e.ledger.Forfeit(vaultID, holder)
	if err != nil {
		return nil, nil, err
	}

	shares := new(big.Int).Set(bal)
	v.TotalShares.Sub(v.TotalShares, shares)
	delete(v.Balances, holder)

	if err := e.putVault(v); err != nil {
		return nil, nil, err
	}
	if err := e.store.DeleteHolder(vaultID, holder); err != nil {
		return nil, nil, err
	}
	e.metrics.MarkEmergencyWithdraw()

	e.log.Info("emergency withdraw",
		zap.Stringer("vault", vaultID),
		zap.Stringer("holder", holder),
		zap.Stringer("shares", shares),
		zap.Stringer("forfeited", forfeited),
	)
	return shares, forfeited, nil
}

// Pending returns a holder's total unclaimed rewards as of now without
// modifying any state.
func (e *Engine) Pending(vaultID ids.ID, holder ids.ShortID) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return e.ledger.Pending(vaultID, holder, v.balanceOf(holder), v.TotalShares)
}

// AccrueAll advances every vault's reward pool to the current time.
// Called during block processing so emission stays current even across
// quiet vaults.
func (e *Engine) AccrueAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, v := range e.vaults {
		if err := e.ledger.Accrue(id, v.TotalShares); err != nil {
			return err
		}
		if err := e.putVault(v); err != nil {
			return err
		}
	}
	return nil
}

// GetVault returns a copy of a vault.
func (e *Engine) GetVault(vaultID ids.ID) (*Vault, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return v.copy(), nil
}

// Vaults returns copies of all vaults ordered by name.
func (e *Engine) Vaults() []*Vault {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Vault, 0, len(e.vaults))
	for _, v := range e.vaults {
		out = append(out, v.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// NumVaults returns the number of vaults.
func (e *Engine) NumVaults() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vaults)
}

// BalanceOf returns a holder's share balance in a vault.
func (e *Engine) BalanceOf(vaultID ids.ID, holder ids.ShortID) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return new(big.Int).Set(v.balanceOf(holder)), nil
}

// PoolOf returns a copy of a vault's reward pool accounting.
func (e *Engine) PoolOf(vaultID ids.ID) (*rewards.Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.PoolInfo(vaultID)
}

// PositionOf returns a copy of a holder's reward position in a vault.
func (e *Engine) PositionOf(vaultID ids.ID, holder ids.ShortID) (*rewards.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.PositionInfo(vaultID, holder)
}

// Treasury returns the reward treasury.
func (e *Engine) Treasury() *Treasury {
	return e.treasury
}

// DebtRegressions returns how many times the ledger had to clamp a
// reward debt that exceeded a holder's entitlement.
func (e *Engine) DebtRegressions() uint64 {
	return e.ledger.DebtRegressions()
}

// RestoreVault rebuilds a vault and its reward pool from a persisted
// record. Holder stakes are restored separately.
func (e *Engine) RestoreVault(rec *VaultRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.vaults[rec.ID]; exists {
		return ErrVaultExists
	}

	e.vaults[rec.ID] = &Vault{
		ID:          rec.ID,
		Name:        rec.Name,
		RewardRate:  new(big.Int).Set(rec.RewardRate),
		CreatedAt:   rec.CreatedAt,
		TotalShares: new(big.Int).Set(rec.TotalShares),
		Balances:    make(map[ids.ShortID]*big.Int),
	}
	e.ledger.RestorePool(&rewards.Pool{
		ID:                rec.ID,
		RewardRate:        rec.RewardRate,
		AccRewardPerShare: rec.AccRewardPerShare,
		LastAccrualTime:   rec.LastAccrualTime,
		TotalEmitted:      rec.TotalEmitted,
		TotalForfeited:    rec.TotalForfeited,
		TotalClaimed:      rec.TotalClaimed,
	})
	e.metrics.SetNumVaults(len(e.vaults))
	return nil
}

// RestoreHolder rebuilds one holder's stake from a persisted record.
func (e *Engine) RestoreHolder(vaultID ids.ID, rec *HolderRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[vaultID]
	if !ok {
		return ErrVaultNotFound
	}

	v.Balances[rec.Address] = new(big.Int).Set(rec.Balance)
	return e.ledger.RestorePosition(vaultID, rec.Address, &rewards.Position{
		RewardDebt: rec.RewardDebt,
		Claimable:  rec.Claimable,
	})
}

// RestoreTreasury rebuilds the treasury from a persisted record.
func (e *Engine) RestoreTreasury(rec *TreasuryRecord) {
	e.treasury.Restore(rec)
}

func (e *Engine) putVault(v *Vault) error {
	pool, err := e.ledger.PoolInfo(v.ID)
	if err != nil {
		return err
	}
	return e.store.PutVault(&VaultRecord{
		ID:                v.ID,
		Name:              v.Name,
		RewardRate:        new(big.Int).Set(v.RewardRate),
		CreatedAt:         v.CreatedAt,
		TotalShares:       new(big.Int).Set(v.TotalShares),
		AccRewardPerShare: pool.AccRewardPerShare,
		LastAccrualTime:   pool.LastAccrualTime,
		TotalEmitted:      pool.TotalEmitted,
		TotalForfeited:    pool.TotalForfeited,
		TotalClaimed:      pool.TotalClaimed,
	})
}

func (e *Engine) putHolder(v *Vault, addr ids.ShortID) error {
	pos, err := e.ledger.PositionInfo(v.ID, addr)
	if err != nil {
		return err
	}
	return e.store.PutHolder(v.ID, &HolderRecord{
		Address:    addr,
		Balance:    new(big.Int).Set(v.balanceOf(addr)),
		RewardDebt: pos.RewardDebt,
		Claimable:  pos.Claimable,
	})
}
