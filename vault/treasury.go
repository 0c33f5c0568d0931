// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
)

var (
	ErrTreasuryExhausted = errors.New("treasury budget exhausted")
	ErrInvalidBudget     = errors.New("treasury budget must be positive")
)

// Treasury issues claimed rewards out of a finite budget fixed at
// genesis. It is the engine's minter: a claim that would overdraw the
// budget fails and the claim is rolled back upstream.
type Treasury struct {
	mu       sync.Mutex
	budget   *big.Int
	issued   *big.Int
	balances map[ids.ShortID]*big.Int
}

// NewTreasury creates a treasury holding the given mintable budget.
func NewTreasury(budget *big.Int) (*Treasury, error) {
	if budget == nil || budget.Sign() <= 0 {
		return nil, ErrInvalidBudget
	}
	return &Treasury{
		budget:   new(big.Int).Set(budget),
		issued:   new(big.Int),
		balances: make(map[ids.ShortID]*big.Int),
	}, nil
}

// Mint transfers rewards from the budget to an address.
func (t *Treasury) Mint(to ids.ShortID, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.budget.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s remaining, %s requested",
			ErrTreasuryExhausted, t.budget, amount)
	}

	t.budget.Sub(t.budget, amount)
	t.issued.Add(t.issued, amount)

	bal, ok := t.balances[to]
	if !ok {
		bal = new(big.Int)
		t.balances[to] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// BalanceOf returns the rewards issued to an address so far.
func (t *Treasury) BalanceOf(addr ids.ShortID) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bal, ok := t.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Remaining returns the unissued budget.
func (t *Treasury) Remaining() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.budget)
}

// Issued returns the total rewards issued to date.
func (t *Treasury) Issued() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.issued)
}

// Record snapshots the treasury for persistence.
func (t *Treasury) Record() *TreasuryRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	balances := make(map[ids.ShortID]*big.Int, len(t.balances))
	for addr, bal := range t.balances {
		balances[addr] = new(big.Int).Set(bal)
	}
	return &TreasuryRecord{
		Budget:   new(big.Int).Set(t.budget),
		Issued:   new(big.Int).Set(t.issued),
		Balances: balances,
	}
}

// Restore replaces the treasury's state with a persisted record.
func (t *Treasury) Restore(rec *TreasuryRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.budget = new(big.Int).Set(rec.Budget)
	t.issued = new(big.Int).Set(rec.Issued)
	t.balances = make(map[ids.ShortID]*big.Int, len(rec.Balances))
	for addr, bal := range rec.Balances {
		t.balances[addr] = new(big.Int).Set(bal)
	}
}
