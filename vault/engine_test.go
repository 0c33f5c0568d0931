// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/vaultvm/metrics"
	"github.com/luxfi/vaultvm/rewards"
	"github.com/luxfi/vaultvm/utils/timer/mockable"
)

// memStore keeps records in maps so tests can inspect what the engine
// wrote through.
type memStore struct {
	vaults   map[ids.ID]*VaultRecord
	holders  map[ids.ID]map[ids.ShortID]*HolderRecord
	treasury *TreasuryRecord
}

func newMemStore() *memStore {
	return &memStore{
		vaults:  make(map[ids.ID]*VaultRecord),
		holders: make(map[ids.ID]map[ids.ShortID]*HolderRecord),
	}
}

func (s *memStore) PutVault(rec *VaultRecord) error {
	s.vaults[rec.ID] = rec
	return nil
}

func (s *memStore) PutHolder(vaultID ids.ID, rec *HolderRecord) error {
	m, ok := s.holders[vaultID]
	if !ok {
		m = make(map[ids.ShortID]*HolderRecord)
		s.holders[vaultID] = m
	}
	m[rec.Address] = rec
	return nil
}

func (s *memStore) DeleteHolder(vaultID ids.ID, addr ids.ShortID) error {
	delete(s.holders[vaultID], addr)
	return nil
}

func (s *memStore) PutTreasury(rec *TreasuryRecord) error {
	s.treasury = rec
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *mockable.Clock, *memStore) {
	t.Helper()

	mtr, err := metrics.New(metric.NewRegistry())
	require.NoError(t, err)

	budget := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	treasury, err := NewTreasury(budget)
	require.NoError(t, err)

	clk := &mockable.Clock{}
	clk.Set(time.Unix(1_000, 0))

	store := newMemStore()
	return NewEngine(clk, treasury, store, log.NewNoOpLogger(), mtr), clk, store
}

func TestCreateVault(t *testing.T) {
	require := require.New(t)
	engine, _, store := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(100))
	require.NoError(err)
	require.Equal(VaultID("stake"), v.ID)
	require.Equal("stake", v.Name)
	require.Equal(int64(1_000), v.CreatedAt)
	require.Equal(0, v.TotalShares.Sign())

	_, err = engine.CreateVault("stake", big.NewInt(100))
	require.ErrorIs(err, ErrVaultExists)

	_, err = engine.CreateVault("", big.NewInt(100))
	require.ErrorIs(err, ErrInvalidName)

	_, err = engine.CreateVault("bad-rate", big.NewInt(-1))
	require.ErrorIs(err, rewards.ErrInvalidRate)

	require.Contains(store.vaults, v.ID)
	require.Equal(1, engine.NumVaults())
}

// A sole holder staked for the whole emission window claims exactly
// rate times elapsed.
func TestSingleHolderLifecycle(t *testing.T) {
	require := require.New(t)
	engine, clk, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	clk.Advance(1_000 * time.Second)

	pending, err := engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Cmp(big.NewInt(1_000)))

	paid, err := engine.Claim(v.ID, holder)
	require.NoError(err)
	require.Equal(0, paid.Cmp(big.NewInt(1_000)))
	require.Equal(0, engine.Treasury().BalanceOf(holder).Cmp(big.NewInt(1_000)))

	pending, err = engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Sign())

	pos, err := engine.PositionOf(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pos.Claimable.Sign())
}

// Transferring half the shares mid-window splits the second window's
// emission while the first window stays with the sender.
func TestTransferSplitsAccrual(t *testing.T) {
	require := require.New(t)
	engine, clk, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holderA := ids.GenerateTestShortID()
	holderB := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holderA, big.NewInt(1_000)))

	clk.Advance(5 * time.Second)
	require.NoError(engine.Transfer(v.ID, holderA, holderB, big.NewInt(500)))

	clk.Advance(5 * time.Second)

	// A: 5s of the full pool plus 5s of half the pool.
	pendingA, err := engine.Pending(v.ID, holderA)
	require.NoError(err)
	require.Equal(0, pendingA.Cmp(big.NewInt(7_500_000)))

	// B: 5s of half the pool.
	pendingB, err := engine.Pending(v.ID, holderB)
	require.NoError(err)
	require.Equal(0, pendingB.Cmp(big.NewInt(2_500_000)))

	// Together exactly the window's emission.
	sum := new(big.Int).Add(pendingA, pendingB)
	require.Equal(0, sum.Cmp(big.NewInt(10_000_000)))

	paidA, err := engine.Claim(v.ID, holderA)
	require.NoError(err)
	require.Equal(0, paidA.Cmp(big.NewInt(7_500_000)))

	paidB, err := engine.Claim(v.ID, holderB)
	require.NoError(err)
	require.Equal(0, paidB.Cmp(big.NewInt(2_500_000)))

	require.Equal(0, engine.Treasury().Issued().Cmp(big.NewInt(10_000_000)))
}

// Emission before the first deposit is forfeited, not queued for the
// first depositor.
func TestFirstDepositAfterIdleWindow(t *testing.T) {
	require := require.New(t)
	engine, clk, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	clk.Advance(100 * time.Second)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	pending, err := engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Sign())

	pool, err := engine.PoolOf(v.ID)
	require.NoError(err)
	require.Equal(0, pool.AccRewardPerShare.Sign())
	require.Equal(0, pool.TotalForfeited.Cmp(big.NewInt(100_000_000)))
}

// A full withdrawal keeps settled rewards claimable, accrues nothing
// while the balance is zero, and resumes cleanly after a re-deposit.
func TestWithdrawAllThenRedeposit(t *testing.T) {
	require := require.New(t)
	engine, clk, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	clk.Advance(5 * time.Second)
	require.NoError(engine.Withdraw(v.ID, holder, big.NewInt(1_000)))

	pending, err := engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Cmp(big.NewInt(5_000_000)))

	// Nothing accrues to a zero balance.
	clk.Advance(2 * time.Second)
	pending, err = engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Cmp(big.NewInt(5_000_000)))

	clk.Advance(3 * time.Second)
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	pending, err = engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Cmp(big.NewInt(5_000_000)))

	// Only emission after the re-deposit accrues to the new stake.
	clk.Advance(5 * time.Second)
	pending, err = engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Cmp(big.NewInt(10_000_000)))

	// The idle window was forfeited.
	pool, err := engine.PoolOf(v.ID)
	require.NoError(err)
	require.Equal(0, pool.TotalForfeited.Cmp(big.NewInt(5_000_000)))
}

// A claim with nothing to pay fails and leaves every record exactly as
// it was.
func TestClaimNothingLeavesStateUntouched(t *testing.T) {
	require := require.New(t)
	engine, clk, store := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	clk.Advance(5 * time.Second)
	_, err = engine.Claim(v.ID, holder)
	require.NoError(err)

	// Snapshot after the successful claim.
	poolBefore, err := engine.PoolOf(v.ID)
	require.NoError(err)
	posBefore, err := engine.PositionOf(v.ID, holder)
	require.NoError(err)
	vaultRecBefore := store.vaults[v.ID]
	holderRecBefore := store.holders[v.ID][holder]

	_, err = engine.Claim(v.ID, holder)
	require.ErrorIs(err, rewards.ErrNoRewards)

	poolAfter, err := engine.PoolOf(v.ID)
	require.NoError(err)
	posAfter, err := engine.PositionOf(v.ID, holder)
	require.NoError(err)

	require.Equal(poolBefore.LastAccrualTime, poolAfter.LastAccrualTime)
	require.Equal(0, poolBefore.AccRewardPerShare.Cmp(poolAfter.AccRewardPerShare))
	require.Equal(0, posBefore.Claimable.Cmp(posAfter.Claimable))
	require.Equal(0, posBefore.RewardDebt.Cmp(posAfter.RewardDebt))
	require.Equal(vaultRecBefore, store.vaults[v.ID])
	require.Equal(holderRecBefore, store.holders[v.ID][holder])

	// A stranger with no stake gets the same rejection without moving
	// the pool.
	clk.Advance(5 * time.Second)
	_, err = engine.Claim(v.ID, ids.GenerateTestShortID())
	require.ErrorIs(err, rewards.ErrNoRewards)

	poolAfter, err = engine.PoolOf(v.ID)
	require.NoError(err)
	require.Equal(poolBefore.LastAccrualTime, poolAfter.LastAccrualTime)
}

func TestSelfTransfer(t *testing.T) {
	require := require.New(t)
	engine, clk, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	clk.Advance(5 * time.Second)

	pendingBefore, err := engine.Pending(v.ID, holder)
	require.NoError(err)

	require.NoError(engine.Transfer(v.ID, holder, holder, big.NewInt(400)))

	pendingAfter, err := engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pendingBefore.Cmp(pendingAfter))

	bal, err := engine.BalanceOf(v.ID, holder)
	require.NoError(err)
	require.Equal(0, bal.Cmp(big.NewInt(1_000)))
}

func TestOperationValidation(t *testing.T) {
	require := require.New(t)
	engine, _, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	missing := ids.GenerateTestID()

	require.ErrorIs(engine.Deposit(v.ID, holder, nil), ErrInvalidAmount)
	require.ErrorIs(engine.Deposit(v.ID, holder, new(big.Int)), ErrInvalidAmount)
	require.ErrorIs(engine.Deposit(v.ID, holder, big.NewInt(-5)), ErrInvalidAmount)
	require.ErrorIs(engine.Deposit(missing, holder, big.NewInt(1)), ErrVaultNotFound)

	require.ErrorIs(engine.Withdraw(v.ID, holder, big.NewInt(1)), ErrInsufficientShares)
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(10)))
	require.ErrorIs(engine.Withdraw(v.ID, holder, big.NewInt(11)), ErrInsufficientShares)

	require.ErrorIs(engine.Transfer(v.ID, holder, ids.GenerateTestShortID(), big.NewInt(11)), ErrInsufficientShares)
	require.ErrorIs(engine.Transfer(missing, holder, holder, big.NewInt(1)), ErrVaultNotFound)

	_, err = engine.Pending(missing, holder)
	require.ErrorIs(err, ErrVaultNotFound)
	_, err = engine.Claim(missing, holder)
	require.ErrorIs(err, ErrVaultNotFound)
	_, _, err = engine.EmergencyWithdraw(missing, holder)
	require.ErrorIs(err, ErrVaultNotFound)
	_, err = engine.GetVault(missing)
	require.ErrorIs(err, ErrVaultNotFound)
}

func TestEmergencyWithdraw(t *testing.T) {
	require := require.New(t)
	engine, clk, store := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	clk.Advance(10 * time.Second)

	shares, forfeited, err := engine.EmergencyWithdraw(v.ID, holder)
	require.NoError(err)
	require.Equal(0, shares.Cmp(big.NewInt(1_000)))
	require.Equal(0, forfeited.Cmp(big.NewInt(10_000_000)))

	bal, err := engine.BalanceOf(v.ID, holder)
	require.NoError(err)
	require.Equal(0, bal.Sign())

	pending, err := engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Sign())

	pool, err := engine.PoolOf(v.ID)
	require.NoError(err)
	require.Equal(0, pool.TotalForfeited.Cmp(big.NewInt(10_000_000)))

	got, err := engine.GetVault(v.ID)
	require.NoError(err)
	require.Equal(0, got.TotalShares.Sign())
	require.NotContains(store.holders[v.ID], holder)

	_, _, err = engine.EmergencyWithdraw(v.ID, holder)
	require.ErrorIs(err, ErrInsufficientShares)
}

func TestClaimTreasuryExhausted(t *testing.T) {
	require := require.New(t)

	mtr, err := metrics.New(metric.NewRegistry())
	require.NoError(err)
	treasury, err := NewTreasury(big.NewInt(100))
	require.NoError(err)

	clk := &mockable.Clock{}
	clk.Set(time.Unix(1_000, 0))
	engine := NewEngine(clk, treasury, newMemStore(), log.NewNoOpLogger(), mtr)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holder, big.NewInt(1_000)))

	clk.Advance(5 * time.Second)

	_, err = engine.Claim(v.ID, holder)
	require.ErrorIs(err, rewards.ErrIssuanceFailed)
	require.ErrorIs(err, ErrTreasuryExhausted)

	// The owed rewards survive the failed payout.
	pending, err := engine.Pending(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pending.Cmp(big.NewInt(5_000_000)))

	pos, err := engine.PositionOf(v.ID, holder)
	require.NoError(err)
	require.Equal(0, pos.Claimable.Cmp(big.NewInt(5_000_000)))

	require.Equal(0, treasury.Remaining().Cmp(big.NewInt(100)))
	require.Equal(0, treasury.Issued().Sign())
}

func TestRewardConservation(t *testing.T) {
	require := require.New(t)
	engine, clk, _ := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holderA := ids.GenerateTestShortID()
	holderB := ids.GenerateTestShortID()

	require.NoError(engine.Deposit(v.ID, holderA, big.NewInt(1_000)))
	clk.Advance(10 * time.Second)

	require.NoError(engine.Deposit(v.ID, holderB, big.NewInt(3_000)))
	clk.Advance(10 * time.Second)

	require.NoError(engine.Transfer(v.ID, holderA, holderB, big.NewInt(500)))
	clk.Advance(10 * time.Second)

	require.NoError(engine.Withdraw(v.ID, holderB, big.NewInt(2_000)))
	clk.Advance(10 * time.Second)

	_, err = engine.Claim(v.ID, holderA)
	require.NoError(err)

	pendingA, err := engine.Pending(v.ID, holderA)
	require.NoError(err)
	pendingB, err := engine.Pending(v.ID, holderB)
	require.NoError(err)

	pool, err := engine.PoolOf(v.ID)
	require.NoError(err)

	// Everything emitted is either claimed or still pending; nothing is
	// fabricated or lost.
	outstanding := new(big.Int).Add(pendingA, pendingB)
	outstanding.Add(outstanding, engine.Treasury().Issued())
	require.Equal(0, outstanding.Cmp(pool.TotalEmitted))
	require.Equal(0, pool.TotalEmitted.Cmp(big.NewInt(40_000_000)))
	require.Zero(engine.DebtRegressions())
}

func TestRestoreRoundtrip(t *testing.T) {
	require := require.New(t)
	engine, clk, store := newTestEngine(t)

	v, err := engine.CreateVault("stake", big.NewInt(1_000_000))
	require.NoError(err)

	holderA := ids.GenerateTestShortID()
	holderB := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v.ID, holderA, big.NewInt(1_000)))
	clk.Advance(5 * time.Second)
	require.NoError(engine.Transfer(v.ID, holderA, holderB, big.NewInt(500)))
	clk.Advance(5 * time.Second)
	_, err = engine.Claim(v.ID, holderA)
	require.NoError(err)

	mtr, err := metrics.New(metric.NewRegistry())
	require.NoError(err)
	treasury, err := NewTreasury(big.NewInt(1))
	require.NoError(err)

	rclk := &mockable.Clock{}
	rclk.Set(clk.Time())
	restored := NewEngine(rclk, treasury, newMemStore(), log.NewNoOpLogger(), mtr)

	require.NoError(restored.RestoreVault(store.vaults[v.ID]))
	for _, rec := range store.holders[v.ID] {
		require.NoError(restored.RestoreHolder(v.ID, rec))
	}
	restored.RestoreTreasury(store.treasury)

	for _, holder := range []ids.ShortID{holderA, holderB} {
		wantPending, err := engine.Pending(v.ID, holder)
		require.NoError(err)
		gotPending, err := restored.Pending(v.ID, holder)
		require.NoError(err)
		require.Equal(0, wantPending.Cmp(gotPending))

		wantBal, err := engine.BalanceOf(v.ID, holder)
		require.NoError(err)
		gotBal, err := restored.BalanceOf(v.ID, holder)
		require.NoError(err)
		require.Equal(0, wantBal.Cmp(gotBal))
	}

	require.Equal(0, restored.Treasury().Issued().Cmp(engine.Treasury().Issued()))
	require.Equal(0, restored.Treasury().Remaining().Cmp(engine.Treasury().Remaining()))

	require.ErrorIs(restored.RestoreVault(store.vaults[v.ID]), ErrVaultExists)
	require.ErrorIs(restored.RestoreHolder(ids.GenerateTestID(), &HolderRecord{
		Address: holderA,
		Balance: big.NewInt(1),
	}), ErrVaultNotFound)
}

func TestAccrueAll(t *testing.T) {
	require := require.New(t)
	engine, clk, store := newTestEngine(t)

	v1, err := engine.CreateVault("alpha", big.NewInt(1_000_000))
	require.NoError(err)
	v2, err := engine.CreateVault("beta", big.NewInt(2_000_000))
	require.NoError(err)

	holder := ids.GenerateTestShortID()
	require.NoError(engine.Deposit(v1.ID, holder, big.NewInt(1_000)))

	clk.Advance(10 * time.Second)
	require.NoError(engine.AccrueAll())

	for _, id := range []ids.ID{v1.ID, v2.ID} {
		pool, err := engine.PoolOf(id)
		require.NoError(err)
		require.Equal(int64(1_010), pool.LastAccrualTime)
		require.Equal(pool.LastAccrualTime, store.vaults[id].LastAccrualTime)
	}

	// The staked vault emitted; the empty one forfeited.
	pool1, err := engine.PoolOf(v1.ID)
	require.NoError(err)
	require.Equal(0, pool1.TotalEmitted.Cmp(big.NewInt(10_000_000)))

	pool2, err := engine.PoolOf(v2.ID)
	require.NoError(err)
	require.Equal(0, pool2.TotalForfeited.Cmp(big.NewInt(20_000_000)))
}

func TestVaultsSorted(t *testing.T) {
	require := require.New(t)
	engine, _, _ := newTestEngine(t)

	for _, name := range []string{"gamma", "alpha", "beta"} {
		_, err := engine.CreateVault(name, big.NewInt(1))
		require.NoError(err)
	}

	vaults := engine.Vaults()
	require.Len(vaults, 3)
	require.Equal("alpha", vaults[0].Name)
	require.Equal("beta", vaults[1].Name)
	require.Equal("gamma", vaults[2].Name)
}
