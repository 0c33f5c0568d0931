// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vaultvm

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	consensusctx "github.com/luxfi/consensus/context"
	consensuscore "github.com/luxfi/consensus/core"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/vaultvm/api"
	"github.com/luxfi/vaultvm/genesis"
	"github.com/luxfi/vaultvm/txs"
	"github.com/luxfi/vaultvm/vault"
	"github.com/luxfi/warp"
)

const (
	testGenesisTime = int64(1700000000)
	testBudget      = uint64(1_000_000_000_000)
	testVaultName   = "stakers"
	testRewardRate  = uint64(1_000)
)

func TestVMInitializeGenesis(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	addr := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(addr))
	defer vm.Shutdown(ctx)

	lastID, err := vm.LastAccepted(ctx)
	require.NoError(err)
	require.NotEqual(ids.Empty, lastID)

	blk, err := vm.GetBlock(ctx, lastID)
	require.NoError(err)
	require.Zero(blk.Height())
	require.Equal(testGenesisTime, blk.Timestamp().Unix())

	genesisID, err := vm.GetBlockIDAtHeight(ctx, 0)
	require.NoError(err)
	require.Equal(lastID, genesisID)

	engine := vm.Engine()
	require.Equal(1, engine.NumVaults())

	vaultID := vault.VaultID(testVaultName)
	v, err := engine.GetVault(vaultID)
	require.NoError(err)
	require.Equal(testVaultName, v.Name)
	require.Zero(v.TotalShares.Cmp(big.NewInt(1_000)))

	balance, err := engine.BalanceOf(vaultID, addr)
	require.NoError(err)
	require.Zero(balance.Cmp(big.NewInt(1_000)))

	treasury := engine.Treasury()
	require.Zero(treasury.Issued().Sign())
	require.Zero(treasury.Remaining().Cmp(new(big.Int).SetUint64(testBudget)))

	version, err := vm.Version(ctx)
	require.NoError(err)
	require.NotEmpty(version)

	health, err := vm.HealthCheck(ctx)
	require.NoError(err)
	require.NotNil(health)
}

func TestVMDepositLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	depositor := ids.GenerateTestShortID()
	vm, toEngine := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)

	vaultID := vault.VaultID(testVaultName)
	require.NoError(vm.SubmitTx(txs.NewDepositTx(vaultID, depositor, 500, 1)))
	require.Equal(1, vm.MempoolLen())

	msg := <-toEngine
	require.Equal(consensuscore.PendingTxs, msg.Type)

	advanceClock(vm, 5)
	blk := buildAndAccept(t, vm)
	require.Equal(uint64(1), blk.Height())
	require.Equal(testGenesisTime+5, blk.Timestamp().Unix())
	require.Zero(vm.MempoolLen())

	lastID, err := vm.LastAccepted(ctx)
	require.NoError(err)
	require.Equal(blk.ID(), lastID)

	blkID, err := vm.GetBlockIDAtHeight(ctx, 1)
	require.NoError(err)
	require.Equal(blk.ID(), blkID)

	balance, err := vm.Engine().BalanceOf(vaultID, depositor)
	require.NoError(err)
	require.Zero(balance.Cmp(big.NewInt(500)))

	total, err := vm.Engine().GetVault(vaultID)
	require.NoError(err)
	require.Zero(total.TotalShares.Cmp(big.NewInt(1_500)))

	_, err = vm.BuildBlock(ctx)
	require.ErrorIs(err, errNoPendingTxs)
}

func TestVMClaimPaysFromTreasury(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)

	vaultID := vault.VaultID(testVaultName)
	require.NoError(vm.SubmitTx(txs.NewClaimTx(vaultID, holder, 1)))

	advanceClock(vm, 10)
	buildAndAccept(t, vm)

	// Ten seconds at 1000 units/sec, every share held by one address.
	want := big.NewInt(10_000)
	treasury := vm.Engine().Treasury()
	require.Zero(treasury.BalanceOf(holder).Cmp(want))
	require.Zero(treasury.Issued().Cmp(want))
	require.Zero(treasury.Remaining().Cmp(
		new(big.Int).Sub(new(big.Int).SetUint64(testBudget), want),
	))

	pending, err := vm.Engine().Pending(vaultID, holder)
	require.NoError(err)
	require.Zero(pending.Sign())
}

func TestVMFailedTxConsumed(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	stranger := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)

	vaultID := vault.VaultID(testVaultName)
	// The withdraw runs first and fails: the stranger holds no shares yet.
	require.NoError(vm.SubmitTx(txs.NewWithdrawTx(vaultID, stranger, 50, 1)))
	require.NoError(vm.SubmitTx(txs.NewDepositTx(vaultID, stranger, 100, 2)))

	advanceClock(vm, 1)
	blk := buildAndAccept(t, vm)
	require.Len(blk.Txs, 2)
	require.Zero(vm.MempoolLen())

	balance, err := vm.Engine().BalanceOf(vaultID, stranger)
	require.NoError(err)
	require.Zero(balance.Cmp(big.NewInt(100)))

	_, err = vm.BuildBlock(ctx)
	require.ErrorIs(err, errNoPendingTxs)
}

func TestVMRestartRecoversState(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	depositor := ids.GenerateTestShortID()
	db := memdb.New()
	gen := defaultGenesis(holder)

	vm1, _ := bootVM(t, db, gen)
	vaultID := vault.VaultID(testVaultName)
	require.NoError(vm1.SubmitTx(txs.NewDepositTx(vaultID, depositor, 400, 1)))
	require.NoError(vm1.SubmitTx(txs.NewClaimTx(vaultID, holder, 2)))

	advanceClock(vm1, 10)
	blk := buildAndAccept(t, vm1)

	// Boot a second VM over the same database. The genesis bytes are
	// ignored once a chain exists, and vm1 is left open so the shared
	// memdb stays usable.
	vm2, _ := bootVM(t, db, gen)
	defer vm2.Shutdown(ctx)

	lastID, err := vm2.LastAccepted(ctx)
	require.NoError(err)
	require.Equal(blk.ID(), lastID)

	reloaded, err := vm2.GetBlock(ctx, lastID)
	require.NoError(err)
	require.Equal(uint64(1), reloaded.Height())
	require.Equal(blk.Timestamp().Unix(), reloaded.Timestamp().Unix())

	engine := vm2.Engine()
	require.Equal(1, engine.NumVaults())

	balance, err := engine.BalanceOf(vaultID, holder)
	require.NoError(err)
	require.Zero(balance.Cmp(big.NewInt(1_000)))

	balance, err = engine.BalanceOf(vaultID, depositor)
	require.NoError(err)
	require.Zero(balance.Cmp(big.NewInt(400)))

	// The claim paid out before the restart; nothing new accrues until
	// the next block moves chain time.
	treasury := engine.Treasury()
	require.Zero(treasury.Issued().Cmp(big.NewInt(10_000)))
	require.Zero(treasury.BalanceOf(holder).Cmp(big.NewInt(10_000)))

	pending, err := engine.Pending(vaultID, holder)
	require.NoError(err)
	require.Zero(pending.Sign())
}

func TestVMParseBlock(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)

	vaultID := vault.VaultID(testVaultName)
	require.NoError(vm.SubmitTx(txs.NewDepositTx(vaultID, holder, 25, 1)))

	advanceClock(vm, 1)
	built, err := vm.BuildBlock(ctx)
	require.NoError(err)

	parsed, err := vm.ParseBlock(ctx, built.Bytes())
	require.NoError(err)
	require.Equal(built.ID(), parsed.ID())
	require.Equal(built.Height(), parsed.Height())

	_, err = vm.ParseBlock(ctx, []byte("not a block"))
	require.Error(err)
}

func TestVMBlockVerifyErrors(t *testing.T) {
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)

	vaultID := vault.VaultID(testVaultName)
	tx := txs.NewDepositTx(vaultID, holder, 10, 1)
	genesisID, err := vm.LastAccepted(ctx)
	require.NoError(t, err)

	tests := []struct {
		name string
		blk  *Block
		want error
	}{
		{
			name: "wrong height",
			blk: &Block{
				ParentID_:      genesisID,
				BlockHeight:    7,
				BlockTimestamp: testGenesisTime,
				Txs:            []*txs.Tx{tx},
				vm:             vm,
			},
			want: errWrongHeight,
		},
		{
			name: "timestamp before parent",
			blk: &Block{
				ParentID_:      genesisID,
				BlockHeight:    1,
				BlockTimestamp: testGenesisTime - 1,
				Txs:            []*txs.Tx{tx},
				vm:             vm,
			},
			want: errEarlyBlock,
		},
		{
			name: "timestamp too far ahead",
			blk: &Block{
				ParentID_:      genesisID,
				BlockHeight:    1,
				BlockTimestamp: testGenesisTime + int64(vm.MaxClockSkew.Seconds()) + 1,
				Txs:            []*txs.Tx{tx},
				vm:             vm,
			},
			want: errFutureBlock,
		},
		{
			name: "no transactions",
			blk: &Block{
				ParentID_:      genesisID,
				BlockHeight:    1,
				BlockTimestamp: testGenesisTime,
				vm:             vm,
			},
			want: errEmptyBlock,
		},
		{
			name: "duplicate transaction",
			blk: &Block{
				ParentID_:      genesisID,
				BlockHeight:    1,
				BlockTimestamp: testGenesisTime,
				Txs:            []*txs.Tx{tx, tx},
				vm:             vm,
			},
			want: errDuplicateTxID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.blk.Verify(ctx), tt.want)
		})
	}
}

func TestVMMempoolBound(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)
	vm.MempoolSize = 2

	vaultID := vault.VaultID(testVaultName)
	tx1 := txs.NewDepositTx(vaultID, holder, 1, 1)
	require.NoError(vm.SubmitTx(tx1))
	require.NoError(vm.SubmitTx(txs.NewDepositTx(vaultID, holder, 2, 2)))

	// Resubmitting a known transaction is a quiet no-op.
	require.NoError(vm.SubmitTx(tx1))
	require.Equal(2, vm.MempoolLen())

	err := vm.SubmitTx(txs.NewDepositTx(vaultID, holder, 3, 3))
	require.ErrorIs(err, errMempoolFull)
}

func TestVMWaitForEvent(t *testing.T) {
	require := require.New(t)

	holder := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(context.Background())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := vm.WaitForEvent(cancelled)
	require.ErrorIs(err, context.Canceled)

	vaultID := vault.VaultID(testVaultName)
	require.NoError(vm.SubmitTx(txs.NewDepositTx(vaultID, holder, 5, 1)))

	event, err := vm.WaitForEvent(context.Background())
	require.NoError(err)
	msg, ok := event.(consensuscore.Message)
	require.True(ok)
	require.Equal(consensuscore.PendingTxs, msg.Type)
}

func TestVMHTTPService(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	holder := ids.GenerateTestShortID()
	vm, _ := bootVM(t, memdb.New(), defaultGenesis(holder))
	defer vm.Shutdown(ctx)

	handlers, err := vm.CreateHandlers(ctx)
	require.NoError(err)
	handler, ok := handlers[""]
	require.True(ok)

	server := httptest.NewServer(handler)
	defer server.Close()

	client := api.NewClient(server.URL)

	up, err := client.Ping(ctx)
	require.NoError(err)
	require.True(up)

	vaults, err := client.ListVaults(ctx)
	require.NoError(err)
	require.Len(vaults, 1)
	require.Equal(testVaultName, vaults[0].Name)

	reply, err := client.GetVault(ctx, testVaultName)
	require.NoError(err)
	require.Zero(reply.TotalShares.Int().Cmp(big.NewInt(1_000)))

	depositor := ids.GenerateTestShortID()
	txID, err := client.Deposit(ctx, testVaultName, depositor, 250)
	require.NoError(err)
	require.NotEqual(ids.Empty, txID)
	require.Equal(1, vm.MempoolLen())

	advanceClock(vm, 2)
	buildAndAccept(t, vm)

	holderReply, err := client.GetHolder(ctx, testVaultName, depositor)
	require.NoError(err)
	require.Zero(holderReply.Balance.Int().Cmp(big.NewInt(250)))
}

// Helper functions

// bootVM initializes a VM over db and marks it ready. The wall clock is
// pinned to the genesis timestamp so block timestamps are deterministic.
func bootVM(t *testing.T, db database.Database, gen *genesis.Genesis) (*VM, chan consensuscore.Message) {
	t.Helper()
	require := require.New(t)

	genesisBytes, err := gen.Bytes()
	require.NoError(err)

	chainCtx := &consensusctx.Context{
		ChainID: ids.GenerateTestID(),
		Log:     log.NewNoOpLogger(),
	}
	toEngine := make(chan consensuscore.Message, 100)

	vm := &VM{}
	require.NoError(vm.Initialize(
		context.Background(),
		chainCtx,
		db,
		genesisBytes,
		nil, // upgrade
		nil, // config
		toEngine,
		nil, // fxs
		warp.FakeSender{},
	))
	require.NoError(vm.SetState(context.Background(), uint32(consensuscore.Ready)))
	vm.clock.Set(time.Unix(testGenesisTime, 0))
	return vm, toEngine
}

func defaultGenesis(addr ids.ShortID) *genesis.Genesis {
	return &genesis.Genesis{
		Timestamp:      testGenesisTime,
		TreasuryBudget: testBudget,
		Vaults: []genesis.Vault{{
			Name:       testVaultName,
			RewardRate: testRewardRate,
			Allocations: []genesis.Allocation{
				{Address: addr, Shares: 1_000},
			},
		}},
	}
}

func advanceClock(vm *VM, seconds int64) {
	vm.clock.Set(time.Unix(testGenesisTime+seconds, 0))
}

// buildAndAccept drives one block through the consensus lifecycle.
func buildAndAccept(t *testing.T, vm *VM) *Block {
	t.Helper()
	require := require.New(t)

	ctx := context.Background()
	built, err := vm.BuildBlock(ctx)
	require.NoError(err)

	blk, ok := built.(*Block)
	require.True(ok)
	require.NoError(blk.Verify(ctx))
	require.NoError(blk.Accept(ctx))
	require.NoError(vm.SetPreference(ctx, blk.ID()))
	return blk
}
