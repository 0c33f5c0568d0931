// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vaultvm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/rpc/v2"

	"github.com/luxfi/cache"
	consensuscore "github.com/luxfi/consensus/core"
	"github.com/luxfi/consensus/core/choices"
	consensusctx "github.com/luxfi/consensus/context"
	"github.com/luxfi/consensus/engine/chain/block"
	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/utils/json"
	"github.com/luxfi/warp"

	"github.com/luxfi/vaultvm/api"
	"github.com/luxfi/vaultvm/config"
	"github.com/luxfi/vaultvm/genesis"
	"github.com/luxfi/vaultvm/metrics"
	"github.com/luxfi/vaultvm/state"
	"github.com/luxfi/vaultvm/txs"
	"github.com/luxfi/vaultvm/utils/timer/mockable"
	"github.com/luxfi/vaultvm/vault"
)

var (
	_ block.ChainVM = (*VM)(nil)
	_ api.VM        = (*VM)(nil)

	errInvalidChainCtx = errors.New("invalid chain context type")
	errInvalidDatabase = errors.New("invalid database type")
	errInvalidMsgChan  = errors.New("invalid message channel type")
	errInvalidLogger   = errors.New("invalid logger type")
	errMempoolFull     = errors.New("mempool is full")
	errNoPendingTxs    = errors.New("no pending transactions")
	errCorruptedChain  = errors.New("persisted chain state is corrupted")
)

// VM implements a chain whose state is a set of reward-accruing share
// vaults. Blocks carry vault transactions; accepting a block advances
// chain time to the block timestamp, accrues every vault, and applies
// the transactions in order.
type VM struct {
	config.Config

	ctx *consensusctx.Context
	log log.Logger

	baseDB database.Database
	db     *versiondb.Database
	state  *state.State

	// clock follows wall time and bounds how far in the future a block
	// timestamp may be. chainClock is pinned to the last accepted block
	// timestamp and is the only clock the reward engine sees.
	clock      mockable.Clock
	chainClock mockable.Clock

	metrics  metrics.Metrics
	treasury *vault.Treasury
	engine   *vault.Engine

	// mempool holds submitted transactions until a block carries them.
	// mempoolOrder preserves submission order for building; entries whose
	// transaction was already accepted are skipped and compacted away.
	mempool      map[ids.ID]*txs.Tx
	mempoolOrder []ids.ID

	pendingBlocks  map[ids.ID]*Block
	blockCache     *cache.LRU[ids.ID, *Block]
	preferred      ids.ID
	lastAcceptedID ids.ID

	toEngine      chan<- consensuscore.Message
	mempoolSignal chan struct{}

	bootstrapped bool

	mu sync.RWMutex
}

// Initialize implements the block.ChainVM interface
func (vm *VM) Initialize(
	ctx context.Context,
	chainCtx interface{},
	db interface{},
	genesisBytes []byte,
	upgradeBytes []byte,
	configBytes []byte,
	msgChan interface{},
	fxs []interface{},
	appSender interface{},
) error {
	var ok bool
	vm.ctx, ok = chainCtx.(*consensusctx.Context)
	if !ok {
		return errInvalidChainCtx
	}

	vm.baseDB, ok = db.(database.Database)
	if !ok {
		return errInvalidDatabase
	}

	if msgChan != nil {
		vm.toEngine, ok = msgChan.(chan<- consensuscore.Message)
		if !ok {
			// Tests hand the VM a bidirectional channel
			if biChan, ok := msgChan.(chan consensuscore.Message); ok {
				vm.toEngine = biChan
			} else {
				return errInvalidMsgChan
			}
		}
	}

	if logger, ok := vm.ctx.Log.(log.Logger); ok {
		vm.log = logger
	} else {
		return errInvalidLogger
	}

	cfg, err := config.Parse(configBytes)
	if err != nil {
		return err
	}
	// A config seeded through the Factory survives an empty configBytes.
	if len(configBytes) == 0 && vm.Config.Verify() == nil {
		cfg = vm.Config
	}
	vm.Config = cfg

	// Use the registry from the chain context when the node provides one,
	// otherwise run with a private registry.
	var registerer metric.Registry
	if reg, ok := vm.ctx.Metrics.(metric.Registry); ok && reg != nil {
		registerer = reg
	} else {
		registerer = metric.NewRegistry()
	}
	vm.metrics, err = metrics.New(registerer)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	vm.db = versiondb.New(vm.baseDB)
	vm.state = state.New(vm.db)
	if err := vm.state.Initialize(); err != nil {
		return err
	}

	vm.mempool = make(map[ids.ID]*txs.Tx, vm.MempoolSize)
	vm.pendingBlocks = make(map[ids.ID]*Block)
	vm.blockCache = &cache.LRU[ids.ID, *Block]{Size: vm.BlockCacheSize}
	vm.mempoolSignal = make(chan struct{}, 1)

	if lastID, _ := vm.state.GetLastBlock(); lastID == ids.Empty {
		if err := vm.initGenesis(genesisBytes); err != nil {
			return err
		}
	} else {
		if err := vm.loadChain(); err != nil {
			return err
		}
	}
	vm.preferred = vm.lastAcceptedID
	vm.metrics.SetNumVaults(vm.engine.NumVaults())

	vm.log.Info("vault VM initialized",
		log.Stringer("chainID", vm.ctx.ChainID),
		log.Stringer("lastAccepted", vm.lastAcceptedID),
		log.Int("numVaults", vm.engine.NumVaults()),
	)
	return nil
}

// initGenesis builds the chain's initial state: the reward treasury,
// the declared vaults with their share allocations, and the genesis
// block pinning chain time to the genesis timestamp.
func (vm *VM) initGenesis(genesisBytes []byte) error {
	gen, err := genesis.Parse(genesisBytes)
	if err != nil {
		return err
	}

	vm.chainClock.Set(time.Unix(gen.Timestamp, 0))

	vm.treasury, err = vault.NewTreasury(new(big.Int).SetUint64(gen.TreasuryBudget))
	if err != nil {
		return err
	}
	vm.engine = vault.NewEngine(&vm.chainClock, vm.treasury, vm.state, vm.log, vm.metrics)

	for _, genVault := range gen.Vaults {
		v, err := vm.engine.CreateVault(genVault.Name, new(big.Int).SetUint64(genVault.RewardRate))
		if err != nil {
			return fmt.Errorf("failed to create genesis vault %q: %w", genVault.Name, err)
		}
		for _, alloc := range genVault.Allocations {
			shares := new(big.Int).SetUint64(alloc.Shares)
			if err := vm.engine.Deposit(v.ID, alloc.Address, shares); err != nil {
				return fmt.Errorf("failed to allocate genesis shares in %q: %w", genVault.Name, err)
			}
		}
	}
	if err := vm.state.PutTreasury(vm.treasury.Record()); err != nil {
		return err
	}

	genesisBlock := &Block{
		ParentID_:      ids.Empty,
		BlockHeight:    0,
		BlockTimestamp: gen.Timestamp,
		vm:             vm,
	}
	genesisBlock.ID_ = genesisBlock.computeID()
	genesisBlock.status = choices.Accepted
	vm.lastAcceptedID = genesisBlock.ID()
	vm.blockCache.Put(genesisBlock.ID(), genesisBlock)

	if err := vm.state.PutBlock(genesisBlock.ID(), 0, genesisBlock.Bytes()); err != nil {
		return err
	}
	vm.state.SetLastBlock(genesisBlock.ID(), 0)
	if err := vm.state.Commit(); err != nil {
		return fmt.Errorf("failed to commit genesis: %w", err)
	}
	if err := vm.db.Commit(); err != nil {
		return fmt.Errorf("failed to commit genesis: %w", err)
	}

	vm.log.Info("initialized genesis state",
		log.Stringer("genesisBlock", genesisBlock.ID()),
		log.Int("numVaults", vm.engine.NumVaults()),
		log.Uint64("treasuryBudget", gen.TreasuryBudget),
	)
	return nil
}

// loadChain rebuilds the engine from persisted records and pins chain
// time to the last accepted block's timestamp.
func (vm *VM) loadChain() error {
	lastID, lastHeight := vm.state.GetLastBlock()

	blkBytes, err := vm.state.GetBlock(lastID)
	if err != nil {
		return fmt.Errorf("%w: missing last accepted block %s", errCorruptedChain, lastID)
	}
	lastBlk := &Block{vm: vm}
	if _, err := Codec.Unmarshal(blkBytes, lastBlk); err != nil {
		return fmt.Errorf("%w: undecodable last accepted block: %v", errCorruptedChain, err)
	}
	lastBlk.ID_ = lastID
	lastBlk.status = choices.Accepted
	vm.chainClock.Set(time.Unix(lastBlk.BlockTimestamp, 0))
	vm.lastAcceptedID = lastID
	vm.blockCache.Put(lastID, lastBlk)

	treasuryRec, err := vm.state.LoadTreasury()
	if err != nil {
		return err
	}
	if treasuryRec == nil {
		return fmt.Errorf("%w: missing treasury record", errCorruptedChain)
	}
	vm.treasury, err = vault.NewTreasury(treasuryRec.Budget)
	if err != nil {
		return err
	}
	vm.engine = vault.NewEngine(&vm.chainClock, vm.treasury, vm.state, vm.log, vm.metrics)
	vm.engine.RestoreTreasury(treasuryRec)

	vaultRecs, err := vm.state.LoadVaults()
	if err != nil {
		return err
	}
	for _, rec := range vaultRecs {
		if err := vm.engine.RestoreVault(rec); err != nil {
			return err
		}
		holderRecs, err := vm.state.LoadHolders(rec.ID)
		if err != nil {
			return err
		}
		for _, holderRec := range holderRecs {
			if err := vm.engine.RestoreHolder(rec.ID, holderRec); err != nil {
				return err
			}
		}
	}

	vm.log.Info("restored chain state",
		log.Stringer("lastAccepted", lastID),
		log.Uint64("height", lastHeight),
		log.Int("numVaults", len(vaultRecs)),
	)
	return nil
}

// SubmitTx validates a transaction and adds it to the mempool. A
// transaction already in the mempool is accepted without effect.
func (vm *VM) SubmitTx(tx *txs.Tx) error {
	if err := tx.Verify(); err != nil {
		return err
	}

	vm.mu.Lock()
	txID := tx.ID()
	if _, ok := vm.mempool[txID]; ok {
		vm.mu.Unlock()
		return nil
	}
	if len(vm.mempool) >= vm.MempoolSize {
		vm.mu.Unlock()
		return errMempoolFull
	}
	vm.mempool[txID] = tx
	vm.mempoolOrder = append(vm.mempoolOrder, txID)
	vm.metrics.SetMempoolSize(len(vm.mempool))
	vm.mu.Unlock()

	vm.log.Debug("submitted transaction",
		log.Stringer("txID", txID),
		log.Stringer("type", tx.Type),
	)
	vm.notifyBlockReady()
	return nil
}

// notifyBlockReady tells consensus there is work to build without ever
// blocking the caller.
func (vm *VM) notifyBlockReady() {
	select {
	case vm.mempoolSignal <- struct{}{}:
	default:
	}

	if vm.toEngine == nil {
		return
	}
	select {
	case vm.toEngine <- consensuscore.Message{Type: consensuscore.PendingTxs}:
	default:
	}
}

// applyTx runs one transaction against the vault engine. Callers hold
// vm.mu; the engine applies its own locking underneath.
func (vm *VM) applyTx(tx *txs.Tx) error {
	amount := new(big.Int).SetUint64(tx.Amount)
	switch tx.Type {
	case txs.TxDeposit:
		return vm.engine.Deposit(tx.Vault, tx.From, amount)
	case txs.TxWithdraw:
		return vm.engine.Withdraw(tx.Vault, tx.From, amount)
	case txs.TxTransfer:
		return vm.engine.Transfer(tx.Vault, tx.From, tx.To, amount)
	case txs.TxClaim:
		_, err := vm.engine.Claim(tx.Vault, tx.From)
		return err
	case txs.TxEmergencyWithdraw:
		_, _, err := vm.engine.EmergencyWithdraw(tx.Vault, tx.From)
		return err
	default:
		return txs.ErrInvalidTxType
	}
}

// BuildBlock implements the block.ChainVM interface
func (vm *VM) BuildBlock(ctx context.Context) (block.Block, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if len(vm.mempool) == 0 {
		return nil, errNoPendingTxs
	}

	parentID := vm.preferred
	if parentID == ids.Empty {
		parentID = vm.lastAcceptedID
	}
	parent, err := vm.getBlock(parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent block: %w", err)
	}

	selected := make([]*txs.Tx, 0, vm.MaxTxsPerBlock)
	live := vm.mempoolOrder[:0]
	for _, txID := range vm.mempoolOrder {
		tx, ok := vm.mempool[txID]
		if !ok {
			continue
		}
		live = append(live, txID)
		if len(selected) < vm.MaxTxsPerBlock {
			selected = append(selected, tx)
		}
	}
	vm.mempoolOrder = live

	timestamp := vm.clock.Unix()
	if timestamp < parent.BlockTimestamp {
		timestamp = parent.BlockTimestamp
	}

	blk := &Block{
		ParentID_:      parentID,
		BlockHeight:    parent.BlockHeight + 1,
		BlockTimestamp: timestamp,
		Txs:            selected,
		vm:             vm,
	}
	blk.ID_ = blk.computeID()
	vm.pendingBlocks[blk.ID()] = blk

	vm.log.Info("built block",
		log.Stringer("blockID", blk.ID()),
		log.Uint64("height", blk.BlockHeight),
		log.Int("numTxs", len(selected)),
	)
	return blk, nil
}

// GetBlock implements the block.ChainVM interface
func (vm *VM) GetBlock(ctx context.Context, blkID ids.ID) (block.Block, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	return vm.getBlock(blkID)
}

// getBlock resolves a block from pending blocks, the accepted-block
// cache, or persisted state. Callers hold vm.mu.
func (vm *VM) getBlock(blkID ids.ID) (*Block, error) {
	if blk, ok := vm.pendingBlocks[blkID]; ok {
		return blk, nil
	}
	if blk, ok := vm.blockCache.Get(blkID); ok {
		return blk, nil
	}

	blkBytes, err := vm.state.GetBlock(blkID)
	if err != nil {
		return nil, err
	}
	blk := &Block{vm: vm}
	if _, err := Codec.Unmarshal(blkBytes, blk); err != nil {
		return nil, err
	}
	blk.ID_ = blkID
	blk.status = choices.Accepted
	vm.blockCache.Put(blkID, blk)
	return blk, nil
}

// ParseBlock implements the block.ChainVM interface
func (vm *VM) ParseBlock(ctx context.Context, blkBytes []byte) (block.Block, error) {
	blk := &Block{vm: vm}
	if _, err := Codec.Unmarshal(blkBytes, blk); err != nil {
		return nil, err
	}
	blk.ID_ = blk.computeID()

	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if known, ok := vm.pendingBlocks[blk.ID()]; ok {
		return known, nil
	}
	if known, ok := vm.blockCache.Get(blk.ID()); ok {
		return known, nil
	}
	return blk, nil
}

// GetBlockIDAtHeight implements the block.HeightIndexedChainVM interface
func (vm *VM) GetBlockIDAtHeight(ctx context.Context, height uint64) (ids.ID, error) {
	return vm.state.GetBlockIDAtHeight(height)
}

// SetPreference implements the block.ChainVM interface
func (vm *VM) SetPreference(ctx context.Context, blkID ids.ID) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.preferred = blkID
	return nil
}

// LastAccepted implements the block.ChainVM interface
func (vm *VM) LastAccepted(ctx context.Context) (ids.ID, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	return vm.lastAcceptedID, nil
}

// WaitForEvent blocks until the mempool holds work for a new block.
func (vm *VM) WaitForEvent(ctx context.Context) (interface{}, error) {
	for {
		vm.mu.RLock()
		pending := len(vm.mempool) > 0
		vm.mu.RUnlock()
		if pending {
			return consensuscore.Message{Type: consensuscore.PendingTxs}, nil
		}

		select {
		case <-vm.mempoolSignal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CreateHandlers implements the common.VM interface
func (vm *VM) CreateHandlers(ctx context.Context) (map[string]http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	server.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(vm.metrics.InterceptRequest)
	server.RegisterAfterFunc(vm.metrics.AfterRequest)
	if err := server.RegisterService(api.NewService(vm), "vault"); err != nil {
		return nil, err
	}

	return map[string]http.Handler{
		"": server,
	}, nil
}

// CreateStaticHandlers implements the common.VM interface
func (vm *VM) CreateStaticHandlers(ctx context.Context) (map[string]http.Handler, error) {
	return nil, nil
}

// NewHTTPHandler implements the common.VM interface
func (vm *VM) NewHTTPHandler(ctx context.Context) (interface{}, error) {
	return vm.CreateHandlers(ctx)
}

// HealthCheck implements the common.VM interface
func (vm *VM) HealthCheck(ctx context.Context) (interface{}, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	_, height := vm.state.GetLastBlock()
	return map[string]interface{}{
		"mempoolSize":     len(vm.mempool),
		"lastHeight":      height,
		"numVaults":       vm.engine.NumVaults(),
		"debtRegressions": vm.engine.DebtRegressions(),
	}, nil
}

// SetState implements the common.VM interface
func (vm *VM) SetState(ctx context.Context, stateNum uint32) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	switch consensuscore.State(stateNum) {
	case consensuscore.Bootstrapping:
		vm.bootstrapped = false
	case consensuscore.Ready:
		vm.bootstrapped = true
		vm.log.Info("vault VM ready")
	}
	return nil
}

// Shutdown implements the common.VM interface
func (vm *VM) Shutdown(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == nil {
		return nil
	}
	return errors.Join(
		vm.state.Close(),
		vm.db.Commit(),
		vm.db.Close(),
		vm.baseDB.Close(),
	)
}

// Version implements the common.VM interface
func (vm *VM) Version(ctx context.Context) (string, error) {
	return Version.String(), nil
}

// Bootstrapped implements the api.VM interface
func (vm *VM) Bootstrapped() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	return vm.bootstrapped
}

// Engine implements the api.VM interface
func (vm *VM) Engine() *vault.Engine {
	return vm.engine
}

// LastAcceptedBlock implements the api.VM interface
func (vm *VM) LastAcceptedBlock() (ids.ID, uint64) {
	return vm.state.GetLastBlock()
}

// MempoolLen implements the api.VM interface
func (vm *VM) MempoolLen() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	return len(vm.mempool)
}

// Connected implements the common.VM interface
func (vm *VM) Connected(ctx context.Context, nodeID ids.NodeID, nodeVersion interface{}) error {
	return nil
}

// Disconnected implements the common.VM interface
func (vm *VM) Disconnected(ctx context.Context, nodeID ids.NodeID) error {
	return nil
}

// AppRequest implements the common.VM interface
func (vm *VM) AppRequest(ctx context.Context, nodeID ids.NodeID, requestID uint32, deadline time.Time, request []byte) error {
	return nil
}

// AppResponse implements the common.VM interface
func (vm *VM) AppResponse(ctx context.Context, nodeID ids.NodeID, requestID uint32, response []byte) error {
	return nil
}

// AppRequestFailed implements the common.VM interface
func (vm *VM) AppRequestFailed(ctx context.Context, nodeID ids.NodeID, requestID uint32, appErr *warp.Error) error {
	return nil
}

// AppGossip implements the common.VM interface
func (vm *VM) AppGossip(ctx context.Context, nodeID ids.NodeID, msg []byte) error {
	return nil
}

// CrossChainAppRequest implements the common.VM interface
func (vm *VM) CrossChainAppRequest(ctx context.Context, chainID ids.ID, requestID uint32, deadline time.Time, request []byte) error {
	return nil
}

// CrossChainAppResponse implements the common.VM interface
func (vm *VM) CrossChainAppResponse(ctx context.Context, chainID ids.ID, requestID uint32, response []byte) error {
	return nil
}

// CrossChainAppRequestFailed implements the common.VM interface
func (vm *VM) CrossChainAppRequestFailed(ctx context.Context, chainID ids.ID, requestID uint32, appErr *warp.Error) error {
	return nil
}
