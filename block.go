// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vaultvm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/consensus/core/choices"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/vaultvm/txs"
)

var (
	errInvalidBlock  = errors.New("invalid block")
	errFutureBlock   = errors.New("block timestamp is in the future")
	errEarlyBlock    = errors.New("block timestamp before parent")
	errTooManyTxs    = errors.New("block holds too many transactions")
	errEmptyBlock    = errors.New("block holds no transactions")
	errWrongHeight   = errors.New("block height does not follow parent")
	errDuplicateTxID = errors.New("duplicate transaction in block")
)

// Block represents a block in the vault chain
type Block struct {
	ParentID_      ids.ID    `json:"parentId"` // Field renamed to avoid method collision
	BlockHeight    uint64    `json:"height"`
	BlockTimestamp int64     `json:"timestamp"`
	Txs            []*txs.Tx `json:"txs"`

	// Cached values
	ID_    ids.ID
	bytes  []byte
	status choices.Status
	vm     *VM
}

// ID returns the block ID
func (b *Block) ID() ids.ID {
	if b.ID_ == ids.Empty {
		b.ID_ = b.computeID()
	}
	return b.ID_
}

// computeID calculates the block ID over the block's contents
func (b *Block) computeID() ids.ID {
	h := sha256.New()

	h.Write(b.ParentID_[:])

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, b.BlockHeight)
	h.Write(heightBytes)

	timestampBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timestampBytes, uint64(b.BlockTimestamp))
	h.Write(timestampBytes)

	for _, tx := range b.Txs {
		id := tx.ID()
		h.Write(id[:])
	}

	return ids.ID(h.Sum(nil))
}

// Verify verifies the block against its parent and validates every
// transaction's fields. State-dependent checks happen on Accept.
func (b *Block) Verify(ctx context.Context) error {
	if b.BlockHeight == 0 && b.ParentID_ != ids.Empty {
		return errInvalidBlock
	}
	if len(b.Txs) == 0 && b.BlockHeight > 0 {
		return errEmptyBlock
	}
	if len(b.Txs) > b.vm.MaxTxsPerBlock {
		return errTooManyTxs
	}

	if b.BlockHeight > 0 {
		b.vm.mu.RLock()
		parent, err := b.vm.getBlock(b.ParentID_)
		b.vm.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("failed to get parent block: %w", err)
		}
		if b.BlockHeight != parent.BlockHeight+1 {
			return errWrongHeight
		}
		if b.BlockTimestamp < parent.BlockTimestamp {
			return errEarlyBlock
		}
	}

	skew := int64(b.vm.MaxClockSkew.Seconds())
	if b.BlockTimestamp > b.vm.clock.Unix()+skew {
		return errFutureBlock
	}

	seen := set.NewSet[ids.ID](len(b.Txs))
	for _, tx := range b.Txs {
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("invalid transaction %s: %w", tx.ID(), err)
		}
		if seen.Contains(tx.ID()) {
			return errDuplicateTxID
		}
		seen.Add(tx.ID())
	}

	return nil
}

// Accept marks the block as accepted and applies its transactions. Chain
// time moves to the block timestamp and every vault accrues before any
// transaction runs. A failing transaction is logged and skipped; it does
// not fail the block.
func (b *Block) Accept(ctx context.Context) error {
	b.vm.mu.Lock()
	defer b.vm.mu.Unlock()

	b.vm.chainClock.Set(time.Unix(b.BlockTimestamp, 0))
	if err := b.vm.engine.AccrueAll(); err != nil {
		return fmt.Errorf("failed to accrue vaults: %w", err)
	}

	applied := 0
	for _, tx := range b.Txs {
		// An accepted block consumes its transactions, pass or fail.
		delete(b.vm.mempool, tx.ID())
		if err := b.vm.applyTx(tx); err != nil {
			b.vm.log.Warn("transaction failed",
				log.Stringer("txID", tx.ID()),
				log.Stringer("type", tx.Type),
				zap.Error(err),
			)
			continue
		}
		applied++
	}

	b.status = choices.Accepted
	b.vm.lastAcceptedID = b.ID()
	delete(b.vm.pendingBlocks, b.ID())
	b.vm.blockCache.Put(b.ID(), b)

	if err := b.vm.state.PutBlock(b.ID(), b.BlockHeight, b.Bytes()); err != nil {
		return err
	}
	b.vm.state.SetLastBlock(b.ID(), b.BlockHeight)
	if err := b.vm.state.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	if err := b.vm.db.Commit(); err != nil {
		return fmt.Errorf("failed to commit database: %w", err)
	}

	b.vm.metrics.MarkBlockAccepted(applied)
	b.vm.metrics.SetMempoolSize(len(b.vm.mempool))

	b.vm.log.Info("accepted block",
		log.Stringer("blockID", b.ID()),
		log.Uint64("height", b.BlockHeight),
		log.Int("numTxs", len(b.Txs)),
		log.Int("applied", applied),
	)

	return nil
}

// Reject marks the block as rejected. Its transactions stay in the mempool
// for a later block.
func (b *Block) Reject(ctx context.Context) error {
	b.vm.mu.Lock()
	defer b.vm.mu.Unlock()

	b.status = choices.Rejected
	delete(b.vm.pendingBlocks, b.ID())

	b.vm.log.Info("rejected block",
		log.Stringer("blockID", b.ID()),
	)

	return nil
}

// Status returns the block's status
func (b *Block) Status() uint8 {
	return uint8(b.status)
}

// ChoicesStatus returns the block's status as choices.Status
func (b *Block) ChoicesStatus() choices.Status {
	return b.status
}

// ParentID returns the parent block ID
func (b *Block) ParentID() ids.ID {
	return b.ParentID_
}

// Parent returns the parent block (for block.Block interface compatibility)
func (b *Block) Parent() ids.ID {
	return b.ParentID_
}

// Height returns the block height
func (b *Block) Height() uint64 {
	return b.BlockHeight
}

// Timestamp returns the block timestamp
func (b *Block) Timestamp() time.Time {
	return time.Unix(b.BlockTimestamp, 0)
}

// Bytes returns the block bytes
func (b *Block) Bytes() []byte {
	if b.bytes != nil {
		return b.bytes
	}

	bytes, err := Codec.Marshal(codecVersion, b)
	if err != nil {
		return nil
	}

	b.bytes = bytes
	return bytes
}
