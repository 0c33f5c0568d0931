// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists vault records, holder stakes, the reward
// treasury, and the accepted block index. Writes buffer in memory and
// land in the database atomically on Commit, which block acceptance
// calls once per block.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/vaultvm/vault"
)

var (
	ErrCorrupted = errors.New("state corrupted")

	prefixVault  = []byte("vault:")
	prefixHolder = []byte("holder:")
	prefixBlock  = []byte("block:")
	prefixHeight = []byte("height:")
	keyTreasury  = []byte("treasury")
	keyLastBlock = []byte("lastBlock")
)

// State buffers vaultvm's persistent records over a database.
type State struct {
	mu sync.RWMutex
	db database.Database

	vaults   map[ids.ID]*vault.VaultRecord
	holders  map[ids.ID]map[ids.ShortID]*vault.HolderRecord
	treasury *vault.TreasuryRecord

	blocks  map[ids.ID][]byte
	heights map[uint64]ids.ID
	deletes [][]byte

	lastBlockID     ids.ID
	lastBlockHeight uint64
	lastBlockDirty  bool
}

// New creates a state manager over db.
func New(db database.Database) *State {
	return &State{
		db:      db,
		vaults:  make(map[ids.ID]*vault.VaultRecord),
		holders: make(map[ids.ID]map[ids.ShortID]*vault.HolderRecord),
		blocks:  make(map[ids.ID][]byte),
		heights: make(map[uint64]ids.ID),
	}
}

// Initialize loads the last accepted block pointer. A fresh database
// leaves it empty, which tells the VM to run genesis.
func (s *State) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get(keyLastBlock)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load last block: %w", err)
	}
	if len(data) < 40 {
		return ErrCorrupted
	}
	copy(s.lastBlockID[:], data[:32])
	s.lastBlockHeight = binary.BigEndian.Uint64(data[32:40])
	return nil
}

// PutVault buffers a vault record for the next commit.
func (s *State) PutVault(rec *vault.VaultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vaults[rec.ID] = rec
	return nil
}

// PutHolder buffers a holder record for the next commit.
func (s *State) PutHolder(vaultID ids.ID, rec *vault.HolderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.holders[vaultID]
	if !ok {
		m = make(map[ids.ShortID]*vault.HolderRecord)
		s.holders[vaultID] = m
	}
	m[rec.Address] = rec
	return nil
}

// DeleteHolder buffers removal of a holder record.
func (s *State) DeleteHolder(vaultID ids.ID, addr ids.ShortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.holders[vaultID]; ok {
		delete(m, addr)
	}
	s.deletes = append(s.deletes, holderKey(vaultID, addr))
	return nil
}

// PutTreasury buffers the treasury record for the next commit.
func (s *State) PutTreasury(rec *vault.TreasuryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.treasury = rec
	return nil
}

// LoadVaults reads every vault record from the database.
func (s *State) LoadVaults() ([]*vault.VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIteratorWithPrefix(prefixVault)
	defer iter.Release()

	var recs []*vault.VaultRecord
	for iter.Next() {
		rec, err := decodeVaultRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		s.vaults[rec.ID] = rec
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

// LoadHolders reads every holder record of a vault from the database.
func (s *State) LoadHolders(vaultID ids.ID) ([]*vault.HolderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIteratorWithPrefix(append(prefixHolder, vaultID[:]...))
	defer iter.Release()

	m, ok := s.holders[vaultID]
	if !ok {
		m = make(map[ids.ShortID]*vault.HolderRecord)
		s.holders[vaultID] = m
	}

	var recs []*vault.HolderRecord
	for iter.Next() {
		rec, err := decodeHolderRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		m[rec.Address] = rec
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

// LoadTreasury reads the treasury record. It is nil before genesis.
func (s *State) LoadTreasury() (*vault.TreasuryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.treasury != nil {
		return s.treasury, nil
	}

	data, err := s.db.Get(keyTreasury)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := decodeTreasuryRecord(data)
	if err != nil {
		return nil, err
	}
	s.treasury = rec
	return rec, nil
}

// PutBlock buffers an accepted block's bytes and its height index entry.
func (s *State) PutBlock(blkID ids.ID, height uint64, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[blkID] = bytes
	s.heights[height] = blkID
	return nil
}

// GetBlock returns an accepted block's bytes.
func (s *State) GetBlock(blkID ids.ID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bytes, ok := s.blocks[blkID]; ok {
		return bytes, nil
	}
	return s.db.Get(blockKey(blkID))
}

// GetBlockIDAtHeight returns the accepted block at a height.
func (s *State) GetBlockIDAtHeight(height uint64) (ids.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if blkID, ok := s.heights[height]; ok {
		return blkID, nil
	}

	data, err := s.db.Get(heightKey(height))
	if err != nil {
		return ids.Empty, err
	}
	if len(data) != 32 {
		return ids.Empty, ErrCorrupted
	}
	var blkID ids.ID
	copy(blkID[:], data)
	return blkID, nil
}

// SetLastBlock buffers the last accepted block pointer.
func (s *State) SetLastBlock(blkID ids.ID, height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastBlockID = blkID
	s.lastBlockHeight = height
	s.lastBlockDirty = true
}

// GetLastBlock returns the last accepted block ID and height.
func (s *State) GetLastBlock() (ids.ID, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBlockID, s.lastBlockHeight
}

// Commit writes everything buffered to the database in one batch.
func (s *State) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()

	for id, rec := range s.vaults {
		if err := batch.Put(vaultKey(id), encodeVaultRecord(rec)); err != nil {
			return err
		}
	}
	for vaultID, m := range s.holders {
		for _, rec := range m {
			if err := batch.Put(holderKey(vaultID, rec.Address), encodeHolderRecord(rec)); err != nil {
				return err
			}
		}
	}
	for _, key := range s.deletes {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	if s.treasury != nil {
		if err := batch.Put(keyTreasury, encodeTreasuryRecord(s.treasury)); err != nil {
			return err
		}
	}
	for blkID, bytes := range s.blocks {
		if err := batch.Put(blockKey(blkID), bytes); err != nil {
			return err
		}
	}
	for height, blkID := range s.heights {
		id := blkID
		if err := batch.Put(heightKey(height), id[:]); err != nil {
			return err
		}
	}
	if s.lastBlockDirty {
		data := make([]byte, 40)
		copy(data[:32], s.lastBlockID[:])
		binary.BigEndian.PutUint64(data[32:], s.lastBlockHeight)
		if err := batch.Put(keyLastBlock, data); err != nil {
			return err
		}
	}

	if err := batch.Write(); err != nil {
		return err
	}

	s.deletes = nil
	s.blocks = make(map[ids.ID][]byte)
	s.heights = make(map[uint64]ids.ID)
	s.lastBlockDirty = false
	return nil
}

// Close flushes any buffered writes.
func (s *State) Close() error {
	return s.Commit()
}

func vaultKey(id ids.ID) []byte {
	return append(prefixVault, id[:]...)
}

func holderKey(vaultID ids.ID, addr ids.ShortID) []byte {
	key := append(prefixHolder, vaultID[:]...)
	return append(key, addr[:]...)
}

func blockKey(id ids.ID) []byte {
	return append(prefixBlock, id[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}
