// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txs defines transaction types for the vault VM.
package txs

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/luxfi/ids"
)

var (
	ErrInvalidTxType = errors.New("invalid transaction type")
	ErrEmptyVault    = errors.New("vault ID cannot be empty")
	ErrEmptySender   = errors.New("sender address cannot be empty")
	ErrEmptyReceiver = errors.New("receiver address cannot be empty")
	ErrZeroAmount    = errors.New("amount must be positive")
)

// TxType represents the type of vault transaction.
type TxType uint8

const (
	TxDeposit TxType = iota
	TxWithdraw
	TxTransfer
	TxClaim
	TxEmergencyWithdraw
)

func (t TxType) String() string {
	switch t {
	case TxDeposit:
		return "deposit"
	case TxWithdraw:
		return "withdraw"
	case TxTransfer:
		return "transfer"
	case TxClaim:
		return "claim"
	case TxEmergencyWithdraw:
		return "emergency_withdraw"
	default:
		return "unknown"
	}
}

// Tx is a vault transaction. A single flat layout covers every type; the
// fields a type does not use stay zero. Amount is denominated in shares for
// deposit, withdraw and transfer, and is ignored for claim and emergency
// withdraw. Nonce distinguishes otherwise identical transactions.
type Tx struct {
	Type      TxType      `json:"type"`
	Vault     ids.ID      `json:"vault"`
	From      ids.ShortID `json:"from"`
	To        ids.ShortID `json:"to"`
	Amount    uint64      `json:"amount"`
	Nonce     uint64      `json:"nonce"`
	CreatedAt int64       `json:"createdAt"`

	id    ids.ID
	bytes []byte
}

// NewDepositTx creates a deposit of amount shares into vault for from.
func NewDepositTx(vault ids.ID, from ids.ShortID, amount, nonce uint64) *Tx {
	return &Tx{
		Type:      TxDeposit,
		Vault:     vault,
		From:      from,
		Amount:    amount,
		Nonce:     nonce,
		CreatedAt: time.Now().Unix(),
	}
}

// NewWithdrawTx creates a withdrawal of amount shares from vault for from.
func NewWithdrawTx(vault ids.ID, from ids.ShortID, amount, nonce uint64) *Tx {
	return &Tx{
		Type:      TxWithdraw,
		Vault:     vault,
		From:      from,
		Amount:    amount,
		Nonce:     nonce,
		CreatedAt: time.Now().Unix(),
	}
}

// NewTransferTx creates a transfer of amount shares from from to to within vault.
func NewTransferTx(vault ids.ID, from, to ids.ShortID, amount, nonce uint64) *Tx {
	return &Tx{
		Type:      TxTransfer,
		Vault:     vault,
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		CreatedAt: time.Now().Unix(),
	}
}

// NewClaimTx creates a claim of all accrued rewards in vault for from.
func NewClaimTx(vault ids.ID, from ids.ShortID, nonce uint64) *Tx {
	return &Tx{
		Type:      TxClaim,
		Vault:     vault,
		From:      from,
		Nonce:     nonce,
		CreatedAt: time.Now().Unix(),
	}
}

// NewEmergencyWithdrawTx creates an emergency withdrawal of all shares in
// vault for from, abandoning any accrued rewards.
func NewEmergencyWithdrawTx(vault ids.ID, from ids.ShortID, nonce uint64) *Tx {
	return &Tx{
		Type:      TxEmergencyWithdraw,
		Vault:     vault,
		From:      from,
		Nonce:     nonce,
		CreatedAt: time.Now().Unix(),
	}
}

// ID returns the transaction's unique identifier.
func (tx *Tx) ID() ids.ID {
	if tx.id == ids.Empty {
		hash := sha256.Sum256(tx.Bytes())
		tx.id = ids.ID(hash)
	}
	return tx.id
}

// Bytes returns the serialized transaction.
func (tx *Tx) Bytes() []byte {
	if tx.bytes == nil {
		tx.bytes, _ = Codec.Marshal(codecVersion, tx)
	}
	return tx.bytes
}

// Verify validates the transaction's fields for its type. It does not touch
// vault state; balance and existence checks happen when the transaction is
// applied.
func (tx *Tx) Verify() error {
	if tx.Vault == ids.Empty {
		return ErrEmptyVault
	}
	if tx.From == ids.ShortEmpty {
		return ErrEmptySender
	}

	switch tx.Type {
	case TxDeposit, TxWithdraw:
		if tx.Amount == 0 {
			return ErrZeroAmount
		}
	case TxTransfer:
		if tx.To == ids.ShortEmpty {
			return ErrEmptyReceiver
		}
		if tx.Amount == 0 {
			return ErrZeroAmount
		}
	case TxClaim, TxEmergencyWithdraw:
	default:
		return ErrInvalidTxType
	}

	return nil
}

// Parse decodes a transaction from bytes.
func Parse(bytes []byte) (*Tx, error) {
	tx := &Tx{}
	if _, err := Codec.Unmarshal(bytes, tx); err != nil {
		return nil, err
	}
	tx.bytes = bytes
	return tx, nil
}
