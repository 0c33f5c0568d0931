// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/vaultvm/vault"
)

// Records are encoded as fixed-order fields: raw IDs, big-endian
// integers, and length-prefixed big.Int magnitudes. All ledger values
// are non-negative so no sign byte is stored.

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putInt64(buf *bytes.Buffer, v int64) {
	putUint64(buf, uint64(v))
}

func putBigInt(buf *bytes.Buffer, v *big.Int) {
	if v == nil {
		putUint32(buf, 0)
		return
	}
	b := v.Bytes()
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrCorrupted
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrCorrupted
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readBigInt(r *bytes.Reader) (*big.Int, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return new(big.Int), nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, ErrCorrupted
	}
	return new(big.Int).SetBytes(b), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrCorrupted
	}
	return string(b), nil
}

func readID(r *bytes.Reader) (ids.ID, error) {
	var id ids.ID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return ids.Empty, ErrCorrupted
	}
	return id, nil
}

func readShortID(r *bytes.Reader) (ids.ShortID, error) {
	var id ids.ShortID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return ids.ShortEmpty, ErrCorrupted
	}
	return id, nil
}

func encodeVaultRecord(rec *vault.VaultRecord) []byte {
	buf := new(bytes.Buffer)
	buf.Write(rec.ID[:])
	putString(buf, rec.Name)
	putBigInt(buf, rec.RewardRate)
	putInt64(buf, rec.CreatedAt)
	putBigInt(buf, rec.TotalShares)
	putBigInt(buf, rec.AccRewardPerShare)
	putInt64(buf, rec.LastAccrualTime)
	putBigInt(buf, rec.TotalEmitted)
	putBigInt(buf, rec.TotalForfeited)
	putBigInt(buf, rec.TotalClaimed)
	return buf.Bytes()
}

func decodeVaultRecord(data []byte) (*vault.VaultRecord, error) {
	r := bytes.NewReader(data)
	rec := &vault.VaultRecord{}

	var err error
	if rec.ID, err = readID(r); err != nil {
		return nil, err
	}
	if rec.Name, err = readString(r); err != nil {
		return nil, err
	}
	if rec.RewardRate, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = readInt64(r); err != nil {
		return nil, err
	}
	if rec.TotalShares, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.AccRewardPerShare, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.LastAccrualTime, err = readInt64(r); err != nil {
		return nil, err
	}
	if rec.TotalEmitted, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.TotalForfeited, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.TotalClaimed, err = readBigInt(r); err != nil {
		return nil, err
	}
	return rec, nil
}

func encodeHolderRecord(rec *vault.HolderRecord) []byte {
	buf := new(bytes.Buffer)
	buf.Write(rec.Address[:])
	putBigInt(buf, rec.Balance)
	putBigInt(buf, rec.RewardDebt)
	putBigInt(buf, rec.Claimable)
	return buf.Bytes()
}

func decodeHolderRecord(data []byte) (*vault.HolderRecord, error) {
	r := bytes.NewReader(data)
	rec := &vault.HolderRecord{}

	var err error
	if rec.Address, err = readShortID(r); err != nil {
		return nil, err
	}
	if rec.Balance, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.RewardDebt, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.Claimable, err = readBigInt(r); err != nil {
		return nil, err
	}
	return rec, nil
}

func encodeTreasuryRecord(rec *vault.TreasuryRecord) []byte {
	buf := new(bytes.Buffer)
	putBigInt(buf, rec.Budget)
	putBigInt(buf, rec.Issued)
	putUint32(buf, uint32(len(rec.Balances)))
	for addr, bal := range rec.Balances {
		buf.Write(addr[:])
		putBigInt(buf, bal)
	}
	return buf.Bytes()
}

func decodeTreasuryRecord(data []byte) (*vault.TreasuryRecord, error) {
	r := bytes.NewReader(data)
	rec := &vault.TreasuryRecord{}

	var err error
	if rec.Budget, err = readBigInt(r); err != nil {
		return nil, err
	}
	if rec.Issued, err = readBigInt(r); err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	rec.Balances = make(map[ids.ShortID]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		addr, err := readShortID(r)
		if err != nil {
			return nil, err
		}
		bal, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		rec.Balances[addr] = bal
	}
	return rec, nil
}
