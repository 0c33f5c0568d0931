// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package json provides string-quoted JSON forms for the numeric types used
// by the vault API. Quoting avoids precision loss in clients that decode
// numbers as float64.
package json

import (
	"errors"
	"math/big"
	"strconv"
)

const Null = "null"

var errInvalidBigInt = errors.New("invalid big integer")

// Uint32 is a uint32 that JSON marshals as a quoted decimal string.
type Uint32 uint32

func (u Uint32) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(u), 10) + `"`), nil
}

func (u *Uint32) UnmarshalJSON(b []byte) error {
	str := string(b)
	if str == Null {
		return nil
	}
	val, err := strconv.ParseUint(unquote(str), 10, 32)
	*u = Uint32(val)
	return err
}

// Uint64 is a uint64 that JSON marshals as a quoted decimal string.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(u), 10) + `"`), nil
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	str := string(b)
	if str == Null {
		return nil
	}
	val, err := strconv.ParseUint(unquote(str), 10, 64)
	*u = Uint64(val)
	return err
}

// BigInt is a big.Int that JSON marshals as a quoted decimal string. Reward
// amounts routinely exceed the float64 integer range, so the API never emits
// them as bare numbers.
type BigInt big.Int

// NewBigInt copies v into a BigInt. A nil v is treated as zero.
func NewBigInt(v *big.Int) *BigInt {
	n := new(big.Int)
	if v != nil {
		n.Set(v)
	}
	return (*BigInt)(n)
}

// Int returns a copy of b as a plain big.Int.
func (b *BigInt) Int() *big.Int {
	return new(big.Int).Set((*big.Int)(b))
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + (*big.Int)(b).String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	str := string(data)
	if str == Null {
		return nil
	}
	if _, ok := (*big.Int)(b).SetString(unquote(str), 10); !ok {
		return errInvalidBigInt
	}
	return nil
}

func unquote(str string) string {
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		return str[1 : len(str)-1]
	}
	return str
}
