// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vaultvm implements a virtual machine hosting reward-accruing
// share vaults.
//
// Each vault emits rewards at a fixed per-second rate, split across its
// holders in proportion to their shares. Accounting follows the
// accumulated-reward-per-share model: the pool keeps one accumulator,
// each position keeps a debt marker, and every balance change settles
// the holder against the accumulator before the balance moves. Windows
// in which a vault has no shares outstanding forfeit their emission
// rather than queueing it for the next depositor.
//
// The VM is block-driven:
//   - Transactions (deposit, withdraw, transfer, claim, emergency
//     withdraw) wait in a mempool until consensus builds a block.
//   - Accepting a block pins chain time to the block timestamp,
//     accrues every vault, and applies the block's transactions in
//     order. A failing transaction is skipped, never the block.
//   - All reward math uses chain time, so every node replays to the
//     same state.
package vaultvm

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/version"

	"github.com/luxfi/vaultvm/config"
)

var (
	// VMID is the unique identifier for the vault VM
	VMID = ids.ID{'v', 'a', 'u', 'l', 't', 'v', 'm'}

	// Name is the human-readable VM name used in plugin registration.
	Name = "vaultvm"

	Version = &version.Semantic{
		Major: 1,
		Minor: 0,
		Patch: 0,
	}
)

// Factory creates vault VM instances carrying a preset configuration.
// Initialize keeps that configuration when the node supplies no config
// bytes of its own.
type Factory struct {
	config.Config
}

// New returns a new vault VM instance.
func (f *Factory) New(log.Logger) (interface{}, error) {
	return &VM{Config: f.Config}, nil
}
