// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/ids"
	"github.com/luxfi/rpc"

	"github.com/luxfi/vaultvm/utils/json"
)

// Client reaches the vault API of one chain.
type Client struct {
	Requester rpc.EndpointRequester
}

// NewClient returns a client for the vault API served at uri. The uri
// must include the chain mount point, for example
// http://localhost:9650/ext/bc/vault.
func NewClient(uri string) *Client {
	return &Client{Requester: rpc.NewEndpointRequester(uri)}
}

// Ping checks the service is reachable.
func (c *Client) Ping(ctx context.Context, options ...rpc.Option) (bool, error) {
	res := &PingReply{}
	err := c.Requester.SendRequest(ctx, "vault.ping", &PingArgs{}, res, options...)
	return res.Success, err
}

// Health returns chain progress and accounting health.
func (c *Client) Health(ctx context.Context, options ...rpc.Option) (*HealthReply, error) {
	res := &HealthReply{}
	err := c.Requester.SendRequest(ctx, "vault.health", &HealthArgs{}, res, options...)
	return res, err
}

// ListVaults returns every vault, sorted by name.
func (c *Client) ListVaults(ctx context.Context, options ...rpc.Option) ([]VaultSummary, error) {
	res := &ListVaultsReply{}
	err := c.Requester.SendRequest(ctx, "vault.listVaults", &ListVaultsArgs{}, res, options...)
	return res.Vaults, err
}

// GetVault returns one vault with its reward pool accounting.
func (c *Client) GetVault(ctx context.Context, name string, options ...rpc.Option) (*GetVaultReply, error) {
	res := &GetVaultReply{}
	err := c.Requester.SendRequest(ctx, "vault.getVault", &GetVaultArgs{
		Vault: name,
	}, res, options...)
	return res, err
}

// GetHolder returns one holder's standing in a vault.
func (c *Client) GetHolder(ctx context.Context, name string, addr ids.ShortID, options ...rpc.Option) (*GetHolderReply, error) {
	res := &GetHolderReply{}
	err := c.Requester.SendRequest(ctx, "vault.getHolder", &GetHolderArgs{
		Vault:   name,
		Address: addr.String(),
	}, res, options...)
	return res, err
}

// PendingReward returns a holder's unclaimed rewards as of chain time.
func (c *Client) PendingReward(ctx context.Context, name string, addr ids.ShortID, options ...rpc.Option) (*big.Int, error) {
	res := &PendingRewardReply{}
	err := c.Requester.SendRequest(ctx, "vault.pendingReward", &PendingRewardArgs{
		Vault:   name,
		Address: addr.String(),
	}, res, options...)
	if err != nil {
		return nil, err
	}
	return res.Pending.Int(), nil
}

// GetTreasury returns the treasury's remaining budget and issuance.
func (c *Client) GetTreasury(ctx context.Context, options ...rpc.Option) (*GetTreasuryReply, error) {
	res := &GetTreasuryReply{}
	err := c.Requester.SendRequest(ctx, "vault.getTreasury", &GetTreasuryArgs{}, res, options...)
	return res, err
}

// TreasuryBalance returns one address's paid-out reward balance.
func (c *Client) TreasuryBalance(ctx context.Context, addr ids.ShortID, options ...rpc.Option) (*big.Int, error) {
	res := &GetTreasuryReply{}
	err := c.Requester.SendRequest(ctx, "vault.getTreasury", &GetTreasuryArgs{
		Address: addr.String(),
	}, res, options...)
	if err != nil {
		return nil, err
	}
	if res.Balance == nil {
		return new(big.Int), nil
	}
	return res.Balance.Int(), nil
}

// Deposit submits a deposit transaction and returns its ID.
func (c *Client) Deposit(ctx context.Context, name string, addr ids.ShortID, amount uint64, options ...rpc.Option) (ids.ID, error) {
	res := &IssueTxReply{}
	err := c.Requester.SendRequest(ctx, "vault.deposit", &DepositArgs{
		Vault:   name,
		Address: addr.String(),
		Amount:  json.Uint64(amount),
	}, res, options...)
	if err != nil {
		return ids.Empty, err
	}
	return parseTxID(res.TxID)
}

// Withdraw submits a withdraw transaction and returns its ID.
func (c *Client) Withdraw(ctx context.Context, name string, addr ids.ShortID, amount uint64, options ...rpc.Option) (ids.ID, error) {
	res := &IssueTxReply{}
	err := c.Requester.SendRequest(ctx, "vault.withdraw", &WithdrawArgs{
		Vault:   name,
		Address: addr.String(),
		Amount:  json.Uint64(amount),
	}, res, options...)
	if err != nil {
		return ids.Empty, err
	}
	return parseTxID(res.TxID)
}

// Transfer submits a share transfer transaction and returns its ID.
func (c *Client) Transfer(ctx context.Context, name string, from, to ids.ShortID, amount uint64, options ...rpc.Option) (ids.ID, error) {
	res := &IssueTxReply{}
	err := c.Requester.SendRequest(ctx, "vault.transfer", &TransferArgs{
		Vault:  name,
		From:   from.String(),
		To:     to.String(),
		Amount: json.Uint64(amount),
	}, res, options...)
	if err != nil {
		return ids.Empty, err
	}
	return parseTxID(res.TxID)
}

// Claim submits a claim transaction and returns its ID.
func (c *Client) Claim(ctx context.Context, name string, addr ids.ShortID, options ...rpc.Option) (ids.ID, error) {
	res := &IssueTxReply{}
	err := c.Requester.SendRequest(ctx, "vault.claim", &ClaimArgs{
		Vault:   name,
		Address: addr.String(),
	}, res, options...)
	if err != nil {
		return ids.Empty, err
	}
	return parseTxID(res.TxID)
}

// EmergencyWithdraw submits an emergency withdraw transaction and
// returns its ID.
func (c *Client) EmergencyWithdraw(ctx context.Context, name string, addr ids.ShortID, options ...rpc.Option) (ids.ID, error) {
	res := &IssueTxReply{}
	err := c.Requester.SendRequest(ctx, "vault.emergencyWithdraw", &EmergencyWithdrawArgs{
		Vault:   name,
		Address: addr.String(),
	}, res, options...)
	if err != nil {
		return ids.Empty, err
	}
	return parseTxID(res.TxID)
}

func parseTxID(raw string) (ids.ID, error) {
	txID, err := ids.FromString(raw)
	if err != nil {
		return ids.Empty, fmt.Errorf("failed to parse returned txID %q: %w", raw, err)
	}
	return txID, nil
}
