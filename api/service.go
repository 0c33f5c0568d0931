// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the RPC service and client for the vault VM.
//
// Vaults are addressed by name; the service derives the vault ID from
// it. Reward amounts travel as quoted decimal strings so clients never
// lose precision to float64 decoding.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/vaultvm/txs"
	"github.com/luxfi/vaultvm/utils/json"
	"github.com/luxfi/vaultvm/vault"
)

var (
	ErrNotBootstrapped = errors.New("vault VM not bootstrapped")
	ErrInvalidRequest  = errors.New("invalid request")
)

// VM is the view of the vault VM the service needs.
type VM interface {
	Bootstrapped() bool
	Engine() *vault.Engine
	SubmitTx(tx *txs.Tx) error
	LastAcceptedBlock() (ids.ID, uint64)
	MempoolLen() int
}

// Service provides the RPC API for the vault VM.
type Service struct {
	vm VM
}

// NewService creates a new API service.
func NewService(vm VM) *Service {
	return &Service{vm: vm}
}

// PingArgs is the argument for the Ping API.
type PingArgs struct{}

// PingReply is the reply for the Ping API.
type PingReply struct {
	Success bool `json:"success"`
}

// Ping returns a simple liveness response.
func (s *Service) Ping(_ *http.Request, _ *PingArgs, reply *PingReply) error {
	reply.Success = true
	return nil
}

// HealthArgs is the argument for the Health API.
type HealthArgs struct{}

// HealthReply is the reply for the Health API.
type HealthReply struct {
	Healthy         bool        `json:"healthy"`
	Bootstrapped    bool        `json:"bootstrapped"`
	LastAccepted    string      `json:"lastAccepted"`
	LastHeight      json.Uint64 `json:"lastHeight"`
	MempoolSize     int         `json:"mempoolSize"`
	NumVaults       int         `json:"numVaults"`
	DebtRegressions json.Uint64 `json:"debtRegressions"`
}

// Health reports chain progress and accounting health. A debt
// regression means settle had to clamp an entitlement below its debt
// marker; a healthy chain never records one.
func (s *Service) Health(_ *http.Request, _ *HealthArgs, reply *HealthReply) error {
	lastID, height := s.vm.LastAcceptedBlock()
	regressions := s.vm.Engine().DebtRegressions()

	reply.Healthy = regressions == 0
	reply.Bootstrapped = s.vm.Bootstrapped()
	reply.LastAccepted = lastID.String()
	reply.LastHeight = json.Uint64(height)
	reply.MempoolSize = s.vm.MempoolLen()
	reply.NumVaults = s.vm.Engine().NumVaults()
	reply.DebtRegressions = json.Uint64(regressions)
	return nil
}

// VaultSummary describes one vault without its holder detail.
type VaultSummary struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	RewardRate  *json.BigInt `json:"rewardRate"`
	TotalShares *json.BigInt `json:"totalShares"`
	NumHolders  int          `json:"numHolders"`
	CreatedAt   int64        `json:"createdAt"`
}

// ListVaultsArgs is the argument for the ListVaults API.
type ListVaultsArgs struct{}

// ListVaultsReply is the reply for the ListVaults API.
type ListVaultsReply struct {
	Vaults []VaultSummary `json:"vaults"`
}

// ListVaults returns every vault, sorted by name.
func (s *Service) ListVaults(_ *http.Request, _ *ListVaultsArgs, reply *ListVaultsReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}

	vaults := s.vm.Engine().Vaults()
	reply.Vaults = make([]VaultSummary, len(vaults))
	for i, v := range vaults {
		reply.Vaults[i] = VaultSummary{
			ID:          v.ID.String(),
			Name:        v.Name,
			RewardRate:  json.NewBigInt(v.RewardRate),
			TotalShares: json.NewBigInt(v.TotalShares),
			NumHolders:  v.NumHolders(),
			CreatedAt:   v.CreatedAt,
		}
	}
	return nil
}

// GetVaultArgs is the argument for the GetVault API.
type GetVaultArgs struct {
	Vault string `json:"vault"` // vault name
}

// GetVaultReply is the reply for the GetVault API.
type GetVaultReply struct {
	VaultSummary
	AccRewardPerShare *json.BigInt `json:"accRewardPerShare"`
	LastAccrualTime   int64        `json:"lastAccrualTime"`
	TotalEmitted      *json.BigInt `json:"totalEmitted"`
	TotalForfeited    *json.BigInt `json:"totalForfeited"`
	TotalClaimed      *json.BigInt `json:"totalClaimed"`
}

// GetVault returns one vault with its reward pool accounting.
func (s *Service) GetVault(_ *http.Request, args *GetVaultArgs, reply *GetVaultReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}

	v, err := s.vm.Engine().GetVault(vaultID)
	if err != nil {
		return err
	}
	pool, err := s.vm.Engine().PoolOf(vaultID)
	if err != nil {
		return err
	}

	reply.VaultSummary = VaultSummary{
		ID:          v.ID.String(),
		Name:        v.Name,
		RewardRate:  json.NewBigInt(v.RewardRate),
		TotalShares: json.NewBigInt(v.TotalShares),
		NumHolders:  v.NumHolders(),
		CreatedAt:   v.CreatedAt,
	}
	reply.AccRewardPerShare = json.NewBigInt(pool.AccRewardPerShare)
	reply.LastAccrualTime = pool.LastAccrualTime
	reply.TotalEmitted = json.NewBigInt(pool.TotalEmitted)
	reply.TotalForfeited = json.NewBigInt(pool.TotalForfeited)
	reply.TotalClaimed = json.NewBigInt(pool.TotalClaimed)
	return nil
}

// GetHolderArgs is the argument for the GetHolder API.
type GetHolderArgs struct {
	Vault   string `json:"vault"`
	Address string `json:"address"`
}

// GetHolderReply is the reply for the GetHolder API.
type GetHolderReply struct {
	Address   string       `json:"address"`
	Balance   *json.BigInt `json:"balance"`
	Claimable *json.BigInt `json:"claimable"`
	Pending   *json.BigInt `json:"pending"`
}

// GetHolder returns one holder's standing in a vault. An address that
// never deposited reports zeros.
func (s *Service) GetHolder(_ *http.Request, args *GetHolderArgs, reply *GetHolderReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	engine := s.vm.Engine()
	balance, err := engine.BalanceOf(vaultID, addr)
	if err != nil {
		return err
	}
	pos, err := engine.PositionOf(vaultID, addr)
	if err != nil {
		return err
	}
	pending, err := engine.Pending(vaultID, addr)
	if err != nil {
		return err
	}

	reply.Address = addr.String()
	reply.Balance = json.NewBigInt(balance)
	reply.Claimable = json.NewBigInt(pos.Claimable)
	reply.Pending = json.NewBigInt(pending)
	return nil
}

// PendingRewardArgs is the argument for the PendingReward API.
type PendingRewardArgs struct {
	Vault   string `json:"vault"`
	Address string `json:"address"`
}

// PendingRewardReply is the reply for the PendingReward API.
type PendingRewardReply struct {
	Pending *json.BigInt `json:"pending"`
}

// PendingReward returns a holder's total unclaimed rewards as of chain
// time, without modifying any state.
func (s *Service) PendingReward(_ *http.Request, args *PendingRewardArgs, reply *PendingRewardReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	pending, err := s.vm.Engine().Pending(vaultID, addr)
	if err != nil {
		return err
	}
	reply.Pending = json.NewBigInt(pending)
	return nil
}

// GetTreasuryArgs is the argument for the GetTreasury API.
type GetTreasuryArgs struct {
	// Address optionally selects one account's minted balance.
	Address string `json:"address,omitempty"`
}

// GetTreasuryReply is the reply for the GetTreasury API.
type GetTreasuryReply struct {
	Remaining *json.BigInt `json:"remaining"`
	Issued    *json.BigInt `json:"issued"`
	Balance   *json.BigInt `json:"balance,omitempty"`
}

// GetTreasury returns the reward treasury's remaining budget and total
// issuance, and optionally one address's paid-out balance.
func (s *Service) GetTreasury(_ *http.Request, args *GetTreasuryArgs, reply *GetTreasuryReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}

	treasury := s.vm.Engine().Treasury()
	reply.Remaining = json.NewBigInt(treasury.Remaining())
	reply.Issued = json.NewBigInt(treasury.Issued())

	if args.Address != "" {
		addr, err := parseAddress(args.Address)
		if err != nil {
			return err
		}
		reply.Balance = json.NewBigInt(treasury.BalanceOf(addr))
	}
	return nil
}

// IssueTxReply is the reply for every transaction-submitting API.
type IssueTxReply struct {
	TxID string `json:"txID"`
}

// DepositArgs is the argument for the Deposit API.
type DepositArgs struct {
	Vault   string      `json:"vault"`
	Address string      `json:"address"`
	Amount  json.Uint64 `json:"amount"`
	Nonce   json.Uint64 `json:"nonce,omitempty"`
}

// Deposit submits a transaction adding shares to a holder's position.
func (s *Service) Deposit(_ *http.Request, args *DepositArgs, reply *IssueTxReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	tx := txs.NewDepositTx(vaultID, addr, uint64(args.Amount), nonceOf(args.Nonce))
	return s.issue(tx, reply)
}

// WithdrawArgs is the argument for the Withdraw API.
type WithdrawArgs struct {
	Vault   string      `json:"vault"`
	Address string      `json:"address"`
	Amount  json.Uint64 `json:"amount"`
	Nonce   json.Uint64 `json:"nonce,omitempty"`
}

// Withdraw submits a transaction removing shares from a holder's
// position. Settled rewards stay claimable.
func (s *Service) Withdraw(_ *http.Request, args *WithdrawArgs, reply *IssueTxReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	tx := txs.NewWithdrawTx(vaultID, addr, uint64(args.Amount), nonceOf(args.Nonce))
	return s.issue(tx, reply)
}

// TransferArgs is the argument for the Transfer API.
type TransferArgs struct {
	Vault   string      `json:"vault"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Amount  json.Uint64 `json:"amount"`
	Nonce   json.Uint64 `json:"nonce,omitempty"`
}

// Transfer submits a transaction moving shares between holders. Both
// sides settle before the balances move, so earned rewards stay where
// they were earned.
func (s *Service) Transfer(_ *http.Request, args *TransferArgs, reply *IssueTxReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	from, err := parseAddress(args.From)
	if err != nil {
		return err
	}
	to, err := parseAddress(args.To)
	if err != nil {
		return err
	}

	tx := txs.NewTransferTx(vaultID, from, to, uint64(args.Amount), nonceOf(args.Nonce))
	return s.issue(tx, reply)
}

// ClaimArgs is the argument for the Claim API.
type ClaimArgs struct {
	Vault   string      `json:"vault"`
	Address string      `json:"address"`
	Nonce   json.Uint64 `json:"nonce,omitempty"`
}

// Claim submits a transaction paying out a holder's accumulated
// rewards.
func (s *Service) Claim(_ *http.Request, args *ClaimArgs, reply *IssueTxReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	tx := txs.NewClaimTx(vaultID, addr, nonceOf(args.Nonce))
	return s.issue(tx, reply)
}

// EmergencyWithdrawArgs is the argument for the EmergencyWithdraw API.
type EmergencyWithdrawArgs struct {
	Vault   string      `json:"vault"`
	Address string      `json:"address"`
	Nonce   json.Uint64 `json:"nonce,omitempty"`
}

// EmergencyWithdraw submits a transaction returning all of a holder's
// shares and forfeiting every accrued reward.
func (s *Service) EmergencyWithdraw(_ *http.Request, args *EmergencyWithdrawArgs, reply *IssueTxReply) error {
	if !s.vm.Bootstrapped() {
		return ErrNotBootstrapped
	}
	vaultID, err := s.vaultID(args.Vault)
	if err != nil {
		return err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}

	tx := txs.NewEmergencyWithdrawTx(vaultID, addr, nonceOf(args.Nonce))
	return s.issue(tx, reply)
}

func (s *Service) issue(tx *txs.Tx, reply *IssueTxReply) error {
	if err := s.vm.SubmitTx(tx); err != nil {
		return err
	}
	reply.TxID = tx.ID().String()
	return nil
}

func (s *Service) vaultID(name string) (ids.ID, error) {
	if name == "" {
		return ids.Empty, fmt.Errorf("%w: vault name required", ErrInvalidRequest)
	}
	return vault.VaultID(name), nil
}

func parseAddress(addr string) (ids.ShortID, error) {
	if addr == "" {
		return ids.ShortEmpty, fmt.Errorf("%w: address required", ErrInvalidRequest)
	}
	parsed, err := ids.ShortFromString(addr)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w: invalid address %q", ErrInvalidRequest, addr)
	}
	return parsed, nil
}

// nonceOf disambiguates otherwise-identical transactions submitted by
// clients that do not track nonces themselves.
func nonceOf(nonce json.Uint64) uint64 {
	if nonce != 0 {
		return uint64(nonce)
	}
	return uint64(time.Now().UnixNano())
}
