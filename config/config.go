// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration for the vault VM.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config contains operator-tunable parameters for the vault VM.
type Config struct {
	// MempoolSize is the maximum number of pending transactions held
	// before new submissions are rejected.
	MempoolSize int `json:"mempoolSize"`
	// MaxTxsPerBlock caps how many transactions one block may carry.
	MaxTxsPerBlock int `json:"maxTxsPerBlock"`
	// BuildInterval is how often the standalone runner proposes a block
	// when transactions are pending.
	BuildInterval time.Duration `json:"buildInterval"`
	// MaxClockSkew bounds how far in the future a block timestamp may be.
	MaxClockSkew time.Duration `json:"maxClockSkew"`
	// BlockCacheSize is the number of accepted blocks kept in memory.
	BlockCacheSize int `json:"blockCacheSize"`
}

// DefaultConfig returns the default configuration for the vault VM.
func DefaultConfig() Config {
	return Config{
		MempoolSize:    4096,
		MaxTxsPerBlock: 1024,
		BuildInterval:  time.Second,
		MaxClockSkew:   time.Minute,
		BlockCacheSize: 512,
	}
}

// Parse overlays operator-supplied JSON on the defaults. Empty input
// returns the defaults unchanged.
func Parse(bytes []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(bytes, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Verify()
}

// Verify checks the configuration is usable.
func (c Config) Verify() error {
	switch {
	case c.MempoolSize <= 0:
		return fmt.Errorf("mempoolSize must be positive, got %d", c.MempoolSize)
	case c.MaxTxsPerBlock <= 0:
		return fmt.Errorf("maxTxsPerBlock must be positive, got %d", c.MaxTxsPerBlock)
	case c.BuildInterval <= 0:
		return fmt.Errorf("buildInterval must be positive, got %s", c.BuildInterval)
	case c.MaxClockSkew <= 0:
		return fmt.Errorf("maxClockSkew must be positive, got %s", c.MaxClockSkew)
	case c.BlockCacheSize <= 0:
		return fmt.Errorf("blockCacheSize must be positive, got %d", c.BlockCacheSize)
	default:
		return nil
	}
}
