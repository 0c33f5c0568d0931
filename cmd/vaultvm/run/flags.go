// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"errors"

	"github.com/spf13/pflag"
)

const (
	HTTPAddrKey    = "http-addr"
	GenesisFileKey = "genesis-file"
	ConfigFileKey  = "config-file"
)

var errNoGenesis = errors.New("a genesis spec file is required")

func AddFlags(flags *pflag.FlagSet) {
	flags.String(HTTPAddrKey, "127.0.0.1:9750", "Address the HTTP API listens on")
	flags.String(GenesisFileKey, "", "Path to the JSON genesis spec (required)")
	flags.String(ConfigFileKey, "", "Optional path to a JSON VM config")
}

type Config struct {
	HTTPAddr    string
	GenesisFile string
	ConfigFile  string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	httpAddr, err := flags.GetString(HTTPAddrKey)
	if err != nil {
		return nil, err
	}

	genesisFile, err := flags.GetString(GenesisFileKey)
	if err != nil {
		return nil, err
	}
	if genesisFile == "" {
		return nil, errNoGenesis
	}

	configFile, err := flags.GetString(ConfigFileKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPAddr:    httpAddr,
		GenesisFile: genesisFile,
		ConfigFile:  configFile,
	}, nil
}
