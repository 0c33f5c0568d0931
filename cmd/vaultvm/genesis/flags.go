// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"errors"

	"github.com/spf13/pflag"
)

const (
	InputKey  = "input"
	OutputKey = "output"
)

var errNoInput = errors.New("an input genesis spec is required")

func AddFlags(flags *pflag.FlagSet) {
	flags.String(InputKey, "", "Path to the JSON genesis spec (required)")
	flags.String(OutputKey, "genesis.bin", "Path to write the serialized genesis")
}

type Config struct {
	Input  string
	Output string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	input, err := flags.GetString(InputKey)
	if err != nil {
		return nil, err
	}
	if input == "" {
		return nil, errNoInput
	}

	output, err := flags.GetString(OutputKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		Input:  input,
		Output: output,
	}, nil
}
