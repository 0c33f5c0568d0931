// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/vaultvm/cmd/vaultvm/genesis"
	"github.com/luxfi/vaultvm/cmd/vaultvm/run"
	"github.com/luxfi/vaultvm/cmd/vaultvm/version"
)

func main() {
	root := &cobra.Command{
		Use:          "vaultvm",
		Short:        "Reward vault chain tooling",
		SilenceUsage: true,
	}
	root.AddCommand(
		genesis.Command(),
		run.Command(),
		version.Command(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
