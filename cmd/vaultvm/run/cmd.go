// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	consensusctx "github.com/luxfi/consensus/context"
	consensuscore "github.com/luxfi/consensus/core"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/warp"

	"github.com/luxfi/vaultvm"
	genesiscmd "github.com/luxfi/vaultvm/cmd/vaultvm/genesis"
)

const shutdownTimeout = 10 * time.Second

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a standalone vault chain dev node",
		RunE:  runFunc,
	}
	AddFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	specBytes, err := os.ReadFile(config.GenesisFile)
	if err != nil {
		return err
	}
	gen, err := genesiscmd.ParseSpec(specBytes)
	if err != nil {
		return err
	}
	genesisBytes, err := gen.Bytes()
	if err != nil {
		return err
	}

	var configBytes []byte
	if config.ConfigFile != "" {
		configBytes, err = os.ReadFile(config.ConfigFile)
		if err != nil {
			return err
		}
	}

	logger := log.Root()
	chainCtx := &consensusctx.Context{
		ChainID: vaultvm.VMID,
		Log:     logger,
	}
	toEngine := make(chan consensuscore.Message, 128)

	vm := &vaultvm.VM{}
	if err := vm.Initialize(
		c.Context(),
		chainCtx,
		memdb.New(),
		genesisBytes,
		nil, // upgrade
		configBytes,
		toEngine,
		nil, // fxs
		warp.FakeSender{},
	); err != nil {
		return err
	}
	if err := vm.SetState(c.Context(), uint32(consensuscore.Ready)); err != nil {
		return err
	}

	handlers, err := vm.CreateHandlers(c.Context())
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	for path, handler := range handlers {
		if path == "" {
			mux.Handle("/", handler)
			continue
		}
		mux.Handle(path, handler)
	}
	srv := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := context.WithCancel(c.Context())
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", log.String("addr", config.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	go buildLoop(runCtx, vm, logger)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case s := <-signals:
		logger.Info("received shutdown signal", log.Stringer("signal", s))
	case err := <-serveErr:
		logger.Error("http server failed", zap.Error(err))
	case <-runCtx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	return vm.Shutdown(shutdownCtx)
}

// buildLoop turns mempool activity into accepted blocks. Submissions that
// land within one build interval share a block.
func buildLoop(ctx context.Context, vm *vaultvm.VM, logger log.Logger) {
	for {
		event, err := vm.WaitForEvent(ctx)
		if err != nil {
			return
		}
		msg, ok := event.(consensuscore.Message)
		if !ok || msg.Type != consensuscore.PendingTxs {
			continue
		}

		select {
		case <-time.After(vm.BuildInterval):
		case <-ctx.Done():
			return
		}

		built, err := vm.BuildBlock(ctx)
		if err != nil {
			logger.Debug("nothing to build", zap.Error(err))
			continue
		}
		blk, ok := built.(*vaultvm.Block)
		if !ok {
			logger.Error("unexpected block type")
			continue
		}
		if err := blk.Verify(ctx); err != nil {
			logger.Warn("built block failed verification", zap.Error(err))
			continue
		}
		if err := blk.Accept(ctx); err != nil {
			logger.Error("failed to accept block", zap.Error(err))
			continue
		}
		if err := vm.SetPreference(ctx, blk.ID()); err != nil {
			logger.Error("failed to set preference", zap.Error(err))
		}
	}
}
