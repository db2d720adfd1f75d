// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command replica runs a single consensus-core replica standalone: no
// transport is wired (spec §1 scope — networking is an external
// collaborator), so it is only useful to smoke-test configuration and
// crypto key generation, or as a starting point for a real host process
// that supplies a Broadcaster.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aegisbft/consensus/config"
	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/replica"
)

func main() {
	var (
		totalNodes = flag.Int("total-nodes", 4, "membership size")
		preset     = flag.String("preset", "local", "parameter preset: default, local, testnet")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "replica: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	params, err := parameters(*preset, *totalNodes)
	if err != nil {
		logger.Fatal("invalid preset", zap.Error(err))
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		logger.Fatal("generate key pair", zap.Error(err))
	}
	self := ids.GenerateNodeID()

	r, err := replica.New(replica.Config{
		Self:       self,
		Keys:       kp,
		Members:    []ids.NodeID{self},
		PublicKeys: map[ids.NodeID]crypto.PublicKey{self: kp.Public},
		Parameters: singleNodeParams(params),
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("assemble replica", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("replica starting", zap.String("node-id", self.String()))
	if err := r.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("replica exited", zap.Error(err))
	}
	logger.Info("replica stopped")
}

func parameters(preset string, totalNodes int) (config.Parameters, error) {
	switch preset {
	case "default":
		return config.Default(totalNodes), nil
	case "local":
		return config.Local(totalNodes), nil
	case "testnet":
		return config.Testnet(totalNodes), nil
	default:
		return config.Parameters{}, fmt.Errorf("unknown preset %q", preset)
	}
}

// singleNodeParams overrides the membership size to 1, since this
// standalone binary wires no transport and therefore no real peers.
func singleNodeParams(p config.Parameters) config.Parameters {
	p.TotalNodes = 1
	p.QuorumThreshold = 0
	return p
}
