// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// Default returns sensible defaults for a production-scale membership,
// mirroring the teacher's Mainnet()/Testnet()/Local() preset pattern.
func Default(totalNodes int) Parameters {
	return Parameters{
		TotalNodes:                        totalNodes,
		FinalityTimeout:                   2 * time.Second,
		MaxPendingVertices:                1024,
		WatermarkWindow:                   1024,
		ByzantineDetectionEnabled:         true,
		SignatureScheme:                   "ML-DSA-65",
		ParallelBatchSize:                 128,
		ParallelWorkerThreads:             0, // 0 => runtime.NumCPU()
		ParallelWorkStealing:              true,
		ParallelAdaptiveFloor:             256,
		ReputationInitial:                 1.0,
		ReputationBanThreshold:            0.3,
		ReputationPenaltyEquivocation:     1.0,
		ReputationPenaltyInvalidSig:       1.0,
		ReputationPenaltyTimeout:          0.05,
		ReputationPenaltyProtocol:         0.2,
		ReputationPenaltyNonParticipation: 0.05,
		ReputationRecoveryIncrement:       0.01,
		NonParticipationWindow:            5,
		MaxVertexPayloadBytes:             maxVertexPayloadBytes,
		MessageLogRetention:               10_000,
		ViewChangeBaseTimeout:             2 * time.Second,
		ViewChangeBackoffFactor:           1.5,
	}
}

// Local returns fast-timeout parameters suitable for local development
// and tests with a small membership.
func Local(totalNodes int) Parameters {
	p := Default(totalNodes)
	p.FinalityTimeout = 200 * time.Millisecond
	p.ViewChangeBaseTimeout = 200 * time.Millisecond
	p.MaxPendingVertices = 256
	p.ParallelAdaptiveFloor = 32
	return p
}

// Testnet returns parameters for a larger, but not mainnet-scale,
// membership with relaxed timeouts.
func Testnet(totalNodes int) Parameters {
	p := Default(totalNodes)
	p.FinalityTimeout = 5 * time.Second
	p.ViewChangeBaseTimeout = 5 * time.Second
	return p
}
