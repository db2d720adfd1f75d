// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the configuration recognized by the consensus
// core (spec §6), as a plain struct with preset constructors mirroring
// the teacher's Parameters/Mainnet/Testnet/Local pattern. The core only
// needs this struct; flag/env parsing for a CLI front-end is out of
// scope (spec §1).
package config

import (
	"fmt"
	"time"
)

// Parameters holds every configuration field the consensus core reads.
type Parameters struct {
	// NodeID identifies this replica within the membership.
	NodeID string

	// TotalNodes is the membership size n, used to derive f = (n-1)/3
	// and quorum 2f+1.
	TotalNodes int

	// QuorumThreshold is a safety check: the configured quorum size must
	// correspond to at least 2/3 of TotalNodes by count. Zero means
	// "derive from TotalNodes" (the normal case).
	QuorumThreshold int

	// FinalityTimeout is the per-sequence phase timeout; elapsing it
	// without reaching `prepared` arms a view-change.
	FinalityTimeout time.Duration

	// MaxPendingVertices bounds the proposer back-pressure queue.
	MaxPendingVertices int

	// WatermarkWindow bounds how far above a replica's low watermark an
	// incoming pre-prepare's sequence may be before it is rejected.
	WatermarkWindow uint64

	// ByzantineDetectionEnabled toggles the detector; default on.
	ByzantineDetectionEnabled bool

	// SignatureScheme names the lattice-DSA variant in use.
	SignatureScheme string

	// Parallel validator tuning.
	ParallelBatchSize     int
	ParallelWorkerThreads int
	ParallelWorkStealing  bool
	ParallelAdaptiveFloor int // N below which a single batch runs inline

	// Reputation tuning.
	ReputationInitial              float64
	ReputationBanThreshold         float64
	ReputationPenaltyEquivocation  float64
	ReputationPenaltyInvalidSig    float64
	ReputationPenaltyTimeout       float64
	ReputationPenaltyProtocol      float64
	ReputationPenaltyNonParticipation float64
	ReputationRecoveryIncrement    float64

	// NonParticipationWindow is k: the number of consecutive
	// finalizations a member must be absent from the commit quorum
	// before it is reported as non-participating (spec §4.4 "Node
	// absent from k consecutive quorums").
	NonParticipationWindow int

	// MaxVertexPayloadBytes bounds the Vertex.payload size (spec §3: 1 MiB).
	MaxVertexPayloadBytes int

	// MessageLogRetention is K, the number of most-recent finalized
	// sequences whose messages are retained (default 10k).
	MessageLogRetention uint64

	// ViewChangeBaseTimeout and ViewChangeBackoffFactor parameterize the
	// exponential backoff of successive view-change timers.
	ViewChangeBaseTimeout   time.Duration
	ViewChangeBackoffFactor float64
}

const (
	maxVertexPayloadBytes = 1 << 20 // 1 MiB, spec §3 and §8 boundary test
)

// Validate checks internal consistency of the parameters, per the
// "quorum-threshold — safety check (must correspond to >= 2/3 by count)"
// requirement of spec §6.
func (p Parameters) Validate() error {
	if p.TotalNodes <= 0 {
		return fmt.Errorf("config: total-nodes must be positive, got %d", p.TotalNodes)
	}
	quorum := p.Quorum()
	if p.QuorumThreshold != 0 && p.QuorumThreshold != quorum {
		return fmt.Errorf("config: quorum-threshold %d does not correspond to 2f+1=%d for n=%d", p.QuorumThreshold, quorum, p.TotalNodes)
	}
	if 3*quorum < 2*p.TotalNodes {
		return fmt.Errorf("config: quorum %d is below 2/3 of %d nodes", quorum, p.TotalNodes)
	}
	if p.FinalityTimeout <= 0 {
		return fmt.Errorf("config: finality-timeout must be positive")
	}
	if p.MaxVertexPayloadBytes <= 0 {
		return fmt.Errorf("config: max-vertex-payload-bytes must be positive")
	}
	return nil
}

// Quorum returns 2f+1 for the configured membership size.
func (p Parameters) Quorum() int {
	return 2*p.MaxByzantine() + 1
}

// MaxByzantine returns f, the number of faulty replicas the configured
// membership size tolerates.
func (p Parameters) MaxByzantine() int {
	return (p.TotalNodes - 1) / 3
}
