// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package replica is the integrator: it wires the crypto wrapper, DAG
// substrate, message log, byzantine detector, parallel validator, and
// agreement engine into the external surface of spec §6 (propose,
// finalization stream, durable snapshotting, metrics), mirroring the
// teacher's top-level engine-assembly package over its own consensus
// families.
package replica

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aegisbft/consensus/config"
	"github.com/aegisbft/consensus/consensuserr"
	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/detector"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/internal/errs"
	"github.com/aegisbft/consensus/msglog"
	"github.com/aegisbft/consensus/parallel"
	"github.com/aegisbft/consensus/pbft"
	"github.com/aegisbft/consensus/telemetry"
)

// Config is everything New needs to assemble a Replica: this replica's
// identity and signing key, the full membership's public keys, tuning
// parameters, and the out-of-scope external collaborators (spec §6) it
// is wired to.
type Config struct {
	Self       ids.NodeID
	Keys       crypto.KeyPair
	Members    []ids.NodeID
	PublicKeys map[ids.NodeID]crypto.PublicKey
	Parameters config.Parameters

	// Broadcast is the transport seam (spec §1: network wiring is out of
	// scope); pass pbft.Broadcaster(nil) to run a standalone replica that
	// never communicates.
	Broadcast pbft.Broadcaster

	// Store is the optional durable write-through sink (spec §4.2, §6).
	Store DurableStore

	// Registerer registers this replica's metrics; nil gets a private,
	// unregistered instance suitable for tests.
	Registerer prometheus.Registerer

	Logger *zap.Logger
}

// Replica is the consensus core's top-level handle: one instance per
// membership participant.
type Replica struct {
	self   ids.NodeID
	keys   crypto.KeyPair
	cfg    config.Parameters
	store  DurableStore
	logger *zap.Logger

	graph     *dag.Graph
	log       *msglog.Log
	detector  *detector.Detector
	validator *parallel.Validator
	metrics   *telemetry.EngineMetrics
	engine    *pbft.Engine

	finalizations chan pbft.Finalization
}

// New validates cfg and assembles a Replica. It does not start any
// goroutines; call Start to begin running the agreement engine.
func New(cfg Config) (*Replica, error) {
	if err := cfg.Parameters.Validate(); err != nil {
		return nil, fmt.Errorf("replica: %w", err)
	}
	membership, err := pbft.NewMembership(cfg.Members, cfg.PublicKeys)
	if err != nil {
		return nil, fmt.Errorf("replica: %w", err)
	}
	if !membership.Contains(cfg.Self) {
		return nil, fmt.Errorf("replica: self %s is not a member", cfg.Self.ShortString())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	graph := dag.NewGraph(cfg.Parameters.MaxVertexPayloadBytes)
	log := msglog.New(cfg.Parameters.MessageLogRetention)
	det := detector.New(detector.PenaltiesFromConfig(cfg.Parameters), cfg.Parameters.MessageLogRetention)

	workerThreads := cfg.Parameters.ParallelWorkerThreads
	if workerThreads <= 0 {
		workerThreads = runtime.NumCPU() // config §6 "0 => runtime.NumCPU()"
	}
	validator := parallel.New(parallel.Config{
		WorkerThreads: workerThreads,
		WorkStealing:  cfg.Parameters.ParallelWorkStealing,
		AdaptiveFloor: cfg.Parameters.ParallelAdaptiveFloor,
	})
	metrics := telemetry.NewEngineMetrics(cfg.Registerer)

	engine := pbft.New(cfg.Parameters, cfg.Self, cfg.Keys.Private, membership, graph, log, det, validator, metrics, cfg.Broadcast, logger)

	return &Replica{
		self:          cfg.Self,
		keys:          cfg.Keys,
		cfg:           cfg.Parameters,
		store:         cfg.Store,
		logger:        logger.Named("replica"),
		graph:         graph,
		log:           log,
		detector:      det,
		validator:     validator,
		metrics:       metrics,
		engine:        engine,
		finalizations: make(chan pbft.Finalization, cfg.Parameters.MaxPendingVertices),
	}, nil
}

// Start runs the agreement engine and the durable-persistence pump
// until ctx is canceled.
func (r *Replica) Start(ctx context.Context) error {
	go r.pump(ctx)
	return r.engine.Start(ctx)
}

// Stop cancels the running engine.
func (r *Replica) Stop() {
	r.engine.Stop()
}

// Close stops the engine and releases the durable store, if any,
// collapsing both shutdown paths' errors into one (spec §6: a host
// tearing down a replica needs a single error to check, not one per
// resource).
func (r *Replica) Close() error {
	r.Stop()
	var errCollector errs.Errs
	if r.store != nil {
		errCollector.Add(r.store.Close())
	}
	return errCollector.Err()
}

// Propose signs payload into a new vertex atop parents — or, when
// parents is nil, the DAG's current tips — and submits it for ordering
// (spec §6 `propose`). It blocks until the sequence finalizes, the
// proposal is rejected (not leader, overloaded), or ctx is done.
func (r *Replica) Propose(ctx context.Context, payload []byte, parents []ids.ID) (pbft.ReplyOutcome, error) {
	if parents == nil {
		parents = r.graph.Tips()
	}
	vertex := r.signVertex(parents, payload, time.Now().UnixMilli())

	reply := make(chan pbft.ReplyOutcome, 1)
	if err := r.engine.Propose(ctx, vertex, reply); err != nil {
		return pbft.ReplyOutcome{}, err
	}
	select {
	case out := <-reply:
		return out, out.Err
	case <-ctx.Done():
		return pbft.ReplyOutcome{}, consensuserr.Timeout()
	}
}

// signVertex builds a vertex and signs its content-addressed digest
// with this replica's private key; the digest is computed before
// signing and does not itself cover the signature bytes, so
// constructing twice (once to learn the digest, once with the real
// signature) yields the same id both times.
func (r *Replica) signVertex(parents []ids.ID, payload []byte, tsMillis int64) *dag.Vertex {
	unsigned := dag.New(parents, payload, tsMillis, r.self, nil)
	digest := unsigned.ID()
	sig := crypto.Sign(r.keys.Private, digest[:])
	return dag.New(parents, payload, tsMillis, r.self, sig)
}

// HandleMessage ingests an inbound consensus message from the
// transport layer (spec §4.1 `handle_message`).
func (r *Replica) HandleMessage(msg pbft.Message) error {
	return r.engine.HandleMessage(msg)
}

// Finalizations is the policy-consumer-facing stream of committed
// sequences (spec §6): distinct from the engine's own channel so this
// replica can persist every finalization before (or regardless of
// whether) a consumer drains it.
func (r *Replica) Finalizations() <-chan pbft.Finalization {
	return r.finalizations
}

// Metrics returns a point-in-time snapshot (spec §4.1 `metrics`, §6
// "query metrics").
func (r *Replica) Metrics() telemetry.Snapshot {
	return r.engine.Metrics()
}

// DetectorEvents streams byzantine-violation events as operators see
// them (spec §6 "Operators see detector events"). The engine itself is
// the sole consumer of the detector's own channel, so it can keep the
// violations-detected/nodes-banned counters live; this forwards the
// engine's re-published stream instead of the raw one.
func (r *Replica) DetectorEvents() <-chan detector.Violation {
	return r.engine.Violations()
}

// Tips returns the DAG's current frontier, the natural parent set for
// the next proposal.
func (r *Replica) Tips() []ids.ID {
	return r.graph.Tips()
}

// Members returns the ordered membership list (spec §6).
func (r *Replica) Members() []ids.NodeID {
	return r.engine.Members()
}

// MembershipSize returns the number of replicas in the configured
// membership.
func (r *Replica) MembershipSize() int {
	return r.engine.MembershipSize()
}

// pump drains the engine's finalization stream, persists each
// finalization through the optional durable store, and forwards it to
// this replica's own stream for policy consumers.
func (r *Replica) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fin, ok := <-r.engine.Finalizations():
			if !ok {
				return
			}
			r.persist(fin)
			select {
			case r.finalizations <- fin:
			default:
				r.logger.Warn("finalization consumer lagging, dropped", zap.Uint64("sequence", fin.Sequence))
			}
		}
	}
}

func (r *Replica) persist(fin pbft.Finalization) {
	if r.store == nil || fin.Vertex == nil {
		return
	}
	if err := r.store.PutVertex(fin.Vertex); err != nil {
		r.logger.Warn("persist vertex failed", zap.Uint64("sequence", fin.Sequence), zap.Error(err))
		return
	}
	if err := r.store.PutFinality(fin.Sequence, fin.Digest); err != nil {
		r.logger.Warn("persist finality failed", zap.Uint64("sequence", fin.Sequence), zap.Error(err))
	}
}
