// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegisbft/consensus/config"
	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/detector"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/msglog"
	"github.com/aegisbft/consensus/parallel"
	"github.com/aegisbft/consensus/telemetry"
)

func TestMembership_LeaderIsDeterministicAcrossViews(t *testing.T) {
	nodes := []ids.NodeID{ids.GenerateNodeID(), ids.GenerateNodeID(), ids.GenerateNodeID()}
	keys := map[ids.NodeID]crypto.PublicKey{}
	for _, n := range nodes {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		keys[n] = kp.Public
	}
	m, err := NewMembership(nodes, keys)
	require.NoError(t, err)

	require.Equal(t, nodes[0], m.Leader(0))
	require.Equal(t, nodes[1], m.Leader(1))
	require.Equal(t, nodes[2], m.Leader(2))
	require.Equal(t, nodes[0], m.Leader(3))
}

func TestStage_MonotonicAdvance(t *testing.T) {
	s := newSequenceState(1, 0)
	require.True(t, s.advance(PrePrepared))
	require.True(t, s.advance(Prepared))
	require.False(t, s.advance(Idle))
	require.True(t, s.advance(Committed))
}

type testReplica struct {
	id     ids.NodeID
	key    crypto.KeyPair
	engine *Engine
}

// signedVertex builds a vertex and signs its digest with kp.Private, the
// same construction a real proposer performs (sign after the content
// address is known, since the digest does not cover the signature).
func signedVertex(kp crypto.KeyPair, parents []ids.ID, payload []byte, tsMillis int64, creator ids.NodeID) *dag.Vertex {
	unsigned := dag.New(parents, payload, tsMillis, creator, nil)
	digest := unsigned.ID()
	sig := crypto.Sign(kp.Private, digest[:])
	return dag.New(parents, payload, tsMillis, creator, sig)
}

func buildReplicas(t *testing.T, n int) ([]*testReplica, *loopbackNetwork) {
	t.Helper()
	cfg := config.Local(n)

	replicas := make([]*testReplica, n)
	nodeIDs := make([]ids.NodeID, n)
	keys := make(map[ids.NodeID]crypto.PublicKey, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		id := ids.GenerateNodeID()
		nodeIDs[i] = id
		keys[id] = kp.Public
		replicas[i] = &testReplica{id: id, key: kp}
	}

	membership, err := NewMembership(nodeIDs, keys)
	require.NoError(t, err)

	net := newLoopbackNetwork()
	for _, r := range replicas {
		graph := dag.NewGraph(cfg.MaxVertexPayloadBytes)
		log := msglog.New(cfg.MessageLogRetention)
		det := detector.New(detector.PenaltiesFromConfig(cfg), 10_000)
		validator := parallel.New(parallel.DefaultConfig(2))
		e := New(cfg, r.id, r.key.Private, membership, graph, log, det, validator, nil, loopbackBroadcaster{net: net, from: r.id}, nil)
		r.engine = e
		net.register(r.id, e)
	}
	return replicas, net
}

func TestEngine_HappyPathFinalizesOnAllReplicas(t *testing.T) {
	replicas, _ := buildReplicas(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, r := range replicas {
		go r.engine.Start(ctx)
	}
	time.Sleep(10 * time.Millisecond) // let actor loops reach run()

	leader := replicas[0].engine.membership.Leader(0)
	var leaderReplica *testReplica
	for _, r := range replicas {
		if r.id == leader {
			leaderReplica = r
		}
	}
	require.NotNil(t, leaderReplica)

	v := signedVertex(leaderReplica.key, nil, []byte("tx-1"), 1, leaderReplica.id)
	reply := make(chan ReplyOutcome, 1)
	require.NoError(t, leaderReplica.engine.Propose(ctx, v, reply))

	select {
	case out := <-reply:
		require.NoError(t, out.Err)
		require.Equal(t, uint64(1), out.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalization reply")
	}

	for _, r := range replicas {
		select {
		case fin := <-r.engine.Finalizations():
			require.Equal(t, uint64(1), fin.Sequence)
		case <-time.After(2 * time.Second):
			t.Fatalf("replica %s never observed finalization", r.id.ShortString())
		}
	}
}

// TestEngine_BannedNodeVoteDiscardedButStillObserved covers spec §4.4's
// "messages from a banned node are discarded before state transitions
// but still counted for detection": once a node is banned, its votes
// never reach the message log or move a sequence's stage, even though
// ObserveVote (and therefore the equivocation cache) still sees them.
func TestEngine_BannedNodeVoteDiscardedButStillObserved(t *testing.T) {
	replicas, _ := buildReplicas(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, r := range replicas {
		go r.engine.Start(ctx)
	}
	time.Sleep(10 * time.Millisecond)

	receiver := replicas[0].engine
	banned := replicas[1].id

	// One invalid-signature report crosses the default ban threshold
	// immediately (score starts at 1.0, InvalidSig penalty is 1.0).
	receiver.detector.ReportInvalidSignature(banned, 0)
	require.True(t, receiver.detector.IsBanned(banned))

	var digest ids.ID
	digest[0] = 9
	msg := Message{
		Kind:     KindPrepare,
		View:     0,
		Sequence: 1,
		Digest:   digest,
		Node:     banned,
	}
	msg.Signature = crypto.Sign(replicas[1].key.Private, msg.SignedPayload())
	require.NoError(t, receiver.HandleMessage(msg))
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 0, receiver.log.Count(0, 1, msglog.Prepare, digest))
}

// TestEngine_SafetyHaltOnConflictingPrePrepareForFinalizedSequence covers
// spec §7's "conflicting certificate observed, finalized divergence
// detected: fatal": a pre-prepare carrying a different digest than a
// sequence this replica already committed must not reopen it, and must
// surface on the safety-halts counter.
func TestEngine_SafetyHaltOnConflictingPrePrepareForFinalizedSequence(t *testing.T) {
	nodes := []ids.NodeID{ids.GenerateNodeID(), ids.GenerateNodeID()}
	keys := map[ids.NodeID]crypto.PublicKey{}
	kps := map[ids.NodeID]crypto.KeyPair{}
	for _, n := range nodes {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		keys[n] = kp.Public
		kps[n] = kp
	}
	membership, err := NewMembership(nodes, keys)
	require.NoError(t, err)
	leader := membership.Leader(0)

	cfg := config.Local(2)
	metrics := telemetry.NewEngineMetrics(nil)
	e := New(cfg, nodes[0], kps[nodes[0]].Private, membership, dag.NewGraph(cfg.MaxVertexPayloadBytes), msglog.New(cfg.MessageLogRetention),
		detector.New(detector.PenaltiesFromConfig(cfg), 10_000), parallel.New(parallel.DefaultConfig(2)), metrics, nil, nil)

	var finalizedDigest ids.ID
	finalizedDigest[0] = 42
	state := newSequenceState(1, 0)
	state.stage = Committed
	state.digest = finalizedDigest
	e.sequences[1] = state

	v := signedVertex(kps[leader], nil, []byte("tx-conflict"), 1, leader)
	pp := Message{
		Kind:     KindPrePrepare,
		View:     0,
		Sequence: 1,
		Digest:   v.ID(),
		Node:     leader,
		Vertex:   v,
	}
	pp.Signature = crypto.Sign(kps[leader].Private, pp.SignedPayload())
	e.onPrePrepare(context.Background(), pp)

	require.Equal(t, Committed, e.sequences[1].stage)
	require.Equal(t, finalizedDigest, e.sequences[1].digest)
	require.EqualValues(t, 1, metrics.Snapshot(0, 0, 0).SafetyHalts)
}

// TestEngine_SafetyHaltOnNewViewReproposingFinalizedSequence covers the
// same spec §7 requirement reached through a new-view reproposal instead
// of a direct pre-prepare: applyNewView must leave an already-committed
// sequence's recorded digest untouched when the reproposal disagrees.
func TestEngine_SafetyHaltOnNewViewReproposingFinalizedSequence(t *testing.T) {
	nodes := []ids.NodeID{ids.GenerateNodeID(), ids.GenerateNodeID()}
	keys := map[ids.NodeID]crypto.PublicKey{}
	kps := map[ids.NodeID]crypto.KeyPair{}
	for _, n := range nodes {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		keys[n] = kp.Public
		kps[n] = kp
	}
	membership, err := NewMembership(nodes, keys)
	require.NoError(t, err)

	cfg := config.Local(2)
	metrics := telemetry.NewEngineMetrics(nil)
	e := New(cfg, nodes[0], kps[nodes[0]].Private, membership, dag.NewGraph(cfg.MaxVertexPayloadBytes), msglog.New(cfg.MessageLogRetention),
		detector.New(detector.PenaltiesFromConfig(cfg), 10_000), parallel.New(parallel.DefaultConfig(2)), metrics, nil, nil)

	var finalizedDigest, conflictDigest ids.ID
	finalizedDigest[0] = 7
	conflictDigest[0] = 8
	state := newSequenceState(5, 0)
	state.stage = Committed
	state.digest = finalizedDigest
	e.sequences[5] = state

	repropose := Message{Kind: KindPrePrepare, View: 1, Sequence: 5, Digest: conflictDigest, Node: nodes[1]}
	repropose.Signature = crypto.Sign(kps[nodes[1]].Private, repropose.SignedPayload())
	e.applyNewView(Message{
		Kind:      KindNewView,
		View:      1,
		Node:      nodes[1],
		RePropose: []Message{repropose},
	})

	require.Equal(t, Committed, e.sequences[5].stage)
	require.Equal(t, finalizedDigest, e.sequences[5].digest)
	require.EqualValues(t, 1, metrics.Snapshot(0, 0, 0).SafetyHalts)
}

// TestEngine_FinalizeCreditsOnlyActualCommittersAndReportsAbsence covers
// spec §4.4's "reputation recovers linearly with participation in
// successful finalizations" and "Node absent from k consecutive
// quorums": a node that never sends a commit must not recover score on
// finalizations it didn't contribute to, and once its absence streak
// reaches the configured window it is reported as non-participating.
func TestEngine_FinalizeCreditsOnlyActualCommittersAndReportsAbsence(t *testing.T) {
	nodes := []ids.NodeID{ids.GenerateNodeID(), ids.GenerateNodeID(), ids.GenerateNodeID()}
	keys := map[ids.NodeID]crypto.PublicKey{}
	var selfKey crypto.KeyPair
	for i, n := range nodes {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		keys[n] = kp.Public
		if i == 0 {
			selfKey = kp
		}
	}
	membership, err := NewMembership(nodes, keys)
	require.NoError(t, err)

	cfg := config.Local(3)
	cfg.NonParticipationWindow = 2
	det := detector.New(detector.PenaltiesFromConfig(cfg), 10_000)
	e := New(cfg, nodes[0], selfKey.Private, membership, dag.NewGraph(cfg.MaxVertexPayloadBytes), msglog.New(cfg.MessageLogRetention),
		det, parallel.New(parallel.DefaultConfig(2)), nil, nil, nil)

	committer, silent := nodes[1], nodes[2]

	for seq := uint64(1); seq <= 2; seq++ {
		var digest ids.ID
		digest[0] = byte(seq)
		e.log.Add(0, seq, msglog.Commit, nodes[0], digest)
		e.log.Add(0, seq, msglog.Commit, committer, digest)

		state := newSequenceState(seq, 0)
		state.digest = digest
		e.finalize(state)
	}

	require.Equal(t, 0, det.Report(committer).ConsecutiveViolations)
	require.Equal(t, 0, e.absenceStreak[committer])
	require.Equal(t, 2, e.absenceStreak[silent])

	select {
	case v := <-det.Events():
		require.Equal(t, detector.NonParticipation, v.Kind)
		require.Equal(t, silent, v.Node)
		require.Equal(t, uint64(2), v.Sequence)
	default:
		t.Fatal("expected a non-participation violation for the silent node")
	}
}

func TestEngine_NonLeaderProposeFailsWithNotLeader(t *testing.T) {
	replicas, _ := buildReplicas(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, r := range replicas {
		go r.engine.Start(ctx)
	}
	time.Sleep(10 * time.Millisecond)

	leader := replicas[0].engine.membership.Leader(0)
	var nonLeader *testReplica
	for _, r := range replicas {
		if r.id != leader {
			nonLeader = r
			break
		}
	}
	require.NotNil(t, nonLeader)

	v := signedVertex(nonLeader.key, nil, []byte("tx"), 1, nonLeader.id)
	reply := make(chan ReplyOutcome, 1)
	require.NoError(t, nonLeader.engine.Propose(ctx, v, reply))

	select {
	case out := <-reply:
		require.Error(t, out.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for not-leader reply")
	}
}
