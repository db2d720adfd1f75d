// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisbft/consensus/config"
	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/detector"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/msglog"
	"github.com/aegisbft/consensus/parallel"
)

// TestCollectPreparedCertificates_PopulatesPreparesFromLog covers the
// safety evidence a view-change carries forward (spec §4.5 step 1): each
// certificate's Prepares must list every node the message log actually
// recorded a matching prepare for, not just the (view, sequence, digest)
// triple.
func TestCollectPreparedCertificates_PopulatesPreparesFromLog(t *testing.T) {
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
	e := New(cfg, nodes[0], selfKey.Private, membership, dag.NewGraph(cfg.MaxVertexPayloadBytes), msglog.New(cfg.MessageLogRetention),
		detector.New(detector.PenaltiesFromConfig(cfg), 10_000), parallel.New(parallel.DefaultConfig(2)), nil, nil, nil)

	var digest ids.ID
	digest[0] = 5
	e.log.Add(0, 3, msglog.Prepare, nodes[0], digest)
	e.log.Add(0, 3, msglog.Prepare, nodes[1], digest)

	state := newSequenceState(3, 0)
	state.digest = digest
	state.stage = Prepared
	e.sequences[3] = state

	certs := e.collectPreparedCertificates()
	require.Len(t, certs, 1)
	require.Equal(t, uint64(3), certs[0].Sequence)
	require.Len(t, certs[0].Prepares, 2)

	preparers := map[ids.NodeID]bool{}
	for _, m := range certs[0].Prepares {
		require.Equal(t, KindPrepare, m.Kind)
		require.Equal(t, digest, m.Digest)
		preparers[m.Node] = true
	}
	require.True(t, preparers[nodes[0]])
	require.True(t, preparers[nodes[1]])
}
