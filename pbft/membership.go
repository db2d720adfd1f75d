// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"fmt"

	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/ids"
)

// Membership is the fixed, ordered mapping from NodeID to verification
// key known identically to all honest replicas (spec §3). Read-only
// after construction, so it needs no lock (spec §5's lock-order note).
type Membership struct {
	order     []ids.NodeID
	publicKey map[ids.NodeID]crypto.PublicKey
}

// NewMembership builds a Membership from an ordered node list and their
// public keys. order's iteration order is the order the leader function
// indexes into, so it must be identical across all honest replicas.
func NewMembership(order []ids.NodeID, publicKeys map[ids.NodeID]crypto.PublicKey) (*Membership, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("pbft: membership must have at least one node")
	}
	for _, n := range order {
		if _, ok := publicKeys[n]; !ok {
			return nil, fmt.Errorf("pbft: node %s missing public key", n)
		}
	}
	return &Membership{order: append([]ids.NodeID(nil), order...), publicKey: publicKeys}, nil
}

func (m *Membership) Size() int { return len(m.order) }

// Leader returns the deterministic leader for view v: leader(v) =
// membership_order[v mod |membership|] (spec §4.5).
func (m *Membership) Leader(view uint64) ids.NodeID {
	return m.order[int(view%uint64(len(m.order)))]
}

func (m *Membership) PublicKey(node ids.NodeID) (crypto.PublicKey, bool) {
	pk, ok := m.publicKey[node]
	return pk, ok
}

func (m *Membership) Contains(node ids.NodeID) bool {
	_, ok := m.publicKey[node]
	return ok
}

func (m *Membership) Nodes() []ids.NodeID {
	return append([]ids.NodeID(nil), m.order...)
}
