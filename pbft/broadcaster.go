// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/ids"
)

// Broadcaster is the network collaborator the engine sends messages
// through; the transport itself (libp2p, gRPC, or anything else) is an
// external concern (spec §1 scope) — the engine only needs these two
// verbs.
type Broadcaster interface {
	Broadcast(Message)
	Send(to ids.NodeID, msg Message)
}

// discardBroadcaster is used when a caller wires no transport, so a
// standalone engine (e.g. in tests) never nil-derefs.
type discardBroadcaster struct{}

func (discardBroadcaster) Broadcast(Message)        {}
func (discardBroadcaster) Send(ids.NodeID, Message) {}

// Finalization is delivered once a sequence commits: the external
// policy-consumer surface of spec §6 ("finalization stream").
type Finalization struct {
	Sequence uint64
	Digest   ids.ID
	Vertex   *dag.Vertex
}
