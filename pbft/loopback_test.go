// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"github.com/aegisbft/consensus/ids"
)

// loopbackNetwork fans a broadcast out to every registered engine
// synchronously (no goroutine hop), enough to exercise the three-phase
// protocol end to end in a single test process.
type loopbackNetwork struct {
	engines map[ids.NodeID]*Engine
}

func newLoopbackNetwork() *loopbackNetwork {
	return &loopbackNetwork{engines: make(map[ids.NodeID]*Engine)}
}

func (n *loopbackNetwork) register(id ids.NodeID, e *Engine) {
	n.engines[id] = e
}

// loopbackBroadcaster is handed to one Engine; from is that engine's
// own id, so it never re-delivers a message to itself.
type loopbackBroadcaster struct {
	net  *loopbackNetwork
	from ids.NodeID
}

func (b loopbackBroadcaster) Broadcast(msg Message) {
	for id, e := range b.net.engines {
		if id == b.from {
			continue
		}
		e.HandleMessage(msg)
	}
}

func (b loopbackBroadcaster) Send(to ids.NodeID, msg Message) {
	if e, ok := b.net.engines[to]; ok {
		e.HandleMessage(msg)
	}
}
