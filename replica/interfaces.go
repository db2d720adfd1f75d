// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/pbft"
)

// PolicyConsumer is the external collaborator that reacts to finalized
// vertices (spec §6): the core only produces the Finalizations stream,
// policy evaluation itself is out of scope.
type PolicyConsumer interface {
	Consume(fin pbft.Finalization)
}

// DurableStore is the write-through persistence seam of spec §4.2/§6,
// satisfied by dag.PebbleSnapshotter or any other implementation; a
// Replica runs standalone, in memory only, without one.
type DurableStore interface {
	PutVertex(v *dag.Vertex) error
	PutFinality(sequence uint64, digest ids.ID) error
	GetFinality(sequence uint64) (ids.ID, bool, error)
	Replay(fn func(*dag.Vertex) error) error
	Close() error
}

var _ DurableStore = (*dag.PebbleSnapshotter)(nil)

// MetricsExporter is the out-of-scope collaborator that scrapes the
// prometheus registry a Replica's metrics are registered against (spec
// §6): any prometheus.Gatherer satisfies it, including the
// *prometheus.Registry passed as Config.Registerer.
type MetricsExporter = prometheus.Gatherer
