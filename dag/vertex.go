// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dag implements the substrate vertices (authorization events)
// are appended to: content-addressed storage, parent validation, and
// topological queries (spec §4.2). Vertices are stored in a flat,
// content-addressed map keyed by digest rather than pointer-linked
// nodes, per the design notes: parent links are digests, not owning
// references.
package dag

import (
	"sync"

	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/ids"
)

// stableIdentifier is the constant string folded into every vertex
// digest (spec §3), so two vertices with identical parents/payload/
// timestamp but produced by different logical object kinds could never
// collide; the core only ever mints one kind of object, so the value is
// fixed.
const stableIdentifier = "aegisbft/vertex/v1"

// Vertex is the unit appended to the DAG: a content-addressed, signed
// record with parent references (spec §3).
type Vertex struct {
	id        ids.ID
	parents   []ids.ID
	payload   []byte
	timestamp int64 // milliseconds
	creator   ids.NodeID
	signature []byte

	mu       sync.RWMutex
	metadata Metadata
}

// Metadata is the mutable, monotonically-advancing part of a vertex.
type Metadata struct {
	Confidence    float64
	Confirmations uint64
	Finalized     bool
	Round         uint64
	Chit          bool
}

// New constructs a vertex and computes its content-addressed id. parents
// must already be in the order the caller wants recorded; payload must
// not exceed the caller's configured bound (checked by Graph.Add, not
// here, since the bound is configuration, not a data-model invariant).
func New(parents []ids.ID, payload []byte, timestampMillis int64, creator ids.NodeID, signature []byte) *Vertex {
	parentsCopy := append([]ids.ID(nil), parents...)
	v := &Vertex{
		parents:   parentsCopy,
		payload:   append([]byte(nil), payload...),
		timestamp: timestampMillis,
		creator:   creator,
		signature: append([]byte(nil), signature...),
	}
	v.id = crypto.VertexDigest(stableIdentifier, parentsCopy, v.payload, timestampMillis)
	return v
}

// Recompute returns the digest this vertex's content should hash to,
// for the content-addressing invariant check in Graph.Add.
func (v *Vertex) Recompute() ids.ID {
	return crypto.VertexDigest(stableIdentifier, v.parents, v.payload, v.timestamp)
}

// StableIdentifier returns the constant folded into every digest, so
// callers computing a digest externally (e.g. a proposer, before
// signing) use the same value the store will recompute.
func StableIdentifier() string { return stableIdentifier }

func (v *Vertex) ID() ids.ID               { return v.id }
func (v *Vertex) Parents() []ids.ID        { return append([]ids.ID(nil), v.parents...) }
func (v *Vertex) Payload() []byte          { return append([]byte(nil), v.payload...) }
func (v *Vertex) Timestamp() int64         { return v.timestamp }
func (v *Vertex) Creator() ids.NodeID      { return v.creator }
func (v *Vertex) Signature() []byte        { return append([]byte(nil), v.signature...) }
func (v *Vertex) IsGenesis() bool          { return len(v.parents) == 0 }

// Metadata returns a copy of the current mutable metadata.
func (v *Vertex) Metadata() Metadata {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.metadata
}

// MutateMetadata applies mutation under the vertex's lock and enforces
// the monotonicity invariants of spec §3: confidence only rises,
// finalized only transitions false->true, confirmations only increment.
func (v *Vertex) MutateMetadata(mutation func(*Metadata)) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := v.metadata
	mutation(&next)

	if next.Confidence >= v.metadata.Confidence {
		v.metadata.Confidence = next.Confidence
	}
	if next.Confirmations >= v.metadata.Confirmations {
		v.metadata.Confirmations = next.Confirmations
	}
	if next.Finalized && !v.metadata.Finalized {
		v.metadata.Finalized = true
	}
	v.metadata.Round = next.Round
	v.metadata.Chit = next.Chit
}
