// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"fmt"
	"sync"

	"github.com/aegisbft/consensus/consensuserr"
	"github.com/aegisbft/consensus/ids"
)

// Graph is the content-addressed DAG substrate: a flat map keyed by
// digest with a single reader-writer boundary (spec §5 "DAG substrate
// uses a single reader-writer boundary; reads are wait-free for
// already-present vertices" is approximated here with an RWMutex, which
// gives wait-free concurrent reads in the common case of no writer).
type Graph struct {
	maxPayloadBytes int

	mu       sync.RWMutex
	vertices map[ids.ID]*Vertex
	children map[ids.ID][]ids.ID
}

// New returns an empty graph. maxPayloadBytes bounds Vertex payload size
// (spec §3: bounded above by 1 MiB).
func NewGraph(maxPayloadBytes int) *Graph {
	return &Graph{
		maxPayloadBytes: maxPayloadBytes,
		vertices:        make(map[ids.ID]*Vertex),
		children:        make(map[ids.ID][]ids.ID),
	}
}

// Add inserts v if and only if its content-addressing, parent-closure,
// and size invariants hold (spec §4.2). Re-adding an existing id with
// byte-identical content is idempotent; re-adding the same id with
// different content is a duplicate-conflict.
func (g *Graph) Add(v *Vertex) error {
	if len(v.payload) > g.maxPayloadBytes {
		return consensuserr.InvalidVertex("oversize", fmt.Errorf("payload %d bytes exceeds bound %d", len(v.payload), g.maxPayloadBytes))
	}
	if got := v.Recompute(); got != v.id {
		return consensuserr.InvalidVertex("hash-mismatch", fmt.Errorf("recomputed digest %s != id %s", got, v.id))
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.vertices[v.id]; ok {
		if existing.Recompute() == v.Recompute() {
			return nil // idempotent duplicate
		}
		return consensuserr.InvalidVertex("duplicate-conflict", fmt.Errorf("id %s already stored with different content", v.id))
	}

	for _, parentID := range v.parents {
		if _, ok := g.vertices[parentID]; !ok {
			return consensuserr.InvalidVertex("missing-parent", fmt.Errorf("parent %s not found", parentID))
		}
	}

	g.vertices[v.id] = v
	for _, parentID := range v.parents {
		g.children[parentID] = append(g.children[parentID], v.id)
	}
	return nil
}

// Get returns the vertex stored at id, if any.
func (g *Graph) Get(id ids.ID) (*Vertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	return v, ok
}

// Has reports whether id is stored.
func (g *Graph) Has(id ids.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.vertices[id]
	return ok
}

// Parents returns the parent digests of id, in the order they were
// recorded, or nil if id is not stored.
func (g *Graph) Parents(id ids.ID) []ids.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	if !ok {
		return nil
	}
	return append([]ids.ID(nil), v.parents...)
}

// Children returns the (order-unspecified) set of vertices that name id
// as a parent.
func (g *Graph) Children(id ids.ID) []ids.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]ids.ID(nil), g.children[id]...)
}

// Tips returns every vertex with no recorded children: the current
// frontier of the DAG.
func (g *Graph) Tips() []ids.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tips := make([]ids.ID, 0, len(g.vertices))
	for id := range g.vertices {
		if len(g.children[id]) == 0 {
			tips = append(tips, id)
		}
	}
	return tips
}

// Len returns the number of stored vertices.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vertices)
}

// UpdateMetadata applies a monotonic metadata mutation to the vertex
// stored at id. Returns false if id is not stored.
func (g *Graph) UpdateMetadata(id ids.ID, mutation func(*Metadata)) bool {
	g.mu.RLock()
	v, ok := g.vertices[id]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	v.MutateMetadata(mutation)
	return true
}

// IsAncestor reports whether candidate is an ancestor of v, by walking
// parent links. Used by the acyclicity property test (spec §8); the
// substrate itself never needs to call this on the hot path because
// insertion order already guarantees acyclicity (a vertex may only
// reference parents that precede it in insertion order).
func (g *Graph) IsAncestor(v, candidate ids.ID) bool {
	if v == candidate {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[ids.ID]bool)
	queue := []ids.ID{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		vertex, ok := g.vertices[cur]
		if !ok {
			continue
		}
		for _, p := range vertex.parents {
			if p == candidate {
				return true
			}
			queue = append(queue, p)
		}
	}
	return false
}
