// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package detector

import (
	"sync"

	"github.com/aegisbft/consensus/ids"
)

type nodeSeqKey struct {
	node     ids.NodeID
	sequence uint64
}

// equivocationCache remembers the first digest a node was observed
// voting for each sequence, bounded to a recent sequence window (spec
// §4.4: "equivocation cache: per (node, sequence) first-accepted
// digest, bounded by recent sequence window"). Entries for sequences
// below the current low watermark are dropped on advance.
type equivocationCache struct {
	mu        sync.Mutex
	window    uint64
	lowWater  uint64
	firstSeen map[nodeSeqKey]ids.ID
}

func newEquivocationCache(window uint64) *equivocationCache {
	return &equivocationCache{
		window:    window,
		firstSeen: make(map[nodeSeqKey]ids.ID),
	}
}

// observe records digest as node's vote for sequence if none is yet
// known, and returns true if digest matches (or establishes) the
// recorded value, false if it conflicts with a prior distinct digest.
func (c *equivocationCache) observe(node ids.NodeID, sequence uint64, digest ids.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := nodeSeqKey{node, sequence}
	existing, ok := c.firstSeen[key]
	if !ok {
		c.firstSeen[key] = digest
		return true
	}
	return existing == digest
}

// advance drops cache entries for sequences strictly below
// lowWatermark-window, keeping memory bounded as consensus progresses.
func (c *equivocationCache) advance(lowWatermark uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lowWatermark <= c.lowWater {
		return
	}
	c.lowWater = lowWatermark
	if lowWatermark < c.window {
		return
	}
	cutoff := lowWatermark - c.window
	for key := range c.firstSeen {
		if key.sequence < cutoff {
			delete(c.firstSeen, key)
		}
	}
}

// forget drops all cached votes for node (used by manual reset).
func (c *equivocationCache) forget(node ids.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.firstSeen {
		if key.node == node {
			delete(c.firstSeen, key)
		}
	}
}
