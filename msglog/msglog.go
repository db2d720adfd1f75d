// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package msglog implements the per-sequence message accumulation and
// duplicate suppression of spec §4.6: messages are stored and
// deduplicated by (view, sequence, kind, node), and the log exposes
// quorum-reached signals to the agreement engine.
package msglog

import (
	"sync"

	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/internal/set"
)

// Kind distinguishes the three quorum-bearing phases a message can
// belong to. View-change/new-view bookkeeping lives in package pbft
// since it isn't keyed by (view, sequence, kind, node) the same way.
type Kind int

const (
	PrePrepare Kind = iota
	Prepare
	Commit
)

func (k Kind) String() string {
	switch k {
	case PrePrepare:
		return "pre-prepare"
	case Prepare:
		return "prepare"
	case Commit:
		return "commit"
	default:
		return "unknown"
	}
}

// Entry is one logged message: enough to answer "who said what" without
// owning the full wire message.
type Entry struct {
	Node   ids.NodeID
	Digest ids.ID
}

type tripleKey struct {
	view     uint64
	sequence uint64
	kind     Kind
}

// Log stores and deduplicates messages by (view, sequence, kind, node).
// A second, distinct message from the same sender for the same triple is
// equivocation evidence and is reported to the caller rather than
// accepted (spec §4.6 invariant).
type Log struct {
	mu       sync.RWMutex
	byTriple map[tripleKey]map[ids.NodeID]ids.ID

	// finalized tracks sequences that have been finalized, for the
	// cleanup operation's retention window.
	finalized []uint64
	retention uint64
}

// New returns an empty message log retaining messages for the most
// recent `retention` finalized sequences (spec §4.6 default 10k).
func New(retention uint64) *Log {
	return &Log{
		byTriple:  make(map[tripleKey]map[ids.NodeID]ids.ID),
		retention: retention,
	}
}

// Add records a message. ok is false, and equivocated is true, when node
// already has a distinct digest recorded for this triple; the message is
// not stored in that case, and the caller must route it to the detector.
// Re-adding an identical (triple, node, digest) is idempotent.
func (l *Log) Add(view, sequence uint64, kind Kind, node ids.NodeID, digest ids.ID) (ok bool, equivocated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tripleKey{view, sequence, kind}
	senders, exists := l.byTriple[key]
	if !exists {
		senders = make(map[ids.NodeID]ids.ID)
		l.byTriple[key] = senders
	}

	if existing, ok := senders[node]; ok {
		if existing == digest {
			return true, false
		}
		return false, true
	}

	senders[node] = digest
	return true, false
}

// Count returns the number of distinct senders recorded for
// (view, sequence, kind, digest).
func (l *Log) Count(view, sequence uint64, kind Kind, digest ids.ID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	senders, ok := l.byTriple[tripleKey{view, sequence, kind}]
	if !ok {
		return 0
	}
	n := 0
	for _, d := range senders {
		if d == digest {
			n++
		}
	}
	return n
}

// Senders returns the set of nodes that have reported digest for
// (view, sequence, kind).
func (l *Log) Senders(view, sequence uint64, kind Kind, digest ids.ID) set.Set[ids.NodeID] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := set.NewSet[ids.NodeID](0)
	senders, ok := l.byTriple[tripleKey{view, sequence, kind}]
	if !ok {
		return result
	}
	for node, d := range senders {
		if d == digest {
			result.Add(node)
		}
	}
	return result
}

// QuorumReached reports whether at least quorum distinct senders have
// reported digest for (view, sequence, kind).
func (l *Log) QuorumReached(view, sequence uint64, kind Kind, digest ids.ID, quorum int) bool {
	return l.Count(view, sequence, kind, digest) >= quorum
}

// MarkFinalized records that sequence has been finalized, feeding the
// retention-window cleanup.
func (l *Log) MarkFinalized(sequence uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized = append(l.finalized, sequence)
}

// Cleanup removes entries for sequences older than the retention window,
// preserving the most recent K finalized sequences (spec §4.6).
func (l *Log) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if uint64(len(l.finalized)) <= l.retention {
		return
	}
	cut := uint64(len(l.finalized)) - l.retention
	toRemove := make(map[uint64]bool, cut)
	for _, seq := range l.finalized[:cut] {
		toRemove[seq] = true
	}
	l.finalized = l.finalized[cut:]

	for key := range l.byTriple {
		if toRemove[key.sequence] {
			delete(l.byTriple, key)
		}
	}
}

// Snapshot returns every distinct (view, sequence, kind, node, digest)
// tuple currently logged, for view-change packaging (spec §4.6
// "snapshot for view-change packaging").
type SnapshotEntry struct {
	View     uint64
	Sequence uint64
	Kind     Kind
	Node     ids.NodeID
	Digest   ids.ID
}

func (l *Log) Snapshot() []SnapshotEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]SnapshotEntry, 0)
	for key, senders := range l.byTriple {
		for node, digest := range senders {
			out = append(out, SnapshotEntry{
				View:     key.view,
				Sequence: key.sequence,
				Kind:     key.kind,
				Node:     node,
				Digest:   digest,
			})
		}
	}
	return out
}
