// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pbft implements the three-phase agreement engine and the
// view-change/leader-election subsystem that rotates leaders when
// progress stalls. The engine is realized as a single-consumer actor: a
// goroutine owning all per-sequence state transitions, draining a
// buffered command channel fed by Propose/HandleMessage.
package pbft

import (
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/ids"
)

// Kind tags the five ConsensusMessage variants as a closed sum type;
// dispatch is by tag, never by polymorphic type assertion chains.
type Kind int

const (
	KindPrePrepare Kind = iota
	KindPrepare
	KindCommit
	KindViewChange
	KindNewView
)

func (k Kind) String() string {
	switch k {
	case KindPrePrepare:
		return "pre-prepare"
	case KindPrepare:
		return "prepare"
	case KindCommit:
		return "commit"
	case KindViewChange:
		return "view-change"
	case KindNewView:
		return "new-view"
	default:
		return "unknown"
	}
}

// Message is the tagged union of every wire message the engine
// exchanges. Every variant carries (view, sequence, digest, node,
// signature, timestamp); pre-prepare additionally carries the full
// vertex; view-change carries the sender's last finalized sequence and
// its prepared certificates; new-view carries the quorum of
// view-change messages and the re-proposed pre-prepares.
type Message struct {
	Kind      Kind
	View      uint64
	Sequence  uint64
	Digest    ids.ID
	Node      ids.NodeID
	Signature []byte
	TimestampMillis int64

	// Vertex is populated only for KindPrePrepare.
	Vertex *dag.Vertex

	// LastFinalized and Certificates are populated only for
	// KindViewChange.
	LastFinalized uint64
	Certificates  []PreparedCertificate

	// ViewChanges and RePropose are populated only for KindNewView.
	ViewChanges []Message
	RePropose   []Message
}

// SignedPayload returns the byte content a Message's Signature commits
// to: everything except the signature itself, so verification never
// signs over its own signature field.
func (m Message) SignedPayload() []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint64(buf, uint64(m.Kind))
	buf = appendUint64(buf, m.View)
	buf = appendUint64(buf, m.Sequence)
	buf = append(buf, m.Digest[:]...)
	buf = append(buf, m.Node[:]...)
	buf = appendUint64(buf, uint64(m.TimestampMillis))
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * (7 - i)))
	}
	return append(buf, tmp[:]...)
}

// PreparedCertificate is the proof that 2f+1 distinct nodes prepared a
// given (view, sequence, digest): the safety anchor carried forward by
// view-change messages.
type PreparedCertificate struct {
	View     uint64
	Sequence uint64
	Digest   ids.ID
	Prepares []Message
}
