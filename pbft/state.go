// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"time"

	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/ids"
)

// Stage is the per-sequence state, monotonically advancing except for
// view-change, which aborts advancement and hands control to the
// view-change subsystem.
type Stage int

const (
	Idle Stage = iota
	PrePrepared
	Prepared
	Committed
	ViewChanging
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case PrePrepared:
		return "pre-prepared"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	case ViewChanging:
		return "view-changing"
	default:
		return "unknown"
	}
}

// before reports whether s precedes other in the monotonic ordering
// idle < pre-prepared < prepared < committed. view-changing is not
// ordered against the others; it is a side excursion.
func (s Stage) before(other Stage) bool {
	return s < other
}

// ReplyOutcome is what a Propose call's reply channel receives: success
// with the assigned sequence number, or a classified failure (spec §4.1
// `propose`).
type ReplyOutcome struct {
	Sequence uint64
	Digest   ids.ID
	Err      error
}

// sequenceState is the mutable per-sequence record the actor owns
// exclusively; no lock is needed since only the actor goroutine ever
// touches it (spec §5: transitions serialized by the actor's
// single-threaded execution).
type sequenceState struct {
	sequence uint64
	stage    Stage
	view     uint64

	vertex *dag.Vertex
	digest ids.ID

	prePrepareFrom ids.NodeID
	replyCh        chan<- ReplyOutcome

	timer        *time.Timer
	timerStart   time.Time
	prePrepareAt time.Time
}

func newSequenceState(sequence, view uint64) *sequenceState {
	return &sequenceState{sequence: sequence, view: view, stage: Idle}
}

// advance moves the sequence to next if next is strictly later in the
// monotonic order, per spec §5's ordering guarantee. view-changing is
// always an allowed transition, from any stage.
func (s *sequenceState) advance(next Stage) bool {
	if next == ViewChanging {
		s.stage = ViewChanging
		return true
	}
	if s.stage.before(next) {
		s.stage = next
		return true
	}
	return false
}

func (s *sequenceState) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
