// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/msglog"
)

// viewChangeState tracks the in-flight view-change episode, if any. It
// is owned exclusively by the actor goroutine, same as sequenceState.
type viewChangeState struct {
	targetView uint64 // 0 means no episode in flight
	received   map[ids.NodeID]Message
	timer      *time.Timer
	attempts   int
}

func newViewChangeState() *viewChangeState {
	return &viewChangeState{received: make(map[ids.NodeID]Message)}
}

func (vc *viewChangeState) reset() {
	if vc.timer != nil {
		vc.timer.Stop()
		vc.timer = nil
	}
	vc.targetView = 0
	vc.received = make(map[ids.NodeID]Message)
	vc.attempts = 0
}

// armViewChange starts (or is a no-op if already running) the episode
// that rotates to view+1, per spec §4.5: every non-committed sequence
// is moved to view-changing, a signed view-change carrying the last
// finalized sequence and this replica's prepared certificates is
// broadcast, and a backed-off timer is armed to retry.
func (e *Engine) armViewChange(ctx context.Context, reason string) {
	target := e.view + 1
	if e.vc.targetView == target {
		return // already changing to this view
	}
	e.vc.reset()
	e.vc.targetView = target

	for _, s := range e.sequences {
		if s.stage != Committed {
			s.stopTimer()
			s.advance(ViewChanging)
		}
	}

	msg := Message{
		Kind:            KindViewChange,
		View:            target,
		Node:            e.self,
		TimestampMillis: nowMillis(),
		LastFinalized:   e.lowWatermark,
		Certificates:    e.collectPreparedCertificates(),
	}
	e.sign(&msg)
	e.vc.received[e.self] = msg

	if e.metrics != nil {
		e.metrics.ViewChanges.Inc()
	}
	e.logger.Info("initiating view-change", zap.Uint64("target-view", target), zap.String("reason", reason))
	e.broadcast.Broadcast(msg)
	e.armViewChangeTimer(ctx, target)
}

// collectPreparedCertificates builds the safety evidence this replica
// carries into a new view: one certificate per sequence it has reached
// at least `prepared` on, backed by the message log's recorded
// preparers.
func (e *Engine) collectPreparedCertificates() []PreparedCertificate {
	bySeq := make(map[uint64]*PreparedCertificate, len(e.sequences))
	for seq, s := range e.sequences {
		if s.stage != Prepared && s.stage != Committed {
			continue
		}
		bySeq[seq] = &PreparedCertificate{View: s.view, Sequence: seq, Digest: s.digest}
	}

	// e.log.Snapshot() is the message log's own "snapshot for view-change
	// packaging" operation (spec §4.6); filtering it down to the prepare
	// entries matching each qualifying sequence's (view, digest) is what
	// fills in each certificate's Prepares, the list of nodes whose
	// prepare actually backs the certificate.
	for _, entry := range e.log.Snapshot() {
		if entry.Kind != msglog.Prepare {
			continue
		}
		cert, ok := bySeq[entry.Sequence]
		if !ok || entry.View != cert.View || entry.Digest != cert.Digest {
			continue
		}
		cert.Prepares = append(cert.Prepares, Message{
			Kind:     KindPrepare,
			View:     entry.View,
			Sequence: entry.Sequence,
			Digest:   entry.Digest,
			Node:     entry.Node,
		})
	}

	certs := make([]PreparedCertificate, 0, len(bySeq))
	for _, cert := range bySeq {
		certs = append(certs, *cert)
	}
	return certs
}

func (e *Engine) armViewChangeTimer(ctx context.Context, view uint64) {
	backoff := e.cfg.ViewChangeBaseTimeout
	factor := e.cfg.ViewChangeBackoffFactor
	if factor <= 0 {
		factor = 1
	}
	for i := 0; i < e.vc.attempts; i++ {
		backoff = time.Duration(float64(backoff) * factor)
	}
	e.vc.timer = time.AfterFunc(backoff, func() {
		e.postVCTimeout(ctx, view)
	})
}

func (e *Engine) postVCTimeout(ctx context.Context, view uint64) {
	select {
	case e.commands <- command{vcTimeout: &view}:
	case <-ctx.Done():
	default:
	}
}

// handleViewChangeTimeout retries the view-change broadcast with
// exponential backoff when a new-view has not yet formed (spec §4.5
// "default 2s, exponentially backed off per view").
func (e *Engine) handleViewChangeTimeout(ctx context.Context, view uint64) {
	if e.vc.targetView != view {
		return // episode already resolved or superseded
	}
	e.vc.attempts++
	e.logger.Debug("view-change timer fired, retrying", zap.Uint64("target-view", view), zap.Int("attempt", e.vc.attempts))
	e.broadcast.Broadcast(e.vc.received[e.self])
	e.armViewChangeTimer(ctx, view)
}

// onViewChange accumulates view-change votes for the in-flight episode.
// Once 2f+1 are collected and this replica is the new view's leader, it
// constructs and broadcasts a new-view message (spec §4.5 step 2).
func (e *Engine) onViewChange(ctx context.Context, msg Message) {
	if msg.View <= e.view {
		return // stale
	}
	if !e.verifySignature(msg) {
		e.detector.ReportInvalidSignature(msg.Node, 0)
		return
	}
	if e.vc.targetView != msg.View {
		if e.vc.targetView != 0 {
			return // mid-episode for a different target; ignore for now
		}
		e.armViewChange(ctx, "observed peer view-change")
	}
	if _, seen := e.vc.received[msg.Node]; !seen {
		e.vc.received[msg.Node] = msg
	}

	if len(e.vc.received) < e.cfg.Quorum() {
		return
	}
	if e.membership.Leader(msg.View) != e.self {
		return
	}

	newView := e.buildNewView(msg.View)
	e.broadcast.Broadcast(newView)
	e.applyNewView(newView)
}

// buildNewView assembles the re-proposed pre-prepares for sequences
// above the collected view-changes' base: the vertex from the
// highest-view prepared certificate observed for that sequence, or a
// null placeholder when no certificate exists (spec §4.5 step 2).
func (e *Engine) buildNewView(view uint64) Message {
	vcs := make([]Message, 0, len(e.vc.received))
	best := make(map[uint64]PreparedCertificate)
	for _, m := range e.vc.received {
		vcs = append(vcs, m)
		for _, cert := range m.Certificates {
			prior, ok := best[cert.Sequence]
			if !ok || cert.View > prior.View {
				best[cert.Sequence] = cert
			}
		}
	}

	repropose := make([]Message, 0, len(best))
	for seq, cert := range best {
		var vertex *dag.Vertex
		if s, ok := e.sequences[seq]; ok {
			vertex = s.vertex
		}
		pp := Message{
			Kind:            KindPrePrepare,
			View:            view,
			Sequence:        seq,
			Digest:          cert.Digest,
			Node:            e.self,
			TimestampMillis: nowMillis(),
			Vertex:          vertex,
		}
		e.sign(&pp)
		repropose = append(repropose, pp)
	}

	newView := Message{
		Kind:            KindNewView,
		View:            view,
		Node:            e.self,
		TimestampMillis: nowMillis(),
		ViewChanges:     vcs,
		RePropose:       repropose,
	}
	e.sign(&newView)
	return newView
}

// onNewView validates and applies an incoming new-view, adopting the
// new view and resuming the three-phase protocol for its re-proposed
// sequences (spec §4.5 step 3).
func (e *Engine) onNewView(ctx context.Context, msg Message) {
	if msg.View <= e.view {
		return
	}
	if e.membership.Leader(msg.View) != msg.Node {
		e.detector.ReportProtocolViolation(msg.Node, 0, "new-view from non-leader")
		return
	}
	if !e.verifySignature(msg) {
		e.detector.ReportInvalidSignature(msg.Node, 0)
		return
	}
	if len(msg.ViewChanges) < e.cfg.Quorum() {
		return
	}
	e.applyNewView(msg)
}

func (e *Engine) applyNewView(msg Message) {
	e.vc.reset()
	e.view = msg.View
	if e.nextSequence <= e.lowWatermark {
		e.nextSequence = e.lowWatermark + 1
	}

	if e.metrics != nil {
		e.metrics.ViewChangesSuccess.Inc()
		e.metrics.CurrentView.Set(float64(e.view))
	}

	for _, pp := range msg.RePropose {
		if !e.verifySignature(pp) {
			e.detector.ReportInvalidSignature(pp.Node, pp.Sequence)
			continue
		}
		state, exists := e.sequences[pp.Sequence]
		if !exists {
			state = newSequenceState(pp.Sequence, e.view)
			e.sequences[pp.Sequence] = state
		}
		if state.stage == Committed && state.digest != pp.Digest {
			e.safetyHalt(pp.Sequence, "new-view reproposes a different digest for an already-finalized sequence")
			continue // this sequence's finalized decision stands; other reproposals still apply
		}
		state.view = e.view
		state.stage = Idle
		state.vertex = pp.Vertex
		state.digest = pp.Digest
		state.prePrepareFrom = msg.Node
		state.advance(PrePrepared)

		if pp.Sequence >= e.nextSequence {
			e.nextSequence = pp.Sequence + 1
		}

		prepare := Message{
			Kind:            KindPrepare,
			View:            e.view,
			Sequence:        pp.Sequence,
			Digest:          pp.Digest,
			Node:            e.self,
			TimestampMillis: nowMillis(),
		}
		e.sign(&prepare)
		e.log.Add(prepare.View, prepare.Sequence, msglog.Prepare, e.self, prepare.Digest)
		e.broadcast.Broadcast(prepare)
	}
}
