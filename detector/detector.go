// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package detector

import (
	"github.com/aegisbft/consensus/config"
	"github.com/aegisbft/consensus/ids"
)

// PenaltiesFromConfig maps the Reputation* tuning fields of a Parameters
// value onto a Penalties table.
func PenaltiesFromConfig(p config.Parameters) Penalties {
	return Penalties{
		Initial:      p.ReputationInitial,
		BanThreshold: p.ReputationBanThreshold,
		Equivocation: p.ReputationPenaltyEquivocation,
		InvalidSig:   p.ReputationPenaltyInvalidSig,
		Timeout:      p.ReputationPenaltyTimeout,
		Protocol:     p.ReputationPenaltyProtocol,
		NonParticip:  p.ReputationPenaltyNonParticipation,
		RecoveryStep: p.ReputationRecoveryIncrement,
	}
}

// Violation is one detected fault, emitted on the Detector's event
// channel for external policy consumers (spec §4.4 "push violation
// event" / spec §6 PolicyConsumer).
type Violation struct {
	Node      ids.NodeID
	Kind      ViolationKind
	Sequence  uint64
	Evidence  string
	NowBanned bool
}

// Detector ties the equivocation cache and reputation table together and
// classifies raw observations into violations (spec §4.4).
type Detector struct {
	reputation *Table
	equivCache *equivocationCache
	events     chan Violation
}

// New constructs a Detector. windowSize bounds the equivocation cache's
// retained sequence span (spec §4.4 "bounded by recent sequence
// window").
func New(penalties Penalties, windowSize uint64) *Detector {
	return &Detector{
		reputation: NewTable(penalties),
		equivCache: newEquivocationCache(windowSize),
		events:     make(chan Violation, 256),
	}
}

// Events returns the channel violations are pushed to. Consumers must
// drain it; the channel is buffered but not unbounded.
func (d *Detector) Events() <-chan Violation {
	return d.events
}

// ObserveVote checks a (node, sequence) vote for equivocation against
// the cache. If node already voted a distinct digest for sequence, the
// violation is recorded against reputation and emitted.
func (d *Detector) ObserveVote(node ids.NodeID, sequence uint64, digest ids.ID) {
	if d.equivCache.observe(node, sequence, digest) {
		return
	}
	d.report(node, Equivocation, sequence, "conflicting digest for same sequence")
}

// ReportInvalidSignature records an invalid-signature violation (spec
// §4.4 kind 2).
func (d *Detector) ReportInvalidSignature(node ids.NodeID, sequence uint64) {
	d.report(node, InvalidSignature, sequence, "signature verification failed")
}

// ReportTimeout records a timeout violation (spec §4.4 kind 3): node
// failed to respond within the phase deadline.
func (d *Detector) ReportTimeout(node ids.NodeID, sequence uint64) {
	d.report(node, TimeoutViolation, sequence, "phase deadline exceeded")
}

// ReportProtocolViolation records a malformed or out-of-order message
// (spec §4.4 kind 4).
func (d *Detector) ReportProtocolViolation(node ids.NodeID, sequence uint64, evidence string) {
	d.report(node, ProtocolViolation, sequence, evidence)
}

// ReportNonParticipation records a silent node across a window of
// sequences (spec §4.4 kind 5).
func (d *Detector) ReportNonParticipation(node ids.NodeID, sequence uint64) {
	d.report(node, NonParticipation, sequence, "no messages observed in window")
}

func (d *Detector) report(node ids.NodeID, kind ViolationKind, sequence uint64, evidence string) {
	nowBanned := d.reputation.Penalize(node, kind)
	v := Violation{Node: node, Kind: kind, Sequence: sequence, Evidence: evidence, NowBanned: nowBanned}
	select {
	case d.events <- v:
	default:
		// Buffer full: the violation is still reflected in the
		// reputation table, which is the source of truth; the event
		// stream is best-effort notification only.
	}
}

// RecordParticipation credits node for participating in a successful
// finalization.
func (d *Detector) RecordParticipation(node ids.NodeID) {
	d.reputation.RecordParticipation(node)
}

// IsBanned reports whether node is currently banned.
func (d *Detector) IsBanned(node ids.NodeID) bool {
	return d.reputation.IsBanned(node)
}

// Reset clears node's violation history (spec §4.4 "manual reset").
func (d *Detector) Reset(node ids.NodeID) {
	d.reputation.Reset(node)
	d.equivCache.forget(node)
}

// Report returns the current reputation snapshot for node.
func (d *Detector) Report(node ids.NodeID) Report {
	return d.reputation.ReportFor(node)
}

// AdvanceWindow tells the equivocation cache the current low watermark,
// letting it drop vote history for sequences that can no longer be
// equivocated against.
func (d *Detector) AdvanceWindow(lowWatermark uint64) {
	d.equivCache.advance(lowWatermark)
}
