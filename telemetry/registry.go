// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package telemetry

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics bundles the counters, gauges, and latency averager the
// agreement engine exposes through its metrics() point-in-time snapshot
// (spec §4.1, §6). All collectors are optionally registered against the
// supplied prometheus.Registerer; passing nil yields a fully functional,
// unregistered instance suitable for tests.
type EngineMetrics struct {
	ProposalsAccepted   *Counter
	ProposalsRejected   *Counter
	SequencesFinalized  *Counter
	ViewChanges         *Counter
	ViewChangesSuccess  *Counter
	MessagesDropped     *Counter
	ViolationsDetected  *Counter
	NodesBanned         *Counter
	SafetyHalts         *Counter
	CurrentView         *Gauge
	CurrentSequence     *Gauge
	PendingVertices     *Gauge
	FinalizationLatency Averager
}

// NewEngineMetrics constructs and registers the engine's metric set. reg
// may be nil, or any prometheus.Registerer including
// prometheus.NewRegistry() for test isolation.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	latency, err := NewAverager("aegisbft_finalization_latency_ms", "finalization latency in milliseconds", registererOrDiscard(reg))
	if err != nil {
		latency = &averager{}
	}
	return &EngineMetrics{
		ProposalsAccepted:   newCounter("aegisbft_proposals_accepted_total", "vertices accepted for ordering", reg),
		ProposalsRejected:   newCounter("aegisbft_proposals_rejected_total", "vertices rejected at propose time", reg),
		SequencesFinalized:  newCounter("aegisbft_sequences_finalized_total", "sequence numbers finalized", reg),
		ViewChanges:         newCounter("aegisbft_view_changes_total", "view-change episodes initiated", reg),
		ViewChangesSuccess:  newCounter("aegisbft_view_changes_completed_total", "view-change episodes that installed a new view", reg),
		MessagesDropped:     newCounter("aegisbft_messages_dropped_total", "inbound consensus messages dropped", reg),
		ViolationsDetected:  newCounter("aegisbft_violations_detected_total", "byzantine violations detected", reg),
		NodesBanned:         newCounter("aegisbft_nodes_banned_total", "nodes whose ban flag was set", reg),
		SafetyHalts:         newCounter("aegisbft_safety_halts_total", "sequences halted after a conflicting certificate was observed", reg),
		CurrentView:         newGauge("aegisbft_current_view", "current view number", reg),
		CurrentSequence:     newGauge("aegisbft_current_sequence", "highest finalized sequence number", reg),
		PendingVertices:     newGauge("aegisbft_pending_vertices", "vertices queued awaiting ordering", reg),
		FinalizationLatency: latency,
	}
}

// registererOrDiscard returns reg unchanged, or a fresh private registry
// when reg is nil, so NewAverager always has somewhere to register.
func registererOrDiscard(reg prometheus.Registerer) prometheus.Registerer {
	if reg != nil {
		return reg
	}
	return prometheus.NewRegistry()
}

// Snapshot is the immutable point-in-time view returned by the engine's
// metrics() operation.
type Snapshot struct {
	ProposalsAccepted  int64
	ProposalsRejected  int64
	SequencesFinalized int64
	ViewChanges        int64
	ViewChangesSuccess int64
	MessagesDropped    int64
	ViolationsDetected int64
	NodesBanned        int64
	SafetyHalts        int64
	CurrentView        uint64
	CurrentSequence    uint64
	PendingVertices    int
	AvgFinalizationMS  float64
}

func (m *EngineMetrics) Snapshot(view, sequence uint64, pending int) Snapshot {
	return Snapshot{
		ProposalsAccepted:  m.ProposalsAccepted.Read(),
		ProposalsRejected:  m.ProposalsRejected.Read(),
		SequencesFinalized: m.SequencesFinalized.Read(),
		ViewChanges:        m.ViewChanges.Read(),
		ViewChangesSuccess: m.ViewChangesSuccess.Read(),
		MessagesDropped:    m.MessagesDropped.Read(),
		ViolationsDetected: m.ViolationsDetected.Read(),
		NodesBanned:        m.NodesBanned.Read(),
		SafetyHalts:        m.SafetyHalts.Read(),
		CurrentView:        view,
		CurrentSequence:    sequence,
		PendingVertices:    pending,
		AvgFinalizationMS:  m.FinalizationLatency.Read(),
	}
}
