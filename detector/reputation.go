// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package detector implements Byzantine fault detection and the
// reputation ledger of spec §4.4: equivocation, invalid-signature,
// timeout, protocol, and non-participation violations decay a node's
// trust score; a score below the ban threshold sets the ban flag.
// Reputation recovers linearly with participation in finalizations.
package detector

import (
	"sync"
	"time"

	"github.com/aegisbft/consensus/ids"
)

// ViolationKind enumerates the five Byzantine fault kinds of spec §4.4.
type ViolationKind int

const (
	Equivocation ViolationKind = iota
	InvalidSignature
	TimeoutViolation
	ProtocolViolation
	NonParticipation
)

func (k ViolationKind) String() string {
	switch k {
	case Equivocation:
		return "equivocation"
	case InvalidSignature:
		return "invalid-signature"
	case TimeoutViolation:
		return "timeout-violation"
	case ProtocolViolation:
		return "protocol-violation"
	case NonParticipation:
		return "non-participation"
	default:
		return "unknown"
	}
}

// Penalties configures the reputation decay applied per violation kind
// and the recovery increment per successful finalization participation,
// plus the ban threshold. Defaults are chosen, per spec §4.4, so that
// "one equivocation bans immediately while three missed timeouts do
// not": with ReputationInitial=1.0, BanThreshold=0.3, a single
// Equivocation penalty of 1.0 always bans; three Timeout penalties of
// 0.05 leave 0.85, well above threshold.
type Penalties struct {
	Initial      float64
	BanThreshold float64
	Equivocation float64
	InvalidSig   float64
	Timeout      float64
	Protocol     float64
	NonParticip  float64
	RecoveryStep float64
}

// DefaultPenalties returns the balance described in spec §4.4 and §8.
func DefaultPenalties() Penalties {
	return Penalties{
		Initial:      1.0,
		BanThreshold: 0.3,
		Equivocation: 1.0,
		InvalidSig:   1.0,
		Timeout:      0.05,
		Protocol:     0.2,
		NonParticip:  0.05,
		RecoveryStep: 0.01,
	}
}

func (p Penalties) penaltyFor(kind ViolationKind) float64 {
	switch kind {
	case Equivocation:
		return p.Equivocation
	case InvalidSignature:
		return p.InvalidSig
	case TimeoutViolation:
		return p.Timeout
	case ProtocolViolation:
		return p.Protocol
	case NonParticipation:
		return p.NonParticip
	default:
		return 0
	}
}

// record is one node's mutable reputation state.
type record struct {
	mu                    sync.Mutex
	score                 float64
	consecutiveViolations int
	banned                bool
	lastActivity          time.Time
	violationCounts       [5]uint64
	totalEvidence         uint64
}

// Table is the concurrent reputation ledger: one record per node,
// backed by a fine-grained sync.Map per spec §5's shared-resource
// policy ("reputation table... use fine-grained per-key concurrent maps
// to allow parallel updates by detector and engine").
type Table struct {
	penalties Penalties
	records   sync.Map // ids.NodeID -> *record
}

func NewTable(penalties Penalties) *Table {
	return &Table{penalties: penalties}
}

func (t *Table) recordFor(node ids.NodeID) *record {
	if r, ok := t.records.Load(node); ok {
		return r.(*record)
	}
	r := &record{score: t.penalties.Initial, lastActivity: time.Now()}
	actual, _ := t.records.LoadOrStore(node, r)
	return actual.(*record)
}

// Penalize decays node's reputation for a detected violation kind and
// returns whether the ban flag transitioned from false to true.
func (t *Table) Penalize(node ids.NodeID, kind ViolationKind) (nowBanned bool) {
	r := t.recordFor(node)
	r.mu.Lock()
	defer r.mu.Unlock()

	wasBanned := r.banned
	r.score -= t.penalties.penaltyFor(kind)
	if r.score < 0 {
		r.score = 0
	}
	r.consecutiveViolations++
	r.violationCounts[kind]++
	r.totalEvidence++
	r.lastActivity = time.Now()
	if r.score < t.penalties.BanThreshold {
		r.banned = true
	}
	return r.banned && !wasBanned
}

// RecordParticipation applies the small positive reputation increment
// for participating in a successful finalization, and resets the
// consecutive-violation counter.
func (t *Table) RecordParticipation(node ids.NodeID) {
	r := t.recordFor(node)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.score += t.penalties.RecoveryStep
	if r.score > 1.0 {
		r.score = 1.0
	}
	r.consecutiveViolations = 0
	r.lastActivity = time.Now()
	if r.banned && r.score >= t.penalties.BanThreshold {
		r.banned = false
	}
}

// Reset manually clears a node's violation history and ban flag,
// restoring its initial reputation (spec §8 "after manual reset").
func (t *Table) Reset(node ids.NodeID) {
	r := t.recordFor(node)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.score = t.penalties.Initial
	r.consecutiveViolations = 0
	r.banned = false
	r.violationCounts = [5]uint64{}
	r.totalEvidence = 0
}

// Score returns node's current reputation score.
func (t *Table) Score(node ids.NodeID) float64 {
	r := t.recordFor(node)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// IsBanned reports whether node's ban flag is set.
func (t *Table) IsBanned(node ids.NodeID) bool {
	r := t.recordFor(node)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.banned
}

// Report is the point-in-time summary for a single node (spec §4.4
// "Query reputation" external operation).
type Report struct {
	NodeID                ids.NodeID
	Score                 float64
	Banned                bool
	ConsecutiveViolations int
	ViolationCounts       map[string]uint64
	TotalEvidence         uint64
	LastActivity          time.Time
}

// ReportFor returns the current snapshot for node.
func (t *Table) ReportFor(node ids.NodeID) Report {
	r := t.recordFor(node)
	r.mu.Lock()
	defer r.mu.Unlock()
	return Report{
		NodeID:                node,
		Score:                 r.score,
		Banned:                r.banned,
		ConsecutiveViolations: r.consecutiveViolations,
		ViolationCounts:       violationCountsToMap(r.violationCounts),
		TotalEvidence:         r.totalEvidence,
		LastActivity:          r.lastActivity,
	}
}

func violationCountsToMap(counts [5]uint64) map[string]uint64 {
	out := make(map[string]uint64, 5)
	for i, c := range counts {
		out[ViolationKind(i).String()] = c
	}
	return out
}
