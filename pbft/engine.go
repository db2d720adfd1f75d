// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pbft

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aegisbft/consensus/config"
	"github.com/aegisbft/consensus/consensuserr"
	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/detector"
	"github.com/aegisbft/consensus/ids"
	"github.com/aegisbft/consensus/msglog"
	"github.com/aegisbft/consensus/parallel"
	"github.com/aegisbft/consensus/telemetry"
)

// command is the single type flowing through the actor's inbox: exactly
// one of its fields is set.
type command struct {
	propose    *proposeCmd
	message    *Message
	seqTimeout *uint64
	vcTimeout  *uint64
}

type proposeCmd struct {
	vertex *dag.Vertex
	reply  chan<- ReplyOutcome
}

// Engine drives each sequence number from idle to committed, per spec
// §4.1: a single-consumer actor owning all per-sequence state.
type Engine struct {
	cfg        config.Parameters
	self       ids.NodeID
	privateKey crypto.PrivateKey
	membership *Membership
	graph      *dag.Graph
	log        *msglog.Log
	detector   *detector.Detector
	validator  *parallel.Validator
	metrics    *telemetry.EngineMetrics
	logger     *zap.Logger
	broadcast  Broadcaster

	finalizations chan Finalization
	violations    chan detector.Violation
	commands      chan command

	// atomics: safe to read from Metrics() off the actor goroutine.
	atomicView      atomic.Uint64
	atomicWatermark atomic.Uint64
	atomicPending   atomic.Int64

	// owned exclusively by the actor goroutine once run() starts
	sequences     map[uint64]*sequenceState
	view          uint64
	lowWatermark  uint64
	nextSequence  uint64
	vc            *viewChangeState
	absenceStreak map[ids.NodeID]int

	cancel context.CancelFunc
}

// New constructs an Engine. logger may be nil (a no-op logger is used).
func New(
	cfg config.Parameters,
	self ids.NodeID,
	key crypto.PrivateKey,
	membership *Membership,
	graph *dag.Graph,
	log *msglog.Log,
	det *detector.Detector,
	validator *parallel.Validator,
	metrics *telemetry.EngineMetrics,
	broadcast Broadcaster,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcast == nil {
		broadcast = discardBroadcaster{}
	}
	return &Engine{
		cfg:           cfg,
		self:          self,
		privateKey:    key,
		membership:    membership,
		graph:         graph,
		log:           log,
		detector:      det,
		validator:     validator,
		metrics:       metrics,
		logger:        logger.Named("pbft"),
		broadcast:     broadcast,
		finalizations: make(chan Finalization, cfg.MaxPendingVertices),
		violations:    make(chan detector.Violation, cfg.MaxPendingVertices),
		commands:      make(chan command, cfg.MaxPendingVertices),
		sequences:     make(map[uint64]*sequenceState),
		vc:            newViewChangeState(),
		absenceStreak: make(map[ids.NodeID]int),
	}
}

// Finalizations returns the stream of committed sequences (spec §6
// "finalization stream").
func (e *Engine) Finalizations() <-chan Finalization {
	return e.finalizations
}

// Start runs the actor loop until ctx is canceled. It returns once the
// actor goroutine exits; a panic inside the actor is surfaced through
// the returned error by errgroup rather than crashing the process.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		e.run(gctx)
		return nil
	})
	g.Go(func() error {
		e.watchViolations(gctx)
		return nil
	})
	return g.Wait()
}

// watchViolations drains the detector's event stream, keeps the
// violations-detected and nodes-banned counters live (spec §4.4: the
// detector only tracks reputation, it never touches telemetry itself),
// and forwards each violation to this engine's own stream for operators
// (spec §6 "Operators see detector events").
func (e *Engine) watchViolations(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-e.detector.Events():
			if !ok {
				return
			}
			if e.metrics != nil {
				e.metrics.ViolationsDetected.Inc()
				if v.NowBanned {
					e.metrics.NodesBanned.Inc()
				}
			}
			select {
			case e.violations <- v:
			default:
				e.logger.Warn("violation consumer lagging, dropped", zap.Uint64("sequence", v.Sequence), zap.String("node", v.Node.ShortString()))
			}
		}
	}
}

// Violations returns the stream of byzantine-violation events, annotated
// into telemetry as they pass through (spec §6 "Operators see detector
// events").
func (e *Engine) Violations() <-chan detector.Violation {
	return e.violations
}

// Stop cancels the actor loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Propose submits a vertex for ordering (spec §4.1 `propose`). It
// succeeds only when queued; leader-check and back-pressure are applied
// on the actor goroutine. reply receives the finalization outcome
// asynchronously; abandoning it is fire-and-forget (finalization still
// proceeds).
func (e *Engine) Propose(ctx context.Context, vertex *dag.Vertex, reply chan<- ReplyOutcome) error {
	cmd := command{propose: &proposeCmd{vertex: vertex, reply: reply}}
	select {
	case e.commands <- cmd:
		return nil
	case <-ctx.Done():
		return consensuserr.Timeout()
	default:
		return consensuserr.Overloaded()
	}
}

// HandleMessage ingests an inbound consensus message (spec §4.1
// `handle_message`). It returns once the message is queued; state
// transitions happen asynchronously on the actor goroutine, never
// blocking the caller on I/O.
func (e *Engine) HandleMessage(msg Message) error {
	select {
	case e.commands <- command{message: &msg}:
		return nil
	default:
		if e.metrics != nil {
			e.metrics.MessagesDropped.Inc()
		}
		return consensuserr.Overloaded()
	}
}

// Members returns the ordered membership list this engine's leader
// function indexes into (spec §6: a host may want to inspect or display
// the active replica set).
func (e *Engine) Members() []ids.NodeID {
	return e.membership.Nodes()
}

// MembershipSize returns the number of replicas in the configured
// membership.
func (e *Engine) MembershipSize() int {
	return e.membership.Size()
}

// Metrics returns a point-in-time snapshot (spec §4.1 `metrics`).
func (e *Engine) Metrics() telemetry.Snapshot {
	if e.metrics == nil {
		return telemetry.Snapshot{}
	}
	return e.metrics.Snapshot(e.atomicView.Load(), e.atomicWatermark.Load(), int(e.atomicPending.Load()))
}

// run is the actor loop: the only goroutine that ever reads or writes
// e.sequences, e.view, e.lowWatermark (spec §5 single-threaded
// execution serializes all per-sequence transitions).
func (e *Engine) run(ctx context.Context) {
	e.nextSequence = e.lowWatermark + 1
	for {
		select {
		case <-ctx.Done():
			e.closeAll()
			return
		case cmd := <-e.commands:
			e.dispatch(ctx, cmd)
			e.syncAtomics()
		}
	}
}

func (e *Engine) syncAtomics() {
	e.atomicView.Store(e.view)
	e.atomicWatermark.Store(e.lowWatermark)
	e.atomicPending.Store(int64(len(e.sequences)))
}

func (e *Engine) closeAll() {
	for _, s := range e.sequences {
		s.stopTimer()
		if s.replyCh != nil {
			trySend(s.replyCh, ReplyOutcome{Err: consensuserr.NotRunning()})
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, cmd command) {
	switch {
	case cmd.propose != nil:
		e.handlePropose(ctx, cmd.propose)
	case cmd.message != nil:
		e.handleConsensusMessage(ctx, *cmd.message)
	case cmd.seqTimeout != nil:
		e.handleSeqTimeout(ctx, *cmd.seqTimeout)
	case cmd.vcTimeout != nil:
		e.handleViewChangeTimeout(ctx, *cmd.vcTimeout)
	}
}

func (e *Engine) handlePropose(ctx context.Context, p *proposeCmd) {
	leader := e.membership.Leader(e.view)
	if leader != e.self {
		if e.metrics != nil {
			e.metrics.ProposalsRejected.Inc()
		}
		trySend(p.reply, ReplyOutcome{Err: consensuserr.NotLeader(leader)})
		return
	}
	if len(e.sequences) >= e.cfg.MaxPendingVertices {
		if e.metrics != nil {
			e.metrics.ProposalsRejected.Inc()
		}
		trySend(p.reply, ReplyOutcome{Err: consensuserr.Overloaded()})
		return
	}

	seq := e.nextSequence
	e.nextSequence++

	digest := p.vertex.Recompute()
	state := newSequenceState(seq, e.view)
	state.vertex = p.vertex
	state.digest = digest
	state.prePrepareFrom = e.self
	state.replyCh = p.reply
	state.prePrepareAt = time.Now()
	e.sequences[seq] = state

	pp := Message{
		Kind:            KindPrePrepare,
		View:            e.view,
		Sequence:        seq,
		Digest:          digest,
		Node:            e.self,
		TimestampMillis: nowMillis(),
		Vertex:          p.vertex,
	}
	e.sign(&pp)
	e.log.Add(pp.View, pp.Sequence, msglog.PrePrepare, e.self, digest)
	state.advance(PrePrepared)
	e.armTimer(ctx, state)

	if e.metrics != nil {
		e.metrics.ProposalsAccepted.Inc()
	}
	e.broadcast.Broadcast(pp)
	e.logger.Debug("pre-prepare broadcast", zap.Uint64("view", e.view), zap.Uint64("sequence", seq), zap.String("digest", digest.String()))
}

func (e *Engine) handleConsensusMessage(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindPrePrepare:
		e.onPrePrepare(ctx, msg)
	case KindPrepare:
		e.onPrepare(ctx, msg)
	case KindCommit:
		e.onCommit(msg)
	case KindViewChange:
		e.onViewChange(ctx, msg)
	case KindNewView:
		e.onNewView(ctx, msg)
	}
}

// onPrePrepare implements the replica side of spec §4.1 step 2: verify,
// validate the vertex, reject conflicting digests, otherwise broadcast
// a prepare.
func (e *Engine) onPrePrepare(ctx context.Context, msg Message) {
	if msg.View != e.view {
		return // protocol violation: wrong view, discard
	}
	if msg.Sequence <= e.lowWatermark || msg.Sequence > e.lowWatermark+e.cfg.WatermarkWindow {
		return // back-pressure: outside watermark window
	}
	leader := e.membership.Leader(msg.View)
	if msg.Node != leader {
		e.detector.ReportProtocolViolation(msg.Node, msg.Sequence, "pre-prepare from non-leader")
		return
	}
	if !e.verifySignature(msg) {
		e.detector.ReportInvalidSignature(msg.Node, msg.Sequence)
		return
	}

	if !e.validateVertex(ctx, msg) {
		e.detector.ReportInvalidSignature(msg.Node, msg.Sequence)
		return
	}

	e.detector.ObserveVote(msg.Node, msg.Sequence, msg.Digest)
	if e.detector.IsBanned(msg.Node) {
		return // counted for detection above, discarded before any state transition
	}
	ok, equivocated := e.log.Add(msg.View, msg.Sequence, msglog.PrePrepare, msg.Node, msg.Digest)
	if equivocated {
		e.armViewChange(ctx, "leader equivocation")
		return
	}
	if !ok {
		return
	}

	state, exists := e.sequences[msg.Sequence]
	if !exists {
		state = newSequenceState(msg.Sequence, msg.View)
		e.sequences[msg.Sequence] = state
	}
	if state.stage == Committed && state.digest != msg.Digest {
		e.safetyHalt(msg.Sequence, "conflicting pre-prepare digest for an already-finalized sequence")
		return
	}
	if state.stage != Idle {
		return // duplicate pre-prepare already processed
	}

	state.vertex = msg.Vertex
	state.digest = msg.Digest
	state.prePrepareFrom = msg.Node
	state.prePrepareAt = time.Now()
	state.advance(PrePrepared)
	e.armTimer(ctx, state)

	prepare := Message{
		Kind:            KindPrepare,
		View:            msg.View,
		Sequence:        msg.Sequence,
		Digest:          msg.Digest,
		Node:            e.self,
		TimestampMillis: nowMillis(),
	}
	e.sign(&prepare)
	e.log.Add(prepare.View, prepare.Sequence, msglog.Prepare, e.self, prepare.Digest)
	e.broadcast.Broadcast(prepare)
}

// onPrepare implements spec §4.1 step 3: on 2f+1 matching prepares,
// broadcast a commit.
func (e *Engine) onPrepare(ctx context.Context, msg Message) {
	if msg.View != e.view {
		return
	}
	if !e.verifySignature(msg) {
		e.detector.ReportInvalidSignature(msg.Node, msg.Sequence)
		return
	}
	e.detector.ObserveVote(msg.Node, msg.Sequence, msg.Digest)
	if e.detector.IsBanned(msg.Node) {
		return
	}
	ok, equivocated := e.log.Add(msg.View, msg.Sequence, msglog.Prepare, msg.Node, msg.Digest)
	if equivocated {
		return
	}
	if !ok {
		return
	}

	state, exists := e.sequences[msg.Sequence]
	if !exists || state.stage != PrePrepared {
		return
	}
	if !e.log.QuorumReached(msg.View, msg.Sequence, msglog.Prepare, msg.Digest, e.cfg.Quorum()) {
		return
	}

	state.advance(Prepared)
	commit := Message{
		Kind:            KindCommit,
		View:            msg.View,
		Sequence:        msg.Sequence,
		Digest:          msg.Digest,
		Node:            e.self,
		TimestampMillis: nowMillis(),
	}
	e.sign(&commit)
	e.log.Add(commit.View, commit.Sequence, msglog.Commit, e.self, commit.Digest)
	e.broadcast.Broadcast(commit)
}

// onCommit implements spec §4.1 step 4: on 2f+1 matching commits,
// finalize.
func (e *Engine) onCommit(msg Message) {
	if msg.View != e.view {
		return
	}
	if !e.verifySignature(msg) {
		e.detector.ReportInvalidSignature(msg.Node, msg.Sequence)
		return
	}
	e.detector.ObserveVote(msg.Node, msg.Sequence, msg.Digest)
	if e.detector.IsBanned(msg.Node) {
		return
	}
	ok, equivocated := e.log.Add(msg.View, msg.Sequence, msglog.Commit, msg.Node, msg.Digest)
	if equivocated {
		return
	}
	if !ok {
		return
	}

	state, exists := e.sequences[msg.Sequence]
	if !exists || state.stage != Prepared {
		return
	}
	if !e.log.QuorumReached(msg.View, msg.Sequence, msglog.Commit, msg.Digest, e.cfg.Quorum()) {
		return
	}

	e.finalize(state)
}

// safetyHalt records a conflicting-certificate / finalized-divergence
// safety violation (spec §7: "fatal; the replica halts its own progress
// on the affected sequence and raises an alert"). The sequence's own
// recorded state is never overwritten by the conflicting evidence, so
// "halts progress" falls out of simply returning without applying it;
// this only needs to make the halt visible to operators. Other
// sequences are unaffected: the replica "continues observing."
func (e *Engine) safetyHalt(sequence uint64, reason string) {
	err := consensuserr.SafetyHalt(reason)
	if e.metrics != nil {
		e.metrics.SafetyHalts.Inc()
	}
	e.logger.Error("safety halt", zap.Uint64("sequence", sequence), zap.Error(err))
}

// creditParticipation credits reputation recovery only to nodes whose
// commit actually contributed to this sequence's quorum (spec §4.4
// "reputation recovers linearly with participation in successful
// finalizations") and tracks, per node, the streak of consecutive
// finalizations it was absent from. A node whose streak reaches the
// configured window is reported as non-participating (spec §4.4 kind 5,
// "Node absent from k consecutive quorums"); the streak keeps
// accumulating past the window so a node silent for multiple windows in
// a row is reported once per additional k, not only the first time.
func (e *Engine) creditParticipation(state *sequenceState) {
	committers := e.log.Senders(state.view, state.sequence, msglog.Commit, state.digest)
	window := e.cfg.NonParticipationWindow
	for _, node := range e.membership.Nodes() {
		if committers.Contains(node) {
			e.detector.RecordParticipation(node)
			e.absenceStreak[node] = 0
			continue
		}
		e.absenceStreak[node]++
		if window > 0 && e.absenceStreak[node]%window == 0 {
			e.detector.ReportNonParticipation(node, state.sequence)
		}
	}
}

// finalize links the vertex into the DAG, advances the watermark in
// strict sequence order (spec §5: a sequence s is only exposed as
// finalized after all s' < s are finalized), and signals the proposer.
func (e *Engine) finalize(state *sequenceState) {
	state.advance(Committed)
	state.stopTimer()

	e.creditParticipation(state)

	if state.vertex != nil {
		if err := e.graph.Add(state.vertex); err != nil {
			e.logger.Warn("finalize: dag add failed", zap.Error(err))
		} else {
			e.graph.UpdateMetadata(state.vertex.ID(), func(m *dag.Metadata) { m.Finalized = true })
		}
	}

	e.log.MarkFinalized(state.sequence)
	e.log.Cleanup()
	if state.sequence == e.lowWatermark+1 {
		e.lowWatermark = state.sequence
		e.detector.AdvanceWindow(e.lowWatermark)
	}

	if e.metrics != nil {
		e.metrics.SequencesFinalized.Inc()
		if !state.prePrepareAt.IsZero() {
			e.metrics.FinalizationLatency.Observe(float64(time.Since(state.prePrepareAt).Milliseconds()))
		}
	}

	fin := Finalization{Sequence: state.sequence, Digest: state.digest, Vertex: state.vertex}
	select {
	case e.finalizations <- fin:
	default:
	}
	if state.replyCh != nil {
		trySend(state.replyCh, ReplyOutcome{Sequence: state.sequence, Digest: state.digest})
	}
}

func (e *Engine) armTimer(ctx context.Context, state *sequenceState) {
	state.stopTimer()
	state.timerStart = time.Now()
	seq := state.sequence
	state.timer = time.AfterFunc(e.cfg.FinalityTimeout, func() {
		e.postSeqTimeout(ctx, seq)
	})
}

// postSeqTimeout is invoked from the timer goroutine; it only ever
// touches shared actor state by posting a command, keeping the actor
// the sole owner of sequence state (spec §5).
func (e *Engine) postSeqTimeout(ctx context.Context, sequence uint64) {
	select {
	case e.commands <- command{seqTimeout: &sequence}:
	case <-ctx.Done():
	default:
	}
}

func (e *Engine) handleSeqTimeout(ctx context.Context, sequence uint64) {
	state, exists := e.sequences[sequence]
	if !exists || state.stage == Committed || state.stage == ViewChanging {
		return
	}
	if state.prePrepareFrom != ids.EmptyNodeID {
		e.detector.ReportTimeout(state.prePrepareFrom, sequence)
	}
	e.armViewChange(ctx, "finality timeout")
}

// validateVertex runs the parallel batch validator (spec §4.3) over the
// single vertex carried by a pre-prepare: a below-adaptive-floor batch
// of one still exercises the same validation path as a full batch,
// checking both content-addressing and the leader's signature over the
// vertex digest.
func (e *Engine) validateVertex(ctx context.Context, msg Message) bool {
	if msg.Vertex == nil {
		return false
	}
	pk, ok := e.membership.PublicKey(msg.Node)
	if !ok {
		return false
	}
	digest := msg.Vertex.ID()
	item := parallel.Item{Vertex: msg.Vertex, SignedMsg: digest[:], PublicKey: pk}
	results, err := e.validator.Validate(ctx, []parallel.Item{item})
	if err != nil || len(results) == 0 {
		return false
	}
	return results[0].Valid
}

// sign computes msg's signature over SignedPayload with this replica's
// own key, for a message this engine is originating (spec §4.1 "the
// leader signs a pre-prepare", "broadcasts a signed prepare/commit").
func (e *Engine) sign(msg *Message) {
	msg.Signature = crypto.Sign(e.privateKey, msg.SignedPayload())
}

// verifySignature checks msg's signature against its claimed sender's
// membership key (spec §4.1 "verifies the leader's signature", spec §7
// "signature verification failure -> discard, record detector
// evidence"). A node missing from the membership can never produce a
// verifiable signature, so it fails closed.
func (e *Engine) verifySignature(msg Message) bool {
	pk, ok := e.membership.PublicKey(msg.Node)
	if !ok {
		return false
	}
	return crypto.Verify(pk, msg.SignedPayload(), msg.Signature)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func trySend(ch chan<- ReplyOutcome, v ReplyOutcome) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}
