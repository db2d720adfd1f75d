// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensuserr implements the error taxonomy of spec §7: six
// kinds of failure with distinct propagation policies. Callers use
// errors.As to recover the *Classified wrapper and branch on Kind.
package consensuserr

import (
	"errors"
	"fmt"
)

// Kind classifies a consensus-core error for propagation purposes.
type Kind int

const (
	// Transient errors are retryable: queue full, worker unavailable,
	// transient peer I/O.
	Transient Kind = iota
	// Authorization errors redirect the caller (e.g. not-leader).
	Authorization
	// Validation errors are bad input (hash mismatch, oversize,
	// missing parent, bad signature); they do not advance the protocol.
	Validation
	// Protocol errors are malformed/out-of-order/wrong-view messages;
	// dropped, never propagated beyond a count.
	Protocol
	// Safety errors indicate a conflicting certificate or finalized
	// divergence; fatal to progress on the affected sequence.
	Safety
	// Internal errors indicate a broken invariant; fatal to the replica.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Authorization:
		return "authorization"
	case Validation:
		return "validation"
	case Protocol:
		return "protocol"
	case Safety:
		return "safety"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Classified wraps an underlying error with its taxonomy Kind and an
// optional machine-readable sub-kind string (e.g. "oversize",
// "missing-parent", "not-leader").
type Classified struct {
	Kind    Kind
	SubKind string
	Err     error
}

func (c *Classified) Error() string {
	if c.SubKind != "" {
		return fmt.Sprintf("%s(%s): %v", c.Kind, c.SubKind, c.Err)
	}
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

func New(kind Kind, subKind string, err error) *Classified {
	return &Classified{Kind: kind, SubKind: subKind, Err: err}
}

// Sentinel errors surfaced verbatim to proposers (spec §7 "user-visible
// failures").
var (
	ErrOverloaded  = errors.New("consensuserr: overloaded")
	ErrNotLeader   = errors.New("consensuserr: not leader")
	ErrInvalid     = errors.New("consensuserr: invalid")
	ErrTimeout     = errors.New("consensuserr: timed out")
	ErrNotRunning  = errors.New("consensuserr: engine not running")
	ErrSafetyHalt  = errors.New("consensuserr: sequence halted after safety violation")
)

// NotLeader builds the not-leader(leader-id) classified error.
func NotLeader(leaderID fmt.Stringer) *Classified {
	return New(Authorization, "not-leader:"+leaderID.String(), ErrNotLeader)
}

// Overloaded builds the overloaded classified error.
func Overloaded() *Classified {
	return New(Transient, "overloaded", ErrOverloaded)
}

// InvalidVertex builds an invalid(kind) classified error for a rejected
// vertex (e.g. "oversize", "missing-parent", "hash-mismatch").
func InvalidVertex(subKind string, cause error) *Classified {
	return New(Validation, subKind, fmt.Errorf("%w: %v", ErrInvalid, cause))
}

// Timeout builds the deadline-elapsed classified error.
func Timeout() *Classified {
	return New(Transient, "timeout", ErrTimeout)
}

// SafetyHalt builds a classified error for a sequence halted after
// detecting a conflicting certificate.
func SafetyHalt(subKind string) *Classified {
	return New(Safety, subKind, ErrSafetyHalt)
}

// NotRunning builds the classified error returned when a call reaches
// an engine that has not been started or has already stopped.
func NotRunning() *Classified {
	return New(Internal, "not-running", ErrNotRunning)
}

// AsClassified recovers the *Classified wrapper from err, if present.
func AsClassified(err error) (*Classified, bool) {
	var c *Classified
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}
