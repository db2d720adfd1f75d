// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ids defines the identifier types shared across the consensus
// core: a 128-bit node identifier and a 32-byte content digest.
package ids

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 32-byte content digest produced by the hash wrapper in
// package crypto. It addresses vertices and binds consensus messages.
type ID [32]byte

// Empty is the zero digest.
var Empty ID

// String returns the hex encoding of the digest.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == Empty
}

// NodeID is a 128-bit identifier for a replica. The membership map is a
// fixed mapping from NodeID to public verification key, known identically
// to all honest replicas.
type NodeID [16]byte

// EmptyNodeID is the zero node identifier.
var EmptyNodeID NodeID

// GenerateNodeID returns a fresh, random node identifier.
func GenerateNodeID() NodeID {
	return NodeID(uuid.New())
}

// NodeIDFromUUID converts a uuid.UUID into a NodeID.
func NodeIDFromUUID(u uuid.UUID) NodeID {
	return NodeID(u)
}

func (n NodeID) String() string {
	return uuid.UUID(n).String()
}

func (n NodeID) IsZero() bool {
	return n == EmptyNodeID
}

// ShortString returns the first 8 hex characters, useful in log lines
// where the full UUID would be noise.
func (n NodeID) ShortString() string {
	s := n.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// ParseNodeID parses the canonical UUID string form of a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("ids: parse node id: %w", err)
	}
	return NodeID(u), nil
}
