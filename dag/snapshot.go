// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package dag

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/aegisbft/consensus/ids"
)

// PebbleSnapshotter is an optional write-through adapter backing the
// in-memory Graph with an embedded KV store, implementing the two
// append-only persisted stores of spec §6: the vertex store
// (digest -> vertex record) and the finality index (sequence ->
// digest). It is a convenience for hosts that want crash recovery
// without standing up the full external persistence collaborator the
// spec treats as out of scope.
type PebbleSnapshotter struct {
	db *pebble.DB
}

const (
	vertexKeyPrefix   = "v/"
	finalityKeyPrefix = "f/"
)

// OpenPebbleSnapshotter opens (or creates) a pebble database at dir.
func OpenPebbleSnapshotter(dir string) (*PebbleSnapshotter, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("dag: open pebble snapshotter: %w", err)
	}
	return &PebbleSnapshotter{db: db}, nil
}

func (s *PebbleSnapshotter) Close() error {
	return s.db.Close()
}

// PutVertex appends a vertex's encoded content to the vertex store.
// Vertex content is stable once written: callers must never call
// PutVertex twice for the same id with different bytes.
func (s *PebbleSnapshotter) PutVertex(v *Vertex) error {
	key := append([]byte(vertexKeyPrefix), v.id[:]...)
	val := encodeVertex(v)
	return s.db.Set(key, val, pebble.Sync)
}

// PutFinality records sequence -> digest in the finality index. Written
// only on commit (spec §6); callers must not overwrite an existing
// sequence with a different digest.
func (s *PebbleSnapshotter) PutFinality(sequence uint64, digest ids.ID) error {
	key := finalityKey(sequence)
	return s.db.Set(key, digest[:], pebble.Sync)
}

// GetFinality looks up the digest finalized at sequence, if any.
func (s *PebbleSnapshotter) GetFinality(sequence uint64) (ids.ID, bool, error) {
	val, closer, err := s.db.Get(finalityKey(sequence))
	if err == pebble.ErrNotFound {
		return ids.ID{}, false, nil
	}
	if err != nil {
		return ids.ID{}, false, err
	}
	defer closer.Close()
	var digest ids.ID
	copy(digest[:], val)
	return digest, true, nil
}

// Replay iterates every stored vertex in the order pebble's iterator
// returns them (which, since keys are content digests, is not a
// topological order); the caller re-inserts into a fresh Graph and relies
// on Graph.Add failing with missing-parent for any vertex visited before
// its parents, retrying until the queue drains, per spec §4.2's crash
// recovery note ("replays stored vertices in any topological order").
func (s *PebbleSnapshotter) Replay(fn func(*Vertex) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(vertexKeyPrefix),
		UpperBound: []byte("v0"), // lexicographically past "v/"
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		v, err := decodeVertex(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return iter.Error()
}

func finalityKey(sequence uint64) []byte {
	key := make([]byte, len(finalityKeyPrefix)+8)
	copy(key, finalityKeyPrefix)
	binary.BigEndian.PutUint64(key[len(finalityKeyPrefix):], sequence)
	return key
}

// encodeVertex produces a deterministic, version-tagged binary layout
// per spec §6 ("Binary encodings must be deterministic and
// version-tagged"). Layout: version(1) | tsMillis(8) | creator(16) |
// numParents(4) | parents(32 each) | sigLen(4) | sig | payload.
const vertexEncodingVersion = 1

func encodeVertex(v *Vertex) []byte {
	buf := make([]byte, 0, 1+8+16+4+len(v.parents)*32+4+len(v.signature)+len(v.payload))
	buf = append(buf, vertexEncodingVersion)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(v.timestamp))
	buf = append(buf, ts[:]...)

	buf = append(buf, v.creator[:]...)

	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(v.parents)))
	buf = append(buf, n[:]...)
	for _, p := range v.parents {
		buf = append(buf, p[:]...)
	}

	var sl [4]byte
	binary.BigEndian.PutUint32(sl[:], uint32(len(v.signature)))
	buf = append(buf, sl[:]...)
	buf = append(buf, v.signature...)

	buf = append(buf, v.payload...)
	return buf
}

func decodeVertex(data []byte) (*Vertex, error) {
	if len(data) < 1+8+16+4 {
		return nil, fmt.Errorf("dag: encoded vertex truncated")
	}
	if data[0] != vertexEncodingVersion {
		return nil, fmt.Errorf("dag: unsupported vertex encoding version %d", data[0])
	}
	off := 1
	tsMillis := int64(binary.BigEndian.Uint64(data[off : off+8]))
	off += 8

	var creator ids.NodeID
	copy(creator[:], data[off:off+16])
	off += 16

	numParents := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	parents := make([]ids.ID, 0, numParents)
	for i := uint32(0); i < numParents; i++ {
		if off+32 > len(data) {
			return nil, fmt.Errorf("dag: encoded vertex truncated in parents")
		}
		var p ids.ID
		copy(p[:], data[off:off+32])
		parents = append(parents, p)
		off += 32
	}

	if off+4 > len(data) {
		return nil, fmt.Errorf("dag: encoded vertex truncated before signature length")
	}
	sigLen := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	if off+int(sigLen) > len(data) {
		return nil, fmt.Errorf("dag: encoded vertex truncated in signature")
	}
	signature := append([]byte(nil), data[off:off+int(sigLen)]...)
	off += int(sigLen)

	payload := append([]byte(nil), data[off:]...)

	return New(parents, payload, tsMillis, creator, signature), nil
}
