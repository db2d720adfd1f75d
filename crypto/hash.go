// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"encoding/binary"
	"hash"

	"github.com/zeebo/blake3"

	"github.com/aegisbft/consensus/ids"
)

// HashSchemeName identifies the hash function content digests and
// message bindings are computed with.
const HashSchemeName = "BLAKE3-256"

// NewHasher returns a fresh streaming hash, matching §4.7's "streaming
// API" requirement. SIMD acceleration is inherited from the blake3
// package when the platform supports it.
func NewHasher() hash.Hash {
	return blake3.New()
}

// NewKeyedHasher returns a hash keyed with the given 32-byte key, used
// for domain-separated digests such as per-view message authentication
// tags that must not collide across unrelated callers of the same hash.
func NewKeyedHasher(key [32]byte) (hash.Hash, error) {
	return blake3.NewKeyed(key[:])
}

// Sum256 hashes data and returns a 32-byte digest.
func Sum256(data []byte) ids.ID {
	var out ids.ID
	h := blake3.New()
	_, _ = h.Write(data)
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}

// VertexDigest computes the content-addressed id of a vertex, per
// spec §3: hash(stable-identifier || each parent digest in order ||
// payload || timestamp little-endian).
func VertexDigest(stableIdentifier string, parents []ids.ID, payload []byte, timestampMillis int64) ids.ID {
	h := blake3.New()
	_, _ = h.Write([]byte(stableIdentifier))
	for _, p := range parents {
		_, _ = h.Write(p[:])
	}
	_, _ = h.Write(payload)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(timestampMillis))
	_, _ = h.Write(tsBuf[:])

	var out ids.ID
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}
