// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisbft/consensus/ids"
)

func TestSum256_DeterministicAndSizeCorrect(t *testing.T) {
	a := Sum256([]byte("payload"))
	b := Sum256([]byte("payload"))
	require.Equal(t, a, b)

	c := Sum256([]byte("different"))
	require.NotEqual(t, a, c)
}

func TestNewHasher_MatchesSum256(t *testing.T) {
	h := NewHasher()
	_, err := h.Write([]byte("streamed"))
	require.NoError(t, err)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	require.Equal(t, Sum256([]byte("streamed")), out)
}

func TestNewKeyedHasher_DifferentKeysDiverge(t *testing.T) {
	var keyA, keyB [32]byte
	keyB[0] = 1

	ha, err := NewKeyedHasher(keyA)
	require.NoError(t, err)
	hb, err := NewKeyedHasher(keyB)
	require.NoError(t, err)

	ha.Write([]byte("same message"))
	hb.Write([]byte("same message"))
	require.NotEqual(t, ha.Sum(nil), hb.Sum(nil))
}

func TestVertexDigest_OrderAndFieldsAffectDigest(t *testing.T) {
	var p1, p2 ids.ID
	p1[0], p2[0] = 1, 2

	base := VertexDigest("node-a", []ids.ID{p1, p2}, []byte("tx"), 1000)
	reordered := VertexDigest("node-a", []ids.ID{p2, p1}, []byte("tx"), 1000)
	require.NotEqual(t, base, reordered)

	diffTs := VertexDigest("node-a", []ids.ID{p1, p2}, []byte("tx"), 1001)
	require.NotEqual(t, base, diffTs)

	diffPayload := VertexDigest("node-a", []ids.ID{p1, p2}, []byte("tx2"), 1000)
	require.NotEqual(t, base, diffPayload)

	same := VertexDigest("node-a", []ids.ID{p1, p2}, []byte("tx"), 1000)
	require.Equal(t, base, same)
}
