// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package parallel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisbft/consensus/crypto"
	"github.com/aegisbft/consensus/dag"
	"github.com/aegisbft/consensus/ids"
)

func TestValidator_InlineBelowAdaptiveFloor(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	v := dag.New(nil, []byte("payload"), 1, ids.GenerateNodeID(), nil)
	msg := v.ID()
	sig := crypto.Sign(kp.Private, msg[:])
	v2 := dag.New(nil, []byte("payload"), 1, v.Creator(), sig)

	validator := New(DefaultConfig(4))
	results, err := validator.Validate(context.Background(), []Item{
		{Vertex: v2, SignedMsg: msg[:], PublicKey: kp.Public},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Valid)
}

func TestValidator_WorkStealingAboveFloor(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := DefaultConfig(4)
	cfg.AdaptiveFloor = 4
	validator := New(cfg)

	batch := make([]Item, 0, 20)
	for i := 0; i < 20; i++ {
		v := dag.New(nil, []byte{byte(i)}, int64(i), ids.GenerateNodeID(), nil)
		msg := v.ID()
		v2 := dag.New(nil, []byte{byte(i)}, int64(i), v.Creator(), crypto.Sign(kp.Private, msg[:]))
		batch = append(batch, Item{Vertex: v2, SignedMsg: msg[:], PublicKey: kp.Public})
	}

	results, err := validator.Validate(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for _, r := range results {
		require.True(t, r.Valid)
		require.NoError(t, r.Err)
	}
}

func TestValidator_RejectsTamperedSignature(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	v := dag.New(nil, []byte("payload"), 1, ids.GenerateNodeID(), nil)
	msg := v.ID()
	sig := crypto.Sign(kp.Private, msg[:])
	sig[0] ^= 0xFF
	v2 := dag.New(nil, []byte("payload"), 1, v.Creator(), sig)

	cfg := DefaultConfig(4)
	cfg.AdaptiveFloor = 0
	validator := New(cfg)

	results, err := validator.Validate(context.Background(), []Item{
		{Vertex: v2, SignedMsg: msg[:], PublicKey: kp.Public},
	})
	require.NoError(t, err)
	require.False(t, results[0].Valid)
}

func TestValidator_RejectsSignatureOverWrongMessage(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	v := dag.New(nil, []byte("payload"), 1, ids.GenerateNodeID(), nil)
	msg := v.ID()
	sig := crypto.Sign(kp.Private, msg[:])
	v2 := dag.New(nil, []byte("payload"), 1, v.Creator(), sig)

	cfg := DefaultConfig(4)
	cfg.AdaptiveFloor = 0
	validator := New(cfg)

	results, err := validator.Validate(context.Background(), []Item{
		{Vertex: v2, SignedMsg: []byte("wrong-digest-bytes-000000000000"), PublicKey: kp.Public},
	})
	require.NoError(t, err)
	require.False(t, results[0].Valid)
}

func TestValidator_EmptyBatch(t *testing.T) {
	validator := New(DefaultConfig(4))
	results, err := validator.Validate(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}
