// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorumAndMaxByzantine(t *testing.T) {
	cases := []struct {
		totalNodes    int
		wantByzantine int
		wantQuorum    int
	}{
		{4, 1, 3},
		{7, 2, 5},
		{10, 3, 7},
		{1, 0, 1},
	}
	for _, tc := range cases {
		p := Parameters{TotalNodes: tc.totalNodes}
		require.Equal(t, tc.wantByzantine, p.MaxByzantine())
		require.Equal(t, tc.wantQuorum, p.Quorum())
	}
}

func TestValidate_AcceptsDefaultPreset(t *testing.T) {
	require.NoError(t, Default(4).Validate())
	require.NoError(t, Local(4).Validate())
	require.NoError(t, Testnet(4).Validate())
}

func TestValidate_RejectsNonPositiveTotalNodes(t *testing.T) {
	p := Default(0)
	require.Error(t, p.Validate())
}

func TestValidate_RejectsMismatchedQuorumThreshold(t *testing.T) {
	p := Default(4)
	p.QuorumThreshold = p.Quorum() + 1
	require.Error(t, p.Validate())
}

func TestValidate_AcceptsExplicitMatchingQuorumThreshold(t *testing.T) {
	p := Default(4)
	p.QuorumThreshold = p.Quorum()
	require.NoError(t, p.Validate())
}

func TestValidate_RejectsNonPositiveFinalityTimeout(t *testing.T) {
	p := Default(4)
	p.FinalityTimeout = 0
	require.Error(t, p.Validate())
}

func TestValidate_RejectsNonPositiveMaxVertexPayloadBytes(t *testing.T) {
	p := Default(4)
	p.MaxVertexPayloadBytes = 0
	require.Error(t, p.Validate())
}
