// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"encoding"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKEM_EncapsulateDecapsulateSharesSecret(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	ciphertext, sharedSecret, err := Encapsulate(kp.Public)
	require.NoError(t, err)
	require.Len(t, ciphertext, KEMCiphertextSize())

	recovered, err := Decapsulate(kp.Private, ciphertext)
	require.NoError(t, err)
	require.Equal(t, sharedSecret, recovered)
}

func TestKEM_PublicKeySize(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	marshaler, ok := kp.Public.(encoding.BinaryMarshaler)
	require.True(t, ok, "kem public key must support binary marshaling")
	data, err := marshaler.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, KEMPublicKeySize())
}
