// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// KEMSchemeName identifies the key-encapsulation mechanism offered for
// transport-level session establishment between replicas, per §4.7.
const KEMSchemeName = "ML-KEM-768"

var kemScheme kem.Scheme = mlkem768.Scheme()

// KEMKeyPair holds a generated encapsulation key pair.
type KEMKeyPair struct {
	Public  kem.PublicKey
	Private kem.PrivateKey
}

// GenerateKEMKeyPair creates a fresh ML-KEM-768 key pair (public key
// ~1184 B, matching the spec's "~1.2 KiB public keys" sizing).
func GenerateKEMKeyPair() (KEMKeyPair, error) {
	pk, sk, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return KEMKeyPair{}, fmt.Errorf("crypto: generate kem key pair: %w", err)
	}
	return KEMKeyPair{Public: pk, Private: sk}, nil
}

// Encapsulate produces a ciphertext (~1088 B) and shared secret bound to
// pk, matching the spec's "~1 KiB ciphertexts" sizing.
func Encapsulate(pk kem.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := kemScheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext using sk.
func Decapsulate(sk kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	ss, err := kemScheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decapsulate: %w", err)
	}
	return ss, nil
}

func KEMCiphertextSize() int { return kemScheme.CiphertextSize() }
func KEMPublicKeySize() int  { return kemScheme.PublicKeySize() }
