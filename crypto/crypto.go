// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto wraps the three post-quantum primitives the consensus
// core binds every protocol message to: a lattice-based signature scheme
// (ML-DSA / Dilithium), a lattice-based key-encapsulation mechanism
// (ML-KEM / Kyber), and a fast keyed hash (BLAKE3). The wrapper's
// contract is crypto-agnostic per the design: callers only depend on
// fixed-size PublicKey/PrivateKey/Signature byte slices and the 32-byte
// ids.ID digest type, so the underlying scheme can be swapped without
// touching the DAG or membership map.
package crypto

import (
	"crypto/rand"
	"encoding"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Scheme identifies the signature scheme in use, echoing the
// `signature-scheme` configuration field of the consensus core.
const SchemeName = "ML-DSA-65"

var dsa sign.Scheme = mode3.Scheme()

// PublicKey and PrivateKey are opaque, fixed-size key material as
// required by the membership map (§3 of the spec): it stores public keys
// without caring which scheme produced them.
type (
	PublicKey  = sign.PublicKey
	PrivateKey = sign.PrivateKey
)

// KeyPair holds a generated signing key pair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeyPair creates a fresh ML-DSA-65 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pk, sk, err := dsa.GenerateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return KeyPair{Public: pk, Private: sk}, nil
}

// PublicKeySize, PrivateKeySize and SignatureSize report the scheme's
// wire sizes, which the spec approximates as "a few KiB" for keys and
// "around 4.6 KiB" for signatures; ML-DSA-65 is the closest
// NIST-standardized lattice scheme available in the dependency set
// (public key 1952 B, signature 3293 B).
func PublicKeySize() int  { return dsa.PublicKeySize() }
func PrivateKeySize() int { return dsa.PrivateKeySize() }
func SignatureSize() int  { return dsa.SignatureSize() }

// Sign produces a detached signature over msg using sk.
func Sign(sk PrivateKey, msg []byte) []byte {
	return dsa.Sign(sk, msg, nil)
}

// Verify checks a detached signature over msg against pk.
func Verify(pk PublicKey, msg, sig []byte) bool {
	if pk == nil {
		return false
	}
	return dsa.Verify(pk, msg, sig, nil)
}

// UnmarshalPublicKey decodes a wire-format public key, as stored in the
// membership map.
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	pk, err := dsa.UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("crypto: unmarshal public key: %w", err)
	}
	return pk, nil
}

// MarshalPublicKey encodes pk to its wire format.
func MarshalPublicKey(pk PublicKey) ([]byte, error) {
	m, ok := pk.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("crypto: public key does not support binary marshaling")
	}
	return m.MarshalBinary()
}

// BatchItem pairs a verification request with its origin index, so
// VerifyBatch can report per-item results while preserving input order
// (spec §4.3's "collect per-vertex results preserving input index").
type BatchItem struct {
	PublicKey PublicKey
	Message   []byte
	Signature []byte
}

// VerifyBatch verifies many signatures at once. ML-DSA has no native
// batch-verification entry point in circl, so the wrapper dispatches
// across a small internal worker pool above inlineThreshold items; this
// is a standalone bulk-verify primitive (e.g. for checking every
// signature on a collected view-change certificate set in one call) and
// is independent of package parallel's own work-stealing batch
// validator, which also checks vertex structure, not just signatures.
func VerifyBatch(items []BatchItem) []bool {
	results := make([]bool, len(items))
	if len(items) == 0 {
		return results
	}

	const inlineThreshold = 8
	if len(items) < inlineThreshold {
		for i, it := range items {
			results[i] = Verify(it.PublicKey, it.Message, it.Signature)
		}
		return results
	}

	workers := cpuWorkers()
	jobs := make(chan int, len(items))
	var wg workGroup
	wg.Go(workers, func(id int) {
		for i := range jobs {
			results[i] = Verify(items[i].PublicKey, items[i].Message, items[i].Signature)
		}
	})
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// randReader is overridable in tests; production code always uses
// crypto/rand.
var randReader = rand.Reader
