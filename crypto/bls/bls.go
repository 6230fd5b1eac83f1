// Package bls wraps BLS12-381 signing, verification and aggregation
// for SingleCommit and AggregateCommit (spec.md §3, §4.4), adapted
// from the teacher's crypto/bls12381 wrapper around the same
// go-bindings but narrowed to what the commit pool needs: sign a
// certificate, verify one signature, aggregate many signatures over
// the same certificate, and verify the aggregate.
package bls

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	blsbind "github.com/dashpay/bls-signatures/go-bindings"

	"github.com/veritaschain/consensus-core/crypto"
)

const (
	PubKeySize     = 48
	PrivateKeySize = 32
	SignatureSize  = 96
	SeedSize       = 32
	KeyType        = "bls12381"
)

var _ crypto.PrivKey = PrivKey{}
var _ crypto.PubKey = PubKey{}

// PrivKey is a validator's BLS12-381 signing key.
type PrivKey []byte

func GenPrivKey() PrivKey { return genPrivKey(rand.Reader) }

func genPrivKey(r io.Reader) PrivKey {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		panic(err)
	}
	sk, err := blsbind.PrivateKeyFromSeed(seed)
	if err != nil {
		panic(err)
	}
	return sk.Serialize()
}

// GenPrivKeyFromSecret derives a private key deterministically from an
// arbitrary secret, hashed to a valid seed.
func GenPrivKeyFromSecret(secret []byte) PrivKey {
	seed := sha256.Sum256(secret)
	sk, err := blsbind.PrivateKeyFromSeed(seed[:])
	if err != nil {
		panic(err)
	}
	return sk.Serialize()
}

func (privKey PrivKey) Bytes() []byte { return privKey }

// Sign produces a BLS signature over msg (the certificate bytes) with
// aggregation info attached, so the result can later be combined with
// other validators' signatures by Aggregate.
func (privKey PrivKey) Sign(msg []byte) ([]byte, error) {
	if len(privKey) != PrivateKeySize {
		return nil, fmt.Errorf("bls: invalid private key size %d", len(privKey))
	}
	sk, err := blsbind.PrivateKeyFromBytes(privKey, true)
	if err != nil {
		return nil, err
	}
	sig := sk.Sign(msg)
	return sig.Serialize(), nil
}

func (privKey PrivKey) PubKey() crypto.PubKey {
	sk, err := blsbind.PrivateKeyFromBytes(privKey, true)
	if err != nil {
		panic("bls: bad private key")
	}
	return PubKey(sk.PublicKey().Serialize())
}

func (privKey PrivKey) Equals(other crypto.PrivKey) bool {
	o, ok := other.(PrivKey)
	if !ok || len(privKey) != len(o) {
		return false
	}
	for i := range privKey {
		if privKey[i] != o[i] {
			return false
		}
	}
	return true
}

func (privKey PrivKey) Type() string { return KeyType }

// PubKey is a validator's BLS12-381 verification key.
type PubKey []byte

func (pubKey PubKey) Bytes() []byte { return pubKey }

func (pubKey PubKey) Type() string { return KeyType }

func (pubKey PubKey) Equals(other crypto.PubKey) bool {
	o, ok := other.(PubKey)
	if !ok || len(pubKey) != len(o) {
		return false
	}
	for i := range pubKey {
		if pubKey[i] != o[i] {
			return false
		}
	}
	return true
}

// VerifySignature checks a single validator's signature over msg.
func (pubKey PubKey) VerifySignature(msg []byte, sig []byte) bool {
	if len(sig) != SignatureSize || len(pubKey) != PubKeySize {
		return false
	}
	pk, err := blsbind.PublicKeyFromBytes(pubKey)
	if err != nil {
		return false
	}
	aggInfo := blsbind.AggregationInfoFromMsg(pk, msg)
	blsSig, err := blsbind.SignatureFromBytesWithAggregationInfo(sig, aggInfo)
	if err != nil {
		return false
	}
	return blsSig.Verify()
}

var ErrEmptySignature = errors.New("bls: empty signature")

// Aggregate combines multiple validators' signatures, each produced by
// PrivKey.Sign over the same certificate bytes, into a single
// AggregateCommit.CertificateSignature.
func Aggregate(pubKeys []PubKey, msg []byte, sigs [][]byte) ([]byte, error) {
	if len(pubKeys) != len(sigs) {
		return nil, fmt.Errorf("bls: %d pubkeys but %d signatures", len(pubKeys), len(sigs))
	}
	if len(pubKeys) == 0 {
		return nil, ErrEmptySignature
	}
	blsSigs := make([]*blsbind.Signature, len(sigs))
	for i, sigBytes := range sigs {
		pk, err := blsbind.PublicKeyFromBytes(pubKeys[i])
		if err != nil {
			return nil, err
		}
		aggInfo := blsbind.AggregationInfoFromMsg(pk, msg)
		sig, err := blsbind.SignatureFromBytesWithAggregationInfo(sigBytes, aggInfo)
		if err != nil {
			return nil, err
		}
		blsSigs[i] = sig
	}
	aggregated, err := blsbind.SignatureAggregate(blsSigs)
	if err != nil {
		return nil, err
	}
	return aggregated.Serialize(), nil
}

// VerifyAggregate checks that sig is a valid aggregate of signatures
// by exactly the validators in pubKeys over the same message msg
// (spec.md §4.4's BLS aggregate-verify step).
func VerifyAggregate(pubKeys []PubKey, msg []byte, sig []byte) bool {
	if len(sig) != SignatureSize || len(pubKeys) == 0 {
		return false
	}
	aggInfos := make([]*blsbind.AggregationInfo, len(pubKeys))
	for i, pubKey := range pubKeys {
		pk, err := blsbind.PublicKeyFromBytes(pubKey)
		if err != nil {
			return false
		}
		aggInfos[i] = blsbind.AggregationInfoFromMsg(pk, msg)
	}
	merged := blsbind.MergeAggregationInfos(aggInfos)
	blsSig, err := blsbind.SignatureFromBytesWithAggregationInfo(sig, merged)
	if err != nil {
		return false
	}
	return blsSig.Verify()
}
