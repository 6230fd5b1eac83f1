// Package certificate applies network domain separation to certificate
// signing and verification (spec.md §6): every BLS signature over a
// types.Certificate is taken over "LSK_CE_"+networkID prepended to the
// certificate's canonical bytes, so a signature valid on one network
// can never be replayed on another.
package certificate

import (
	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/types"
)

const tagPrefix = "LSK_CE_"

// SigningBytes returns the domain-separated bytes a validator BLS-signs
// (and a verifier checks the signature against) for cert on networkID.
func SigningBytes(networkID string, cert types.Certificate) []byte {
	tag := []byte(tagPrefix + networkID)
	return append(tag, cert.Bytes()...)
}

// Sign produces a validator's SingleCommit.CertificateSignature.
func Sign(priv bls.PrivKey, networkID string, cert types.Certificate) ([]byte, error) {
	return priv.Sign(SigningBytes(networkID, cert))
}

// Verify checks a single validator's certificate signature.
func Verify(pub bls.PubKey, networkID string, cert types.Certificate, sig []byte) bool {
	return pub.VerifySignature(SigningBytes(networkID, cert), sig)
}

// Aggregate combines the certificate signatures of the validators in
// pubKeys (in the same order as sigs) into one AggregateCommit
// signature, per spec.md §4.4's createAggregateCommit step.
func Aggregate(pubKeys []bls.PubKey, networkID string, cert types.Certificate, sigs [][]byte) ([]byte, error) {
	return bls.Aggregate(pubKeys, SigningBytes(networkID, cert), sigs)
}

// VerifyAggregate checks that sig is a valid aggregate signature by
// exactly the validators in pubKeys over cert, per spec.md §4.4's
// verifyAggregateCommit step.
func VerifyAggregate(pubKeys []bls.PubKey, networkID string, cert types.Certificate, sig []byte) bool {
	return bls.VerifyAggregate(pubKeys, SigningBytes(networkID, cert), sig)
}
