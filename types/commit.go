package types

import (
	"bytes"
	"encoding/binary"

	tmbytes "github.com/veritaschain/consensus-core/libs/bytes"
)

// Certificate is the tuple validators BLS-sign to attest finality of a
// block (spec.md GLOSSARY). It is derived from a header, never
// transmitted on its own.
type Certificate struct {
	BlockID        BlockID
	Height         int64
	Timestamp      int64
	StateRoot      tmbytes.HexBytes
	ValidatorsHash tmbytes.HexBytes
}

// CertificateOf derives the certificate for a header.
func CertificateOf(h *Header) Certificate {
	return Certificate{
		BlockID:        h.ID(),
		Height:         h.Height,
		Timestamp:      h.Timestamp,
		StateRoot:      h.StateRoot,
		ValidatorsHash: h.ValidatorsHash,
	}
}

// Bytes returns the certificate's canonical, unsigned representation.
// Domain separation (the "LSK_CE_"+networkID tag, spec.md §6) is
// applied by the caller of the BLS sign/verify functions, not baked in
// here, so the same bytes can be reused across networks in tests.
func (c Certificate) Bytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, c.BlockID[:]...)
	buf = appendUint64(buf, uint64(c.Height))
	buf = appendUint64(buf, uint64(c.Timestamp))
	buf = appendBytes(buf, c.StateRoot)
	buf = appendBytes(buf, c.ValidatorsHash)
	return buf
}

// SingleCommit is a single validator's BLS signature over a certificate
// (spec.md §3).
type SingleCommit struct {
	BlockID              BlockID
	Height               int64
	ValidatorAddress     Address
	CertificateSignature tmbytes.HexBytes
}

// Key uniquely identifies a commit for pool deduplication:
// (height, validatorAddress, certificateSignature).
func (c *SingleCommit) Key() string {
	var buf bytes.Buffer
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], uint64(c.Height))
	buf.Write(h[:])
	buf.Write(c.ValidatorAddress[:])
	buf.Write(c.CertificateSignature)
	return buf.String()
}

// AggregateCommit is a BLS-aggregated signature by a threshold subset
// of the active validator set at Height (spec.md §3).
type AggregateCommit struct {
	Height               int64
	AggregationBits      []byte
	CertificateSignature tmbytes.HexBytes
}

// Empty reports whether this is the "no aggregate available" sentinel
// selectAggregateCommit returns when nothing reaches threshold.
func (a *AggregateCommit) Empty() bool {
	return len(a.CertificateSignature) == 0 || allZero(a.AggregationBits)
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// CanonicalBytes returns the fixed-order encoding embedded inside a
// header (spec.md §6's header canonical form).
func (a *AggregateCommit) CanonicalBytes() []byte {
	buf := make([]byte, 0, 32+len(a.AggregationBits)+len(a.CertificateSignature))
	buf = appendUint64(buf, uint64(a.Height))
	buf = appendBytes(buf, a.AggregationBits)
	buf = appendBytes(buf, a.CertificateSignature)
	return buf
}

// AggregationBitsLen returns the number of bytes an aggregation
// bitstring needs for validatorCount validators, i.e. the validator
// count rounded up to whole bytes (spec.md §4.4 tie-break rule).
func AggregationBitsLen(validatorCount int) int {
	return (validatorCount + 7) / 8
}

// BitSet reports whether validator index i is marked as a signer.
func BitSet(bits []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bits) {
		return false
	}
	return bits[byteIdx]&(1<<uint(i%8)) != 0
}

// SetBit marks validator index i as a signer.
func SetBit(bits []byte, i int) {
	byteIdx := i / 8
	if byteIdx >= len(bits) {
		return
	}
	bits[byteIdx] |= 1 << uint(i%8)
}
