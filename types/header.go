// Package types defines the wire and in-memory data model of the
// consensus core: blocks and headers, single and aggregate commits,
// and the piecewise-constant BFT parameters that govern them.
package types

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/veritaschain/consensus-core/crypto"
	tmbytes "github.com/veritaschain/consensus-core/libs/bytes"
)

// AddressSize is the length in bytes of a generator/validator address.
const AddressSize = 20

// IDSize is the length in bytes of a block id (a header hash).
const IDSize = 32

// Address identifies a generator or validator.
type Address [AddressSize]byte

func (a Address) String() string { return fmt.Sprintf("%X", a[:]) }

// BlockID is the hash of a header's canonical serialization.
type BlockID [IDSize]byte

func (id BlockID) String() string       { return fmt.Sprintf("%X", id[:]) }
func (id BlockID) IsZero() bool         { return id == BlockID{} }
func (id BlockID) Bytes() []byte        { return id[:] }
func BlockIDFromBytes(b []byte) BlockID { var id BlockID; copy(id[:], b); return id }

// Header carries everything needed to classify, verify and execute a
// block without touching its payload. Field order here is the
// canonical field order used by Encode/Decode and hashing (spec.md §6).
type Header struct {
	Height             int64          `json:"height"`
	PreviousBlockID    BlockID        `json:"previousBlockID"`
	GeneratorAddress   Address        `json:"generatorAddress"`
	Timestamp          int64          `json:"timestamp"` // unix seconds
	Version            uint8          `json:"version"`
	TransactionRoot    tmbytes.HexBytes `json:"transactionRoot"`
	StateRoot          tmbytes.HexBytes `json:"stateRoot"`
	ValidatorsHash     tmbytes.HexBytes `json:"validatorsHash"`
	AggregateCommit    *AggregateCommit `json:"aggregateCommit,omitempty"`
	MaxHeightGenerated int64          `json:"maxHeightGenerated"`
	MaxHeightPrevoted  int64          `json:"maxHeightPrevoted"`
	Signature          tmbytes.HexBytes `json:"signature"`
}

// CanonicalBytes returns the fixed-order, length-prefixed encoding of
// the header used for both id computation and signing. The signature
// field itself is excluded: signatures are computed over everything
// that precedes them.
func (h *Header) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = appendUint64(buf, uint64(h.Height))
	buf = append(buf, h.PreviousBlockID[:]...)
	buf = append(buf, h.GeneratorAddress[:]...)
	buf = appendUint64(buf, uint64(h.Timestamp))
	buf = append(buf, h.Version)
	buf = appendBytes(buf, h.TransactionRoot)
	buf = appendBytes(buf, h.StateRoot)
	buf = appendBytes(buf, h.ValidatorsHash)
	if h.AggregateCommit != nil {
		buf = append(buf, 1)
		buf = appendBytes(buf, h.AggregateCommit.CanonicalBytes())
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64(buf, uint64(h.MaxHeightGenerated))
	buf = appendUint64(buf, uint64(h.MaxHeightPrevoted))
	return buf
}

// ID is the hash of the header's canonical bytes (spec.md §3).
func (h *Header) ID() BlockID {
	return BlockIDFromBytes(crypto.Sum(h.CanonicalBytes()))
}

// Time returns the header timestamp as a time.Time in UTC.
func (h *Header) Time() time.Time { return time.Unix(h.Timestamp, 0).UTC() }

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, b []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
	buf = append(buf, tmp[:]...)
	return append(buf, b...)
}
