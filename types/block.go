package types

import (
	tmbytes "github.com/veritaschain/consensus-core/libs/bytes"
)

// Transaction is the generic envelope the state machine executor
// dispatches by (Module, AssetID); the concrete per-asset state
// transition (transfer, vote, multisignature, delegate registration,
// ...) is an external collaborator (spec.md §1).
type Transaction struct {
	Module        string
	AssetID       uint32
	SenderAddress Address
	Nonce         uint64
	Fee           uint64
	Params        []byte
	Signature     tmbytes.HexBytes
}

// ID is the hash of the transaction's canonical bytes, used for the
// TX:<id> store key and the transaction root.
func (t *Transaction) ID() BlockID {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(t.Module)...)
	buf = appendUint64(buf, uint64(t.AssetID))
	buf = append(buf, t.SenderAddress[:]...)
	buf = appendUint64(buf, t.Nonce)
	buf = appendUint64(buf, t.Fee)
	buf = appendBytes(buf, t.Params)
	return blockIDOfCanonical(buf)
}

// SigningBytes returns the bytes a sender signs: everything but the
// signature itself.
func (t *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(t.Module)...)
	buf = appendUint64(buf, uint64(t.AssetID))
	buf = append(buf, t.SenderAddress[:]...)
	buf = appendUint64(buf, t.Nonce)
	buf = appendUint64(buf, t.Fee)
	buf = appendBytes(buf, t.Params)
	return buf
}

// Block is (Header, Assets, Payload) per spec.md §3. Assets carry
// block-level metadata (e.g. a random seed reveal) that is not itself
// a transaction; Payload is the ordered transaction list.
type Block struct {
	Header  Header
	Assets  []byte
	Payload []Transaction
}

// ID is the block's identity, equal to its header's id.
func (b *Block) ID() BlockID { return b.Header.ID() }
