package types

import (
	"encoding/binary"
	"fmt"
)

// Encode/Decode below serialize the full data model, signature
// included, for the store package. They reuse the same fixed-order,
// length-prefixed scheme as CanonicalBytes rather than introducing a
// second wire format; see DESIGN.md for why this codec, not a
// generated one, backs on-disk records.

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 8 {
		d.err = fmt.Errorf("types: short buffer reading uint64")
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[:8])
	d.buf = d.buf[8:]
	return v
}

func (d *decoder) fixed(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = fmt.Errorf("types: short buffer reading %d fixed bytes", n)
		return nil
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) bytes() []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < 4 {
		d.err = fmt.Errorf("types: short buffer reading length prefix")
		return nil
	}
	n := binary.BigEndian.Uint32(d.buf[:4])
	d.buf = d.buf[4:]
	if uint32(len(d.buf)) < n {
		d.err = fmt.Errorf("types: short buffer reading %d bytes", n)
		return nil
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 1 {
		d.err = fmt.Errorf("types: short buffer reading byte")
		return 0
	}
	v := d.buf[0]
	d.buf = d.buf[1:]
	return v
}

// EncodeAggregateCommit appends the full aggregate commit, including
// the height already covered by CanonicalBytes, to buf.
func EncodeAggregateCommit(buf []byte, a *AggregateCommit) []byte {
	return appendBytes(buf, a.CanonicalBytes())
}

func DecodeAggregateCommit(d *decoder) *AggregateCommit {
	inner := &decoder{buf: d.bytes()}
	if d.err != nil {
		return nil
	}
	a := &AggregateCommit{}
	a.Height = int64(inner.uint64())
	a.AggregationBits = append([]byte(nil), inner.bytes()...)
	a.CertificateSignature = append([]byte(nil), inner.bytes()...)
	if inner.err != nil {
		d.err = inner.err
		return nil
	}
	return a
}

// EncodeHeader serializes h including its signature.
func EncodeHeader(h *Header) []byte {
	buf := h.CanonicalBytes()
	return appendBytes(buf, h.Signature)
}

// DecodeHeader is the inverse of EncodeHeader. It re-derives fields in
// the same order CanonicalBytes writes them.
func DecodeHeader(raw []byte) (*Header, error) {
	d := &decoder{buf: raw}
	h := &Header{}
	h.Height = int64(d.uint64())
	copy(h.PreviousBlockID[:], d.fixed(IDSize))
	copy(h.GeneratorAddress[:], d.fixed(AddressSize))
	h.Timestamp = int64(d.uint64())
	h.Version = d.byte()
	h.TransactionRoot = append([]byte(nil), d.bytes()...)
	h.StateRoot = append([]byte(nil), d.bytes()...)
	h.ValidatorsHash = append([]byte(nil), d.bytes()...)
	if d.byte() == 1 {
		h.AggregateCommit = DecodeAggregateCommit(d)
	}
	h.MaxHeightGenerated = int64(d.uint64())
	h.MaxHeightPrevoted = int64(d.uint64())
	h.Signature = append([]byte(nil), d.bytes()...)
	if d.err != nil {
		return nil, d.err
	}
	return h, nil
}

// EncodeTransaction serializes a standalone transaction the same way
// encodeTx does inside a block, for the TX:<id> store record.
func EncodeTransaction(t *Transaction) []byte { return encodeTx(t) }

// DecodeTransaction is the inverse of EncodeTransaction.
func DecodeTransaction(raw []byte) (*Transaction, error) { return decodeTx(raw) }

// EncodeBlock serializes a full block: header, assets, then the
// transaction list, each transaction self-length-prefixed so its
// variable-length module string can be recovered.
func EncodeBlock(b *Block) []byte {
	buf := appendBytes(nil, EncodeHeader(&b.Header))
	buf = appendBytes(buf, b.Assets)
	buf = appendUint64(buf, uint64(len(b.Payload)))
	for i := range b.Payload {
		buf = appendBytes(buf, encodeTx(&b.Payload[i]))
	}
	return buf
}

func encodeTx(t *Transaction) []byte {
	buf := appendBytes(nil, []byte(t.Module))
	buf = appendUint64(buf, uint64(t.AssetID))
	buf = append(buf, t.SenderAddress[:]...)
	buf = appendUint64(buf, t.Nonce)
	buf = appendUint64(buf, t.Fee)
	buf = appendBytes(buf, t.Params)
	buf = appendBytes(buf, t.Signature)
	return buf
}

func decodeTx(raw []byte) (*Transaction, error) {
	d := &decoder{buf: raw}
	t := &Transaction{}
	t.Module = string(d.bytes())
	t.AssetID = uint32(d.uint64())
	copy(t.SenderAddress[:], d.fixed(AddressSize))
	t.Nonce = d.uint64()
	t.Fee = d.uint64()
	t.Params = append([]byte(nil), d.bytes()...)
	t.Signature = append([]byte(nil), d.bytes()...)
	if d.err != nil {
		return nil, d.err
	}
	return t, nil
}

func DecodeBlock(raw []byte) (*Block, error) {
	d := &decoder{buf: raw}
	headerBytes := d.bytes()
	if d.err != nil {
		return nil, d.err
	}
	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	b := &Block{Header: *header}
	b.Assets = append([]byte(nil), d.bytes()...)
	n := d.uint64()
	b.Payload = make([]Transaction, 0, n)
	for i := uint64(0); i < n; i++ {
		txBytes := d.bytes()
		if d.err != nil {
			return nil, d.err
		}
		tx, err := decodeTx(txBytes)
		if err != nil {
			return nil, err
		}
		b.Payload = append(b.Payload, *tx)
	}
	if d.err != nil {
		return nil, d.err
	}
	return b, nil
}

// EncodeSingleCommit serializes a single commit for pending-pool
// storage.
func EncodeSingleCommit(c *SingleCommit) []byte {
	buf := c.BlockID[:]
	buf = appendUint64(buf, uint64(c.Height))
	buf = append(buf, c.ValidatorAddress[:]...)
	buf = appendBytes(buf, c.CertificateSignature)
	return buf
}

func DecodeSingleCommit(raw []byte) (*SingleCommit, error) {
	d := &decoder{buf: raw}
	c := &SingleCommit{}
	copy(c.BlockID[:], d.fixed(IDSize))
	c.Height = int64(d.uint64())
	copy(c.ValidatorAddress[:], d.fixed(AddressSize))
	c.CertificateSignature = append([]byte(nil), d.bytes()...)
	if d.err != nil {
		return nil, d.err
	}
	return c, nil
}
