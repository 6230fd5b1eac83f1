package network

import (
	"encoding/binary"
	"fmt"

	"github.com/veritaschain/consensus-core/types"
)

// The wire messages below follow the same fixed-order,
// length-prefixed scheme as types.Header's CanonicalBytes (spec.md
// §6), rather than a second, generated codec.

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint8(buf []byte, v uint8) []byte { return append(buf, v) }

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type wireDecoder struct {
	buf []byte
	err error
}

func (d *wireDecoder) uint32() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 4 {
		d.err = fmt.Errorf("network: short buffer reading uint32")
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[:4])
	d.buf = d.buf[4:]
	return v
}

func (d *wireDecoder) uint8() uint8 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 1 {
		d.err = fmt.Errorf("network: short buffer reading uint8")
		return 0
	}
	v := d.buf[0]
	d.buf = d.buf[1:]
	return v
}

func (d *wireDecoder) fixed(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = fmt.Errorf("network: short buffer reading %d fixed bytes", n)
		return nil
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v
}

func (d *wireDecoder) bytes() []byte {
	n := d.uint32()
	return d.fixed(int(n))
}

// nodeInfo is postNodeInfo's payload: { height, maxHeightPrevoted,
// lastBlockID, blockVersion } (spec.md §6).
type nodeInfo struct {
	Height            int64
	MaxHeightPrevoted int64
	LastBlockID       types.BlockID
	BlockVersion      uint8
}

func encodeNodeInfo(n nodeInfo) []byte {
	buf := appendUint32(nil, uint32(n.Height))
	buf = appendUint32(buf, uint32(n.MaxHeightPrevoted))
	buf = append(buf, n.LastBlockID[:]...)
	buf = appendUint8(buf, n.BlockVersion)
	return buf
}

func decodeNodeInfo(raw []byte) (nodeInfo, error) {
	d := &wireDecoder{buf: raw}
	var n nodeInfo
	n.Height = int64(d.uint32())
	n.MaxHeightPrevoted = int64(d.uint32())
	copy(n.LastBlockID[:], d.fixed(types.IDSize))
	n.BlockVersion = d.uint8()
	if d.err != nil {
		return nodeInfo{}, d.err
	}
	return n, nil
}

// encodeBlocksFromIDRequest/decodeBlocksFromIDRequest carry
// getBlocksFromId's { blockID: 32B, maxBlocks }, and
// encodeHeadersRequest/decodeHeadersRequest carry getHeaders'
// { fromHeight, count }.

func encodeBlocksFromIDRequest(id types.BlockID, maxBlocks int) []byte {
	buf := append([]byte(nil), id[:]...)
	return appendUint32(buf, uint32(maxBlocks))
}

func decodeBlocksFromIDRequest(raw []byte) (types.BlockID, int, error) {
	d := &wireDecoder{buf: raw}
	var id types.BlockID
	copy(id[:], d.fixed(types.IDSize))
	n := d.uint32()
	if d.err != nil {
		return types.BlockID{}, 0, d.err
	}
	return id, int(n), nil
}

func encodeBlockList(blocks []*types.Block) []byte {
	buf := appendUint32(nil, uint32(len(blocks)))
	for _, b := range blocks {
		buf = appendBytes(buf, types.EncodeBlock(b))
	}
	return buf
}

func decodeBlockList(raw []byte) ([]*types.Block, error) {
	d := &wireDecoder{buf: raw}
	n := d.uint32()
	if d.err != nil {
		return nil, d.err
	}
	blocks := make([]*types.Block, 0, n)
	for i := uint32(0); i < n; i++ {
		bz := d.bytes()
		if d.err != nil {
			return nil, d.err
		}
		b, err := types.DecodeBlock(bz)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func encodeHeadersRequest(fromHeight int64, count int) []byte {
	buf := appendUint32(nil, uint32(fromHeight))
	return appendUint32(buf, uint32(count))
}

func decodeHeadersRequest(raw []byte) (int64, int, error) {
	d := &wireDecoder{buf: raw}
	from := d.uint32()
	count := d.uint32()
	if d.err != nil {
		return 0, 0, d.err
	}
	return int64(from), int(count), nil
}

func encodeHeaderList(headers []*types.Header) []byte {
	buf := appendUint32(nil, uint32(len(headers)))
	for _, h := range headers {
		buf = appendBytes(buf, types.EncodeHeader(h))
	}
	return buf
}

func decodeHeaderList(raw []byte) ([]*types.Header, error) {
	d := &wireDecoder{buf: raw}
	n := d.uint32()
	if d.err != nil {
		return nil, d.err
	}
	headers := make([]*types.Header, 0, n)
	for i := uint32(0); i < n; i++ {
		bz := d.bytes()
		if d.err != nil {
			return nil, d.err
		}
		h, err := types.DecodeHeader(bz)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}

// encodeIDList/decodeIDList carry getHighestCommonBlock's candidate
// probe list.
func encodeIDList(ids []types.BlockID) []byte {
	buf := appendUint32(nil, uint32(len(ids)))
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeIDList(raw []byte) ([]types.BlockID, error) {
	d := &wireDecoder{buf: raw}
	n := d.uint32()
	if d.err != nil {
		return nil, d.err
	}
	ids := make([]types.BlockID, 0, n)
	for i := uint32(0); i < n; i++ {
		var id types.BlockID
		copy(id[:], d.fixed(types.IDSize))
		if d.err != nil {
			return nil, d.err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// encodeOptionalID/decodeOptionalID carries getHighestCommonBlock's
// `{ id: 32B | null }` response, using the same presence-flag idiom
// the processor's diff codec uses for nil-vs-empty.
func encodeOptionalID(id types.BlockID, ok bool) []byte {
	if !ok {
		return []byte{0}
	}
	buf := []byte{1}
	return append(buf, id[:]...)
}

func decodeOptionalID(raw []byte) (types.BlockID, bool, error) {
	d := &wireDecoder{buf: raw}
	present := d.uint8()
	if d.err != nil {
		return types.BlockID{}, false, d.err
	}
	if present == 0 {
		return types.BlockID{}, false, nil
	}
	var id types.BlockID
	copy(id[:], d.fixed(types.IDSize))
	if d.err != nil {
		return types.BlockID{}, false, d.err
	}
	return id, true, nil
}
