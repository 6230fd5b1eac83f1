package forkchoice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/types"
)

type fixedSlots struct {
	slotLen int64
	current int64
}

func (f fixedSlots) SlotOf(ts int64) int64   { return ts / f.slotLen }
func (f fixedSlots) CurrentSlot() int64      { return f.current }
func (f fixedSlots) SlotEnd(slot int64) int64 { return slot*f.slotLen + f.slotLen }

func TestClassifyIdentical(t *testing.T) {
	h := &types.Header{Height: 5}
	e := New(fixedSlots{slotLen: 10, current: 1}, 16)
	require.Equal(t, IdenticalBlock, e.Classify(h, h, 0))
}

func TestClassifyValidBlock(t *testing.T) {
	tip := &types.Header{Height: 5}
	h := &types.Header{Height: 6, PreviousBlockID: tip.ID()}
	e := New(fixedSlots{slotLen: 10, current: 1}, 16)
	require.Equal(t, ValidBlock, e.Classify(h, tip, 0))
}

func TestClassifyDoubleForging(t *testing.T) {
	var gen types.Address
	tip := &types.Header{Height: 5, GeneratorAddress: gen, Timestamp: 50}
	h := &types.Header{Height: 5, GeneratorAddress: gen, Timestamp: 51}
	e := New(fixedSlots{slotLen: 10, current: 5}, 16)
	require.Equal(t, DoubleForging, e.Classify(h, tip, 0))
}

func TestClassifyDifferentChain(t *testing.T) {
	tip := &types.Header{Height: 5, MaxHeightPrevoted: 3}
	h := &types.Header{Height: 5, MaxHeightPrevoted: 4, GeneratorAddress: types.Address{1}}
	e := New(fixedSlots{slotLen: 10, current: 1}, 16)
	require.Equal(t, DifferentChain, e.Classify(h, tip, 0))
}

func TestClassifyDiscard(t *testing.T) {
	tip := &types.Header{Height: 5, MaxHeightPrevoted: 4}
	h := &types.Header{Height: 5, MaxHeightPrevoted: 4, GeneratorAddress: types.Address{1}, Timestamp: 1000}
	e := New(fixedSlots{slotLen: 10, current: 100}, 16)
	require.Equal(t, Discard, e.Classify(h, tip, 0))
}
