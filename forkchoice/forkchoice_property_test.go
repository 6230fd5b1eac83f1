package forkchoice

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/veritaschain/consensus-core/types"
)

// B1: for two same-height, same-slot headers whose sighter has already
// reached the header's slot, TIE_BREAK fires exactly when the tip was
// received strictly after its slot ended; at or before, it's a
// DISCARD. GeneratorAddress differs so the DOUBLE_FORGING branch never
// preempts the check, and MaxHeightPrevoted is held equal on both
// sides so the DIFFERENT_CHAIN branch never preempts it either.
func TestClassifyTieBreakBoundaryAtSlotEnd(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		slotLen := rapid.Int64Range(2, 100).Draw(t, "slotLen").(int64)
		tSlot := rapid.Int64Range(0, 50).Draw(t, "tSlot").(int64)
		offset := rapid.Int64Range(0, slotLen-1).Draw(t, "offset").(int64)
		currentSlot := rapid.Int64Range(tSlot, tSlot+50).Draw(t, "currentSlot").(int64)
		delta := rapid.Int64Range(-5, 5).Draw(t, "delta").(int64)

		slots := fixedSlots{slotLen: slotLen, current: currentSlot}
		height := rapid.Int64Range(1, 1000).Draw(t, "height").(int64)
		prevoted := rapid.Int64Range(0, 1000).Draw(t, "prevoted").(int64)

		tip := &types.Header{
			Height:            height,
			GeneratorAddress:  types.Address{1},
			Timestamp:         tSlot * slotLen,
			MaxHeightPrevoted: prevoted,
		}
		h := &types.Header{
			Height:            height,
			GeneratorAddress:  types.Address{2},
			Timestamp:         tSlot*slotLen + offset,
			MaxHeightPrevoted: prevoted,
		}

		slotEnd := slots.SlotEnd(tSlot)
		receivedAtTip := slotEnd + delta

		e := New(slots, 16)
		status := e.Classify(h, tip, receivedAtTip)

		if delta > 0 {
			require.Equal(t, TieBreak, status)
		} else {
			require.Equal(t, Discard, status)
		}
	})
}
