package consensus

import "time"

// fixedSlotOracle maps wall-clock timestamps to slot numbers using a
// constant slot duration counted from a genesis timestamp, the way
// every round-robin DPoS chain in this corpus derives its forging
// schedule from block time rather than from an external clock service.
// It satisfies both forkchoice.SlotOracle and processor's use of the
// same interface.
type fixedSlotOracle struct {
	genesisTimestamp int64
	slotSeconds      int64
	now              func() time.Time
}

func newFixedSlotOracle(genesisTimestamp int64, slotDuration time.Duration) *fixedSlotOracle {
	seconds := int64(slotDuration / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &fixedSlotOracle{genesisTimestamp: genesisTimestamp, slotSeconds: seconds, now: time.Now}
}

func (o *fixedSlotOracle) SlotOf(timestamp int64) int64 {
	if timestamp <= o.genesisTimestamp {
		return 0
	}
	return (timestamp - o.genesisTimestamp) / o.slotSeconds
}

func (o *fixedSlotOracle) CurrentSlot() int64 {
	return o.SlotOf(o.now().Unix())
}

func (o *fixedSlotOracle) SlotEnd(slot int64) int64 {
	return o.genesisTimestamp + (slot+1)*o.slotSeconds
}
