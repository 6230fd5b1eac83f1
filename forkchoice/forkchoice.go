// Package forkchoice classifies an incoming header against the current
// tip (spec.md §4.1). It is pure: no I/O, no locking, so the block
// processor can call it while holding the consensus mutex without
// risking a nested acquire. An LRU cache is layered on top of the pure
// classify to remember DOUBLE_FORGING verdicts for header/tip pairs
// already seen (a block identical to the tip is recognized by id
// before the cache is consulted), grounded on the teacher's use of
// hashicorp/golang-lru for hot-path lookups it wants to keep off the
// slow path.
package forkchoice

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/veritaschain/consensus-core/types"
)

// Status is the result of classifying an incoming header against a
// tip header (spec.md §4.1).
type Status int

const (
	Discard Status = iota
	IdenticalBlock
	DoubleForging
	TieBreak
	DifferentChain
	ValidBlock
)

func (s Status) String() string {
	switch s {
	case IdenticalBlock:
		return "IDENTICAL_BLOCK"
	case DoubleForging:
		return "DOUBLE_FORGING"
	case TieBreak:
		return "TIE_BREAK"
	case DifferentChain:
		return "DIFFERENT_CHAIN"
	case ValidBlock:
		return "VALID_BLOCK"
	default:
		return "DISCARD"
	}
}

// SlotOracle maps a timestamp to a slot number and reports the current
// slot, so the evaluator never reads a wall clock directly.
type SlotOracle interface {
	SlotOf(timestamp int64) int64
	CurrentSlot() int64
	SlotEnd(slot int64) int64
}

// Evaluator classifies incoming headers, with a small cache in front
// that remembers DOUBLE_FORGING verdicts.
type Evaluator struct {
	slots SlotOracle
	cache *lru.Cache
}

func New(slots SlotOracle, cacheSize int) *Evaluator {
	c, err := lru.New(cacheSize)
	if err != nil {
		panic(err)
	}
	return &Evaluator{slots: slots, cache: c}
}

// receivedAt records when a header was actually observed locally, kept
// out of the header itself so the same struct can be reused across
// arrivals (TIE_BREAK depends on it, spec.md B1).
type receivedAt struct {
	tipID types.BlockID
	at    int64
}

// Classify implements spec.md §4.1's decision table. receivedAtTip is
// the local receive time of the tip header, needed for the TIE_BREAK
// rule.
func (e *Evaluator) Classify(h, t *types.Header, receivedAtTip int64) Status {
	if h.ID() == t.ID() {
		return IdenticalBlock
	}

	if cached, ok := e.cache.Get(cacheKey(h.ID(), t.ID())); ok {
		return cached.(Status)
	}

	status := e.classify(h, t, receivedAtTip)
	// TIE_BREAK and DIFFERENT_CHAIN depend on receivedAtTip and
	// CurrentSlot(), both time-varying, so only DOUBLE_FORGING, which
	// depends solely on (h, t) themselves, is cached; IDENTICAL_BLOCK
	// has already returned above.
	if status == DoubleForging {
		e.cache.Add(cacheKey(h.ID(), t.ID()), status)
	}
	return status
}

func (e *Evaluator) classify(h, t *types.Header, receivedAtTip int64) Status {
	if h.Height == t.Height &&
		h.PreviousBlockID == t.PreviousBlockID &&
		h.GeneratorAddress == t.GeneratorAddress {
		return DoubleForging
	}

	if h.Height == t.Height && e.slots.SlotOf(h.Timestamp) == e.slots.SlotOf(t.Timestamp) {
		tSlot := e.slots.SlotOf(t.Timestamp)
		if e.slots.SlotOf(h.Timestamp) <= e.slots.CurrentSlot() && receivedAtTip > e.slots.SlotEnd(tSlot) {
			return TieBreak
		}
	}

	if h.Height == t.Height+1 && h.PreviousBlockID == t.ID() {
		return ValidBlock
	}

	if h.MaxHeightPrevoted > t.MaxHeightPrevoted ||
		(h.MaxHeightPrevoted == t.MaxHeightPrevoted && h.Height > t.Height) {
		return DifferentChain
	}

	return Discard
}

func cacheKey(a, b types.BlockID) [64]byte {
	var k [64]byte
	copy(k[:32], a[:])
	copy(k[32:], b[:])
	return k
}
