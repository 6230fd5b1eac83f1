package types

// Validator is one member of the active BFT validator set at a given
// height, ordered by Index (spec.md §4.4 tie-break rule: validators
// within an AggregateCommit are ordered strictly by validator-set
// index).
type Validator struct {
	Index     int
	Address   Address
	BLSPubKey []byte
	BFTWeight uint64
}

// BFTParameters are piecewise-constant: they change only at explicitly
// stored parameter-change heights (spec.md §3).
type BFTParameters struct {
	CertificateThreshold uint64
	Validators           []Validator
}

// WeightOf returns the BFT weight of the validator at addr, or
// (0, false) if addr is not part of this parameter set.
func (p *BFTParameters) WeightOf(addr Address) (uint64, bool) {
	for _, v := range p.Validators {
		if v.Address == addr {
			return v.BFTWeight, true
		}
	}
	return 0, false
}

// IndexOf returns the validator-set index of addr, or (-1, false).
func (p *BFTParameters) IndexOf(addr Address) (int, bool) {
	for _, v := range p.Validators {
		if v.Address == addr {
			return v.Index, true
		}
	}
	return -1, false
}

// WeightedSum sums the BFT weight of every validator whose bit is set
// in bits (spec.md §4.4's threshold check, invariant I4).
func (p *BFTParameters) WeightedSum(bits []byte) uint64 {
	var total uint64
	for _, v := range p.Validators {
		if BitSet(bits, v.Index) {
			total += v.BFTWeight
		}
	}
	return total
}

// BFTHeights are the derived, monotone heights the BFT module
// maintains (spec.md §3 GLOSSARY): the greatest height with a stored
// aggregate commit, the greatest height with a local prevote quorum,
// and the greatest height with a local prevote observation.
type BFTHeights struct {
	MaxHeightCertified    int64
	MaxHeightPrecommitted int64
	MaxHeightPrevoted     int64
}

// ParamsProvider resolves BFT parameters by height and locates the
// next parameter-change height above a given height. It is owned by
// the state machine / BFT module, external to this data-model package.
type ParamsProvider interface {
	ParamsAt(height int64) (*BFTParameters, error)
	// NextParamChangeHeight returns the smallest parameter-change
	// height strictly greater than fromHeight, and false if none is
	// scheduled (parameters at fromHeight extend indefinitely).
	NextParamChangeHeight(fromHeight int64) (int64, bool)
}

// HeightsProvider exposes the BFT module's derived heights to the
// block processor and commit pool.
type HeightsProvider interface {
	Heights() BFTHeights
}
