package consensus

import (
	"github.com/veritaschain/consensus-core/bftmodule"
	"github.com/veritaschain/consensus-core/processor"
	"github.com/veritaschain/consensus-core/types"
)

// chainView composes the block processor's header/finalized-height
// reads with the BFT module's parameter and heights bookkeeping into
// commitpool.ChainView, since neither alone satisfies it (spec.md §4.4
// needs both the chain's persisted headers and the BFT module's
// piecewise-constant parameter schedule).
type chainView struct {
	*processor.Processor
	bft *bftmodule.Module
}

func (v *chainView) ParamsAt(height int64) (*types.BFTParameters, error) {
	return v.bft.ParamsAt(height)
}

func (v *chainView) NextParamChangeHeight(fromHeight int64) (int64, bool) {
	return v.bft.NextParamChangeHeight(fromHeight)
}

func (v *chainView) Heights() types.BFTHeights {
	return v.bft.Heights()
}

// MaxRemovalHeightAt returns the aggregate-commit height recorded in
// the header at finalizedHeight, or 0 if that block carries none
// (spec.md §3's maxRemovalHeight, GLOSSARY).
func (v *chainView) MaxRemovalHeightAt(finalizedHeight int64) (int64, error) {
	h, err := v.Processor.HeaderAt(finalizedHeight)
	if err != nil {
		return 0, err
	}
	if h == nil || h.AggregateCommit == nil {
		return 0, nil
	}
	return h.AggregateCommit.Height, nil
}
