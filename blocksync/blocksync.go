// Package blocksync implements the Block-Sync Mechanism (C5, spec.md
// §4.5): best-peer selection, common-ancestor probing, and batch block
// fetch-and-apply. It is grounded on the teacher's internal/blocksync
// pool/reactor split, generalized from tendermint's height-only peer
// bookkeeping to this spec's (height, maxHeightPrevoted) peer ordering
// and its own RestartError/AbortError/ApplyPenaltyAndRestartError
// taxonomy.
package blocksync

import (
	"context"
	"fmt"

	wr "github.com/mroth/weightedrand"

	"github.com/veritaschain/consensus-core/internal/consenserr"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	"github.com/veritaschain/consensus-core/sync"
	"github.com/veritaschain/consensus-core/types"
)

// MaxBlocksPerBatch bounds a single getBlocksFromId response, spec.md §4.5 step 6's N.
const MaxBlocksPerBatch = 100

// MaxCommonBlockProbes bounds getHighestCommonBlock's probe list
// (spec.md's Design Notes resolution of an Open Question).
const MaxCommonBlockProbes = 20

// FarAheadThreshold is how many blocks ahead a peer must be, beyond
// the fast-chain-switch window, before block-sync (rather than
// fast-chain-switch) claims a DIFFERENT_CHAIN case.
const FarAheadThreshold = 2 // matches C6's TWO_ROUNDS boundary; C6 claims peers within this many blocks, C5 claims peers further ahead.

// PeerSet ranks candidate peers for best-peer selection.
type PeerSet interface {
	// Candidates returns every known peer whose (height,
	// maxHeightPrevoted) beats ours.
	Candidates(ourHeight, ourMaxHeightPrevoted int64) []sync.PeerInfo
}

// Mechanism implements sync.Mechanism for far-ahead peers.
type Mechanism struct {
	logger  log.Logger
	peers   PeerSet
	sampleK int
	metrics *metrics.Metrics
}

// SetMetrics attaches a Prometheus collector.
func (m *Mechanism) SetMetrics(mm *metrics.Metrics) { m.metrics = mm }

// DefaultSampleK is the default candidate-peer sample width for
// SelectBestPeer; a purely local tuning knob with no cross-node
// protocol implication, unlike MaxBlocksPerBatch/FarAheadThreshold.
const DefaultSampleK = 3

func New(logger log.Logger, peers PeerSet, sampleK int) *Mechanism {
	if sampleK <= 0 {
		sampleK = DefaultSampleK
	}
	return &Mechanism{logger: logger, peers: peers, sampleK: sampleK, metrics: metrics.NopMetrics()}
}

func (m *Mechanism) Name() string { return "block-sync" }

// IsValidFor claims a peer whose tip is more than FarAheadThreshold
// blocks beyond our own, per spec.md §4.5's "far ahead" trigger; peers
// within that window are left to fast-chain-switch (C6).
func (m *Mechanism) IsValidFor(peer sync.PeerInfo, tip *types.Header) bool {
	return peer.Height > tip.Height+FarAheadThreshold
}

// SelectBestPeer implements spec.md §4.5 step 1: highest
// maxHeightPrevoted wins, ties broken by highest height, remaining
// ties broken by sampling from the top k with weight 1 each.
func SelectBestPeer(candidates []sync.PeerInfo, k int) (sync.PeerInfo, bool) {
	if len(candidates) == 0 {
		return sync.PeerInfo{}, false
	}
	ranked := append([]sync.PeerInfo(nil), candidates...)
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if better(ranked[j], ranked[i]) {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	n := 1
	for n < k && !better(ranked[0], ranked[n]) {
		n++
	}
	top := ranked[:n]
	if len(top) == 1 {
		return top[0], true
	}

	choices := make([]wr.Choice, len(top))
	for i, p := range top {
		choices[i] = wr.Choice{Item: p, Weight: 1}
	}
	chooser, err := wr.NewChooser(choices...)
	if err != nil {
		return top[0], true
	}
	return chooser.Pick().(sync.PeerInfo), true
}

func better(a, b sync.PeerInfo) bool {
	if a.MaxHeightPrevoted != b.MaxHeightPrevoted {
		return a.MaxHeightPrevoted > b.MaxHeightPrevoted
	}
	return a.Height > b.Height
}

// Run implements spec.md §4.5 steps 2-9.
func (m *Mechanism) Run(ctx context.Context, executor sync.BlockExecutor, rpc sync.RPCClient, peer sync.PeerInfo) error {
	candidates := m.peers.Candidates(mustHeight(executor), 0)
	best, ok := SelectBestPeer(candidates, m.sampleK)
	if !ok {
		best = peer
	}

	lastBlock, err := rpc.GetLastBlock(ctx, best.PeerID)
	if err != nil {
		return consenserr.NewRestartError(best.PeerID, err)
	}
	if lastBlock == nil {
		return consenserr.NewRestartError(best.PeerID, fmt.Errorf("blocksync: peer returned no last block"))
	}

	tip, err := executor.Tip()
	if err != nil {
		return fmt.Errorf("blocksync: loading tip: %w", err)
	}
	probeIDs, err := probeIDs(executor, tip.Height)
	if err != nil {
		return fmt.Errorf("blocksync: building common-block probe: %w", err)
	}

	commonID, found, err := rpc.GetHighestCommonBlock(ctx, best.PeerID, probeIDs)
	if err != nil {
		return consenserr.NewRestartError(best.PeerID, err)
	}
	if !found {
		return consenserr.NewAbortError(fmt.Errorf("blocksync: no common block with peer %s", best.PeerID))
	}

	commonHeader, err := headerByID(executor, commonID)
	if err != nil {
		return fmt.Errorf("blocksync: loading common block header: %w", err)
	}
	if commonHeader.Height < executor.FinalizedHeight() {
		return consenserr.NewAbortError(fmt.Errorf("blocksync: common block %d below finalized height %d", commonHeader.Height, executor.FinalizedHeight()))
	}

	for h := tip.Height; h > commonHeader.Height; h-- {
		if err := executor.DeleteLastBlock(true); err != nil {
			return fmt.Errorf("blocksync: reverting to common block: %w", err)
		}
	}

	fromID := commonID
	for {
		blocks, err := rpc.GetBlocksFromID(ctx, best.PeerID, fromID, MaxBlocksPerBatch)
		if err != nil {
			return consenserr.NewRestartError(best.PeerID, err)
		}
		if len(blocks) == 0 {
			break
		}
		m.metrics.BlockSyncBatches.Add(1)
		for _, b := range blocks {
			if err := executor.Verify(b); err != nil {
				return consenserr.NewApplyPenaltyAndRestartError(best.PeerID, fmt.Errorf("blocksync: block %d failed verification: %w", b.Header.Height, err))
			}
			if err := executor.ExecuteValidated(b, true, true); err != nil {
				return consenserr.NewApplyPenaltyAndRestartError(best.PeerID, fmt.Errorf("blocksync: block %d failed execution: %w", b.Header.Height, err))
			}
			fromID = b.ID()
		}
		if len(blocks) < MaxBlocksPerBatch {
			break
		}
	}

	return executor.RestoreTempBlocks()
}

func mustHeight(executor sync.BlockExecutor) int64 {
	tip, err := executor.Tip()
	if err != nil || tip == nil {
		return 0
	}
	return tip.Height
}

func headerByID(executor sync.BlockExecutor, id types.BlockID) (*types.Header, error) {
	header, err := executor.HeaderByID(id)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("blocksync: block id %s not found locally", id)
	}
	return header, nil
}

// probeIDs builds the geometric probe list of spec.md §4.5 step 3: ids
// at heights tip, tip-1, tip-3, tip-7, ... (the gap doubling each
// step), then genesis, capped at MaxCommonBlockProbes entries.
func probeIDs(executor sync.BlockExecutor, tip int64) ([]types.BlockID, error) {
	var heights []int64
	h := tip
	step := int64(1)
	for h > 0 && len(heights) < MaxCommonBlockProbes-1 {
		heights = append(heights, h)
		h -= step
		step *= 2
	}
	heights = append(heights, 0)

	ids := make([]types.BlockID, 0, len(heights))
	for _, height := range heights {
		if height < 0 {
			continue
		}
		header, err := executor.HeaderAt(height)
		if err != nil {
			return nil, err
		}
		if header == nil {
			continue
		}
		ids = append(ids, header.ID())
	}
	return ids, nil
}
