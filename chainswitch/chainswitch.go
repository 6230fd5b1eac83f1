// Package chainswitch implements the Fast-Chain-Switch Mechanism (C6,
// spec.md §4.6): a short header-walk to find a nearby common ancestor,
// then the same revert/apply/restore shape as blocksync but bounded to
// a small window instead of batch RPCs. Grounded on the same
// internal/blocksync ancestry as the block-sync mechanism, narrowed to
// the "peer tip is close" case.
package chainswitch

import (
	"context"
	"fmt"

	"github.com/veritaschain/consensus-core/internal/consenserr"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	"github.com/veritaschain/consensus-core/sync"
	"github.com/veritaschain/consensus-core/types"
)

// TwoRounds bounds how far back this mechanism will walk looking for a
// common ancestor, and how far ahead a peer's tip may be for this
// mechanism (rather than block-sync) to claim the DIFFERENT_CHAIN case
// (spec.md §4.6, Design Notes' TWO_ROUNDS resolution).
const TwoRounds = 2

// Mechanism implements sync.Mechanism for nearby forks.
type Mechanism struct {
	logger  log.Logger
	metrics *metrics.Metrics
}

func New(logger log.Logger) *Mechanism { return &Mechanism{logger: logger, metrics: metrics.NopMetrics()} }

// SetMetrics attaches a Prometheus collector.
func (m *Mechanism) SetMetrics(mm *metrics.Metrics) { m.metrics = mm }

func (m *Mechanism) Name() string { return "fast-chain-switch" }

// IsValidFor claims a peer within TwoRounds blocks of our tip.
func (m *Mechanism) IsValidFor(peer sync.PeerInfo, tip *types.Header) bool {
	diff := peer.Height - tip.Height
	return diff >= -TwoRounds && diff <= TwoRounds
}

// Run implements spec.md §4.6: walk back at most TwoRounds headers
// looking for a shared ancestor; if none is found within the window,
// decline so the supervisor falls through to block-sync (spec.md
// §4.6's "decline") instead of returning to idle.
func (m *Mechanism) Run(ctx context.Context, executor sync.BlockExecutor, rpc sync.RPCClient, peer sync.PeerInfo) error {
	tip, err := executor.Tip()
	if err != nil {
		return fmt.Errorf("chainswitch: loading tip: %w", err)
	}

	fromHeight := tip.Height - TwoRounds
	if fromHeight < 0 {
		fromHeight = 0
	}
	peerHeaders, err := rpc.GetHeaders(ctx, peer.PeerID, fromHeight, int(tip.Height-fromHeight)+1)
	if err != nil {
		return consenserr.NewRestartError(peer.PeerID, err)
	}

	ancestor, err := m.findCommonAncestor(executor, peerHeaders, fromHeight)
	if err != nil {
		return err
	}
	if ancestor == nil {
		return consenserr.NewDeclineError(fmt.Errorf("chainswitch: no common ancestor with peer %s within %d blocks", peer.PeerID, TwoRounds))
	}

	for h := tip.Height; h > ancestor.Height; h-- {
		if err := executor.DeleteLastBlock(true); err != nil {
			return fmt.Errorf("chainswitch: reverting to ancestor %d: %w", ancestor.Height, err)
		}
	}

	fromID := ancestor.ID()
	blocks, err := rpc.GetBlocksFromID(ctx, peer.PeerID, fromID, int(tip.Height-ancestor.Height+1))
	if err != nil {
		if restoreErr := executor.RestoreTempBlocks(); restoreErr != nil {
			m.logger.Error("chainswitch: restoring temp blocks after fetch failure", "err", restoreErr)
		}
		return consenserr.NewRestartError(peer.PeerID, err)
	}

	for _, b := range blocks {
		if err := executor.Verify(b); err != nil {
			if restoreErr := executor.RestoreTempBlocks(); restoreErr != nil {
				m.logger.Error("chainswitch: restoring temp blocks after verify failure", "err", restoreErr)
			}
			return consenserr.NewApplyPenaltyAndRestartError(peer.PeerID, fmt.Errorf("chainswitch: block %d failed verification: %w", b.Header.Height, err))
		}
		if err := executor.ExecuteValidated(b, true, true); err != nil {
			if restoreErr := executor.RestoreTempBlocks(); restoreErr != nil {
				m.logger.Error("chainswitch: restoring temp blocks after execute failure", "err", restoreErr)
			}
			return consenserr.NewApplyPenaltyAndRestartError(peer.PeerID, fmt.Errorf("chainswitch: block %d failed execution: %w", b.Header.Height, err))
		}
	}

	m.metrics.ChainSwitches.Add(1)
	return executor.RestoreTempBlocks()
}

// findCommonAncestor compares the peer's headers against our own,
// height by height, returning the highest one that matches.
func (m *Mechanism) findCommonAncestor(executor sync.BlockExecutor, peerHeaders []*types.Header, fromHeight int64) (*types.Header, error) {
	byHeight := make(map[int64]*types.Header, len(peerHeaders))
	for _, h := range peerHeaders {
		byHeight[h.Height] = h
	}

	var best *types.Header
	for height := fromHeight; ; height++ {
		peerHeader, ok := byHeight[height]
		if !ok {
			break
		}
		localHeader, err := executor.HeaderAt(height)
		if err != nil {
			return nil, fmt.Errorf("chainswitch: loading local header at %d: %w", height, err)
		}
		if localHeader == nil || localHeader.ID() != peerHeader.ID() {
			break
		}
		best = localHeader
	}
	return best, nil
}
