// Package sync is the Synchronizer Supervisor (C7, spec.md §4.7). It
// holds an ordered list of sync mechanisms and translates the error
// taxonomy of internal/consenserr into penalty application and retry,
// the way the teacher's blocksync reactor translates peer errors into
// PeerBehaviour reports, generalized to the mechanism-composition model
// this spec calls for.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veritaschain/consensus-core/internal/consenserr"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	"github.com/veritaschain/consensus-core/types"
)

// PeerInfo is a peer's last advertised chain position (spec.md §4.8's
// postNodeInfo payload).
type PeerInfo struct {
	PeerID            string
	Height            int64
	MaxHeightPrevoted int64
	BlockVersion      uint8
}

// RPCClient is the subset of the network endpoint (C8) a sync
// mechanism needs to pull blocks from a peer.
type RPCClient interface {
	GetLastBlock(ctx context.Context, peerID string) (*types.Block, error)
	// GetHighestCommonBlock sends candidateIDs (a geometric probe from
	// tip down to genesis) and returns the last one the peer also has,
	// or (zero value, false) if none match.
	GetHighestCommonBlock(ctx context.Context, peerID string, candidateIDs []types.BlockID) (types.BlockID, bool, error)
	// GetBlocksFromID returns up to maxBlocks sequential blocks
	// starting immediately after fromID.
	GetBlocksFromID(ctx context.Context, peerID string, fromID types.BlockID, maxBlocks int) ([]*types.Block, error)
	// GetHeaders is used by the fast-chain-switch mechanism's shallow
	// ancestor walk.
	GetHeaders(ctx context.Context, peerID string, fromHeight int64, count int) ([]*types.Header, error)
	// ApplyPenalty reports peer misbehavior to the network layer.
	ApplyPenalty(peerID string, amount int)
}

// BlockExecutor is the chain-mutating capability the Consensus
// Coordinator hands to sync mechanisms, so mechanisms never touch the
// chain directly (spec.md §3's ownership note).
type BlockExecutor interface {
	FinalizedHeight() int64
	HeaderAt(height int64) (*types.Header, error)
	HeaderByID(id types.BlockID) (*types.Header, error)
	Tip() (*types.Header, error)
	// DeleteLastBlock reverts the tip by one block, per spec.md §4.3.
	DeleteLastBlock(saveTempBlock bool) error
	// Verify runs C3's verify(B) against the current tip.
	Verify(b *types.Block) error
	// ExecuteValidated runs C3's executeValidated pipeline.
	ExecuteValidated(b *types.Block, skipBroadcast, removeFromTempTable bool) error
	RestoreTempBlocks() error
}

// Mechanism is a sync strategy (block-sync, fast-chain-switch, ...).
// IsValidFor decides whether this mechanism owns the DIFFERENT_CHAIN
// case at hand; Run performs the sync.
type Mechanism interface {
	Name() string
	IsValidFor(peer PeerInfo, tip *types.Header) bool
	Run(ctx context.Context, executor BlockExecutor, rpc RPCClient, peer PeerInfo) error
}

// Supervisor iterates mechanisms in order and runs the first one that
// claims the DIFFERENT_CHAIN case, translating consenserr errors into
// penalty application and retry per spec.md §4.7.
type Supervisor struct {
	logger     log.Logger
	mechanisms []Mechanism
	rpc        RPCClient
	executor   BlockExecutor
	metrics    *metrics.Metrics

	mtx    sync.Mutex
	active bool
}

func New(logger log.Logger, executor BlockExecutor, rpc RPCClient, mechanisms ...Mechanism) *Supervisor {
	return &Supervisor{logger: logger, mechanisms: mechanisms, rpc: rpc, executor: executor, metrics: metrics.NopMetrics()}
}

// SetMetrics attaches a Prometheus collector.
func (s *Supervisor) SetMetrics(m *metrics.Metrics) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.metrics = m
}

// IsActive is true between entry and exit of Run.
func (s *Supervisor) IsActive() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.active
}

// Run selects the first mechanism whose IsValidFor matches and runs
// it, translating its error into penalty/retry/abort per spec.md §4.7.
// A mechanism that declines (spec.md §4.6) hands the attempt to the
// next mechanism in list order, bypassing its IsValidFor gate: decline
// is an explicit "not mine after all, try the fallback" signal, not a
// fresh ownership claim.
func (s *Supervisor) Run(ctx context.Context, peer PeerInfo) error {
	s.mtx.Lock()
	s.active = true
	s.mtx.Unlock()
	defer func() {
		s.mtx.Lock()
		s.active = false
		s.mtx.Unlock()
	}()

	tip, err := s.executor.Tip()
	if err != nil {
		return fmt.Errorf("sync: loading tip: %w", err)
	}

	start := -1
	for i, m := range s.mechanisms {
		if m.IsValidFor(peer, tip) {
			start = i
			break
		}
	}
	if start == -1 {
		return fmt.Errorf("sync: no mechanism claims peer %s", peer.PeerID)
	}

	for i := start; i < len(s.mechanisms); i++ {
		m := s.mechanisms[i]
		err := s.runMechanism(ctx, m, peer)
		var decline *consenserr.DeclineError
		if errors.As(err, &decline) {
			s.logger.Info("sync: mechanism declined, falling through", "mechanism", m.Name(), "peer", peer.PeerID, "reason", decline.Reason)
			continue
		}
		return err
	}
	return nil
}

func (s *Supervisor) runMechanism(ctx context.Context, m Mechanism, peer PeerInfo) error {
	s.metrics.SyncRunsStarted.Add(1)
	start := time.Now()
	err := m.Run(ctx, s.executor, s.rpc, peer)
	s.metrics.SyncDuration.With("mechanism", m.Name()).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	var penRestart *consenserr.ApplyPenaltyAndRestartError
	var restart *consenserr.RestartError
	var abort *consenserr.AbortError
	var decline *consenserr.DeclineError
	switch {
	case errors.As(err, &penRestart):
		s.rpc.ApplyPenalty(penRestart.Peer, penRestart.Penalty)
		s.logger.Info("sync: penalized peer, restarting mechanism", "mechanism", m.Name(), "peer", penRestart.Peer)
		return s.runMechanism(ctx, m, peer)
	case errors.As(err, &restart):
		s.logger.Info("sync: restarting mechanism", "mechanism", m.Name(), "peer", restart.Peer)
		return s.runMechanism(ctx, m, peer)
	case errors.As(err, &abort):
		s.logger.Info("sync: aborting mechanism", "mechanism", m.Name(), "reason", abort.Reason)
		return nil
	case errors.As(err, &decline):
		return err
	default:
		s.metrics.SyncRunsFailed.Add(1)
		return err
	}
}
