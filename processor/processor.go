// Package processor is the Block Processor (C3, spec.md §4.3): the
// component that turns an incoming block, however it arrived, into a
// fork-choice decision and, where warranted, a verified state
// transition durably committed to the store. It is grounded on the
// teacher's blockchain/reactor.go respond-to-peer-block pipeline,
// generalized from tendermint's height-catch-up-only model to this
// spec's five-way fork-choice dispatch (extend, tie-break, discard,
// double-forging, hand-off-to-sync).
package processor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	dbm "github.com/tendermint/tm-db"

	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/events"
	"github.com/veritaschain/consensus-core/forkchoice"
	"github.com/veritaschain/consensus-core/internal/consenserr"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	"github.com/veritaschain/consensus-core/statemachine"
	"github.com/veritaschain/consensus-core/store"
	syncpkg "github.com/veritaschain/consensus-core/sync"
	"github.com/veritaschain/consensus-core/types"
)

// GeneratorSchedule resolves which validator is authorized to
// generate a block for a given slot (spec.md §4.3's "generator
// authorization for the slot"). It is owned by the BFT/DPoS module,
// external to this package.
type GeneratorSchedule interface {
	GeneratorAt(slot int64) (types.Address, error)
}

// BFTView is the subset of the BFT module's state the processor reads
// while verifying and executing blocks.
type BFTView interface {
	types.ParamsProvider
	types.HeightsProvider
}

// Broadcaster hands a newly-accepted block to the network endpoint
// for propagation (spec.md §4.3 step 5).
type Broadcaster interface {
	BroadcastBlock(b *types.Block) error
}

// Synchronizer is the capability the processor hands DIFFERENT_CHAIN
// headers to; concretely the C7 Synchronizer Supervisor.
type Synchronizer interface {
	Run(ctx context.Context, peer syncpkg.PeerInfo) error
	IsActive() bool
}

// Penalizer reports peer misbehavior to the network layer.
type Penalizer interface {
	ApplyPenalty(peerID string, amount int)
}

// Processor implements spec.md §4.3's public operations and also
// satisfies sync.BlockExecutor, so the Synchronizer Supervisor can
// drive it directly during a DIFFERENT_CHAIN hand-off.
type Processor struct {
	logger      log.Logger
	store       *store.Store
	fc          *forkchoice.Evaluator
	slots       forkchoice.SlotOracle
	exec        *statemachine.Executor
	bft         BFTView
	schedule    GeneratorSchedule
	version     uint8
	bus         *events.Bus
	broadcaster Broadcaster
	sync        Synchronizer
	penalizer   Penalizer
	pre         statemachine.PreBlockHook
	post        statemachine.PostBlockHook
	metrics     *metrics.Metrics

	mtx             sync.Mutex
	tip             *types.Header
	finalizedHeight int64
	receivedAtTip   int64
}

type Config struct {
	Store       *store.Store
	ForkChoice  *forkchoice.Evaluator
	Slots       forkchoice.SlotOracle
	Executor    *statemachine.Executor
	BFT         BFTView
	Schedule    GeneratorSchedule
	Version     uint8
	Bus         *events.Bus
	Broadcaster Broadcaster
	Sync        Synchronizer
	Penalizer   Penalizer
	Pre         statemachine.PreBlockHook
	Post        statemachine.PostBlockHook
}

// New loads the current tip from store and constructs a Processor.
func New(logger log.Logger, cfg Config) (*Processor, error) {
	p := &Processor{
		logger:      logger.With("module", "processor"),
		store:       cfg.Store,
		fc:          cfg.ForkChoice,
		slots:       cfg.Slots,
		exec:        cfg.Executor,
		bft:         cfg.BFT,
		schedule:    cfg.Schedule,
		version:     cfg.Version,
		bus:         cfg.Bus,
		broadcaster: cfg.Broadcaster,
		sync:        cfg.Sync,
		penalizer:   cfg.Penalizer,
		pre:         cfg.Pre,
		post:        cfg.Post,
		metrics:     metrics.NopMetrics(),
	}
	height, err := cfg.Store.Height()
	if err != nil {
		return nil, fmt.Errorf("processor: loading store height: %w", err)
	}
	tip, err := cfg.Store.LoadBlockByHeight(height)
	if err != nil {
		return nil, fmt.Errorf("processor: loading tip block: %w", err)
	}
	if tip != nil {
		p.tip = &tip.Header
	}
	fh, err := cfg.Store.FinalizedHeight()
	if err != nil {
		return nil, fmt.Errorf("processor: loading finalized height: %w", err)
	}
	p.finalizedHeight = fh
	return p, nil
}

// SetSynchronizer wires the Synchronizer Supervisor in after
// construction, breaking the construction cycle between the processor
// (which the supervisor needs as its sync.BlockExecutor) and the
// supervisor (which the processor needs as its Synchronizer), the way
// the teacher's reactors wire in their Switch post-construction.
func (p *Processor) SetSynchronizer(s Synchronizer) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.sync = s
}

// SetMetrics attaches a Prometheus collector; components never given
// one report through the discard sinks of metrics.NopMetrics.
func (p *Processor) SetMetrics(m *metrics.Metrics) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.metrics = m
}

// Tip returns the current tip header, or nil before genesis is loaded.
func (p *Processor) Tip() (*types.Header, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.tip, nil
}

func (p *Processor) FinalizedHeight() int64 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.finalizedHeight
}

func (p *Processor) HeaderAt(height int64) (*types.Header, error) {
	b, err := p.store.LoadBlockByHeight(height)
	if err != nil || b == nil {
		return nil, err
	}
	return &b.Header, nil
}

func (p *Processor) HeaderByID(id types.BlockID) (*types.Header, error) {
	b, err := p.store.LoadBlockByID(id)
	if err != nil || b == nil {
		return nil, err
	}
	return &b.Header, nil
}

// OnBlockReceive implements spec.md §4.3's onBlockReceive algorithm.
func (p *Processor) OnBlockReceive(raw []byte, peerID string) error {
	if p.sync != nil && p.sync.IsActive() {
		p.logger.Debug("processor: dropping block while syncing", "peer", peerID)
		return nil
	}

	b, err := types.DecodeBlock(raw)
	if err != nil {
		p.penalize(peerID, fmt.Errorf("malformed block envelope: %w", err))
		return err
	}
	if b.Header.Version != p.version {
		p.penalize(peerID, fmt.Errorf("unexpected block version %d", b.Header.Version))
		return fmt.Errorf("processor: unexpected block version %d from %s", b.Header.Version, peerID)
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.dispatch(b, peerID)
}

// Execute implements spec.md §4.3's execute(B): fork-choice must
// already have said EXTEND or TIE_BREAK for the caller to reach here
// (e.g. a locally-generated block).
func (p *Processor) Execute(b *types.Block) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if err := p.verify(b); err != nil {
		return err
	}
	return p.executeValidated(b, false, false)
}

func (p *Processor) dispatch(b *types.Block, peerID string) error {
	if p.tip == nil {
		// Genesis: nothing to classify against yet.
		if err := p.verify(b); err != nil {
			return err
		}
		return p.executeValidated(b, false, false)
	}

	status := p.fc.Classify(&b.Header, p.tip, p.receivedAtTip)
	switch status {
	case forkchoice.Discard, forkchoice.IdenticalBlock:
		return nil

	case forkchoice.DoubleForging:
		p.metrics.ForksDetected.Add(1)
		if p.bus != nil {
			p.bus.PublishForkDetected(&b.Header)
		}
		return nil

	case forkchoice.ValidBlock:
		if err := p.verify(b); err != nil {
			p.penalize(peerID, err)
			return err
		}
		return p.executeValidated(b, false, false)

	case forkchoice.TieBreak:
		return p.tieBreak(b, peerID)

	case forkchoice.DifferentChain:
		return p.handOffToSync(b, peerID)

	default:
		return nil
	}
}

// tieBreak implements spec.md §4.3's TIE_BREAK dispatch: deep-clone
// the current tip, revert it, try the incoming header, and restore
// the original tip on failure.
func (p *Processor) tieBreak(b *types.Block, peerID string) error {
	previousTip := p.tip
	tipBlock, err := p.store.LoadBlockByHeight(p.tip.Height)
	if err != nil {
		return fmt.Errorf("processor: loading tip block for tie-break: %w", err)
	}
	if tipBlock == nil {
		return fmt.Errorf("processor: tip block missing at height %d", p.tip.Height)
	}
	restoreTip := cloneBlock(tipBlock)

	if err := p.deleteLastBlock(false); err != nil {
		return fmt.Errorf("processor: reverting tip for tie-break: %w", err)
	}

	if err := p.verify(b); err != nil {
		p.penalize(peerID, err)
		if restoreErr := p.executeValidated(restoreTip, true, false); restoreErr != nil {
			p.logger.Error("processor: failed to restore tip after tie-break verify failure", "err", restoreErr)
		}
		p.tip = previousTip
		return err
	}
	if err := p.executeValidated(b, false, false); err != nil {
		if restoreErr := p.executeValidated(restoreTip, true, false); restoreErr != nil {
			p.logger.Error("processor: failed to restore tip after tie-break execute failure", "err", restoreErr)
		}
		p.tip = previousTip
		return err
	}
	return nil
}

func (p *Processor) handOffToSync(b *types.Block, peerID string) error {
	if p.sync == nil {
		return nil
	}
	peer := syncpkg.PeerInfo{
		PeerID:            peerID,
		Height:            b.Header.Height,
		MaxHeightPrevoted: b.Header.MaxHeightPrevoted,
		BlockVersion:      b.Header.Version,
	}
	go func() {
		if err := p.sync.Run(context.Background(), peer); err != nil {
			p.logger.Error("processor: synchronizer run failed", "peer", peerID, "err", err)
		}
	}()
	return nil
}

func (p *Processor) penalize(peerID string, reason error) {
	if p.penalizer == nil {
		return
	}
	p.penalizer.ApplyPenalty(peerID, consenserr.DefaultPenalty)
	p.metrics.PenaltiesApplied.Add(1)
	p.logger.Info("processor: penalized peer", "peer", peerID, "reason", reason)
}

// verify implements spec.md §4.3's verify(B): header schema, generator
// authorization, signature, timestamp/slot alignment, transaction
// root, and per-transaction module presence.
func (p *Processor) verify(b *types.Block) error {
	h := &b.Header
	if err := validateHeaderSchema(h); err != nil {
		return fmt.Errorf("processor: header schema: %w", err)
	}

	if p.schedule != nil {
		slot := p.slots.SlotOf(h.Timestamp)
		expected, err := p.schedule.GeneratorAt(slot)
		if err != nil {
			return fmt.Errorf("processor: resolving generator for slot %d: %w", slot, err)
		}
		if expected != h.GeneratorAddress {
			return fmt.Errorf("processor: generator %s not authorized for slot %d", h.GeneratorAddress, slot)
		}
	}

	params, err := p.bft.ParamsAt(h.Height)
	if err != nil {
		return fmt.Errorf("processor: loading BFT parameters at %d: %w", h.Height, err)
	}
	var generatorKey []byte
	for _, v := range params.Validators {
		if v.Address == h.GeneratorAddress {
			generatorKey = v.BLSPubKey
			break
		}
	}
	if generatorKey == nil {
		return fmt.Errorf("processor: generator %s not in active validator set", h.GeneratorAddress)
	}
	if !bls.PubKey(generatorKey).VerifySignature(h.CanonicalBytes(), h.Signature) {
		return fmt.Errorf("processor: header signature verification failed")
	}

	if p.tip != nil && h.Timestamp <= p.tip.Timestamp {
		return fmt.Errorf("processor: header timestamp %d not after tip timestamp %d", h.Timestamp, p.tip.Timestamp)
	}
	if p.slots.SlotOf(h.Timestamp) > p.slots.CurrentSlot() {
		return fmt.Errorf("processor: header slot is in the future")
	}

	if !bytes.Equal(statemachine.TransactionRoot(b.Payload), h.TransactionRoot) {
		return fmt.Errorf("processor: transaction root mismatch")
	}

	for i := range b.Payload {
		if !p.exec.HasModule(b.Payload[i].Module) {
			return fmt.Errorf("processor: unknown module %q at index %d", b.Payload[i].Module, i)
		}
	}
	return nil
}

func validateHeaderSchema(h *types.Header) error {
	if h.Height < 0 {
		return fmt.Errorf("negative height")
	}
	if h.GeneratorAddress == (types.Address{}) {
		return fmt.Errorf("empty generator address")
	}
	if len(h.Signature) == 0 {
		return fmt.Errorf("empty header signature")
	}
	return nil
}

// ExecuteValidated satisfies sync.BlockExecutor for mechanisms that
// have already verified b themselves.
func (p *Processor) ExecuteValidated(b *types.Block, skipBroadcast, removeFromTempTable bool) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.executeValidated(b, skipBroadcast, removeFromTempTable)
}

// executeValidated implements spec.md §4.3's executeValidated(B, opts).
func (p *Processor) executeValidated(b *types.Block, skipBroadcast, removeFromTempTable bool) error {
	snap := newSnapshot(p.store)
	result, err := p.exec.Execute(context.Background(), b, snap, p.pre, p.post)
	if err != nil {
		snap.Discard()
		return fmt.Errorf("processor: executing block %d: %w", b.Header.Height, err)
	}

	newFinalized := p.finalizedHeight
	if p.bft != nil {
		if mh := p.bft.Heights().MaxHeightPrecommitted; mh > newFinalized {
			newFinalized = mh
		}
	}

	diffBytes := encodeDiff(result.Diff)
	if err := p.store.SaveBlockWithState(b, diffBytes, newFinalized); err != nil {
		snap.Discard()
		return fmt.Errorf("processor: persisting block %d: %w", b.Header.Height, err)
	}
	snap.Discard()

	p.tip = &b.Header
	p.finalizedHeight = newFinalized
	p.receivedAtTip = nowSeconds()
	p.metrics.BlocksProcessed.Add(1)
	p.metrics.TipHeight.Set(float64(b.Header.Height))
	p.metrics.FinalizedHeight.Set(float64(newFinalized))

	if removeFromTempTable {
		if err := p.store.DeleteTempBlock(b.Header.Height); err != nil {
			p.logger.Error("processor: removing temp block", "height", b.Header.Height, "err", err)
		}
	}

	if !skipBroadcast && p.broadcaster != nil {
		if err := p.broadcaster.BroadcastBlock(b); err != nil {
			p.logger.Error("processor: broadcasting block", "height", b.Header.Height, "err", err)
		} else if p.bus != nil {
			p.bus.PublishBlockBroadcast(&b.Header)
		}
	}
	if p.bus != nil {
		p.bus.PublishBlockNew(&b.Header, skipBroadcast)
	}
	return nil
}

// DeleteLastBlock implements spec.md §4.3's deleteLastBlock, reverting
// the tip's state via its stored diff and stepping the in-memory tip
// back by one block. It refuses to delete at or below the finalized
// height.
func (p *Processor) DeleteLastBlock(saveTempBlock bool) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.deleteLastBlock(saveTempBlock)
}

func (p *Processor) deleteLastBlock(saveTempBlock bool) error {
	if p.tip == nil {
		return fmt.Errorf("processor: no tip to delete")
	}
	if p.tip.Height <= p.finalizedHeight {
		return fmt.Errorf("processor: refusing to delete finalized block at height %d", p.tip.Height)
	}

	b, err := p.store.LoadBlockByHeight(p.tip.Height)
	if err != nil {
		return fmt.Errorf("processor: loading block to delete: %w", err)
	}
	if b == nil {
		return fmt.Errorf("processor: block missing at height %d", p.tip.Height)
	}

	diffBytes, err := p.store.LoadDiff(p.tip.Height)
	if err != nil {
		return fmt.Errorf("processor: loading diff at height %d: %w", p.tip.Height, err)
	}
	entries, err := decodeDiff(diffBytes)
	if err != nil {
		return fmt.Errorf("processor: decoding diff at height %d: %w", p.tip.Height, err)
	}

	if saveTempBlock {
		if err := p.store.SaveTempBlock(b.Header.Height, b); err != nil {
			return fmt.Errorf("processor: saving temp block: %w", err)
		}
	}

	err = p.store.RevertBlock(b, func(batch dbm.Batch) error {
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if e.OldValue == nil {
				if err := p.store.DeleteState(batch, e.Module, e.Key); err != nil {
					return err
				}
				continue
			}
			if err := p.store.SetState(batch, e.Module, e.Key, e.OldValue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("processor: reverting block %d: %w", p.tip.Height, err)
	}

	previous, err := p.store.LoadBlockByHeight(p.tip.Height - 1)
	if err != nil {
		return fmt.Errorf("processor: loading new tip: %w", err)
	}
	if previous != nil {
		p.tip = &previous.Header
	} else {
		p.tip = nil
	}
	p.metrics.BlocksDeleted.Add(1)
	if p.bus != nil {
		p.bus.PublishBlockDelete(&b.Header)
	}
	return nil
}

// RestoreTempBlocks re-applies every stashed temp block, in height
// order, on top of the current tip. Sync mechanisms call this after a
// failed fetch-and-apply run to leave the chain no worse off than
// before they started (spec.md §4.5/§4.6).
func (p *Processor) RestoreTempBlocks() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	height := int64(0)
	if p.tip != nil {
		height = p.tip.Height + 1
	}
	for {
		b, err := p.store.LoadTempBlock(height)
		if err != nil {
			return fmt.Errorf("processor: loading temp block %d: %w", height, err)
		}
		if b == nil {
			return nil
		}
		if err := p.executeValidated(b, true, true); err != nil {
			return fmt.Errorf("processor: restoring temp block %d: %w", height, err)
		}
		height++
	}
}

// Verify runs verify(B) against the current tip without executing it,
// for sync mechanisms that verify before batching multiple blocks.
func (p *Processor) Verify(b *types.Block) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.verify(b)
}

func cloneBlock(b *types.Block) *types.Block {
	clone := *b
	clone.Payload = append([]types.Transaction(nil), b.Payload...)
	clone.Assets = append([]byte(nil), b.Assets...)
	return &clone
}

// nowSeconds is a seam for tests to control the tie-break "received
// at" clock deterministically.
var nowSeconds = func() int64 { return time.Now().Unix() }
