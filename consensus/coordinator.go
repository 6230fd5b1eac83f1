// Package consensus is the Consensus Coordinator (C9, spec.md §4.9):
// the top-level composition root that owns the mutex (delegated to the
// block processor, which actually enforces it), the chain handle, the
// network handle, the state-machine handle, and the commit pool, and
// exposes execute/onBlockReceive/stop to the forging layer and the
// network endpoint. It is grounded on the teacher's node.Node
// constructor, which wires store, reactors, and RPC together in
// exactly this dependency order and defers cross-referencing wiring
// (reactor <-> switch) to post-construction setters.
package consensus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	dbm "github.com/tendermint/tm-db"

	"github.com/veritaschain/consensus-core/bftmodule"
	"github.com/veritaschain/consensus-core/blocksync"
	"github.com/veritaschain/consensus-core/chainswitch"
	"github.com/veritaschain/consensus-core/commitpool"
	"github.com/veritaschain/consensus-core/config"
	"github.com/veritaschain/consensus-core/events"
	"github.com/veritaschain/consensus-core/financeindex"
	"github.com/veritaschain/consensus-core/forkchoice"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	"github.com/veritaschain/consensus-core/network"
	"github.com/veritaschain/consensus-core/processor"
	"github.com/veritaschain/consensus-core/statemachine"
	"github.com/veritaschain/consensus-core/store"
	syncsup "github.com/veritaschain/consensus-core/sync"
	"github.com/veritaschain/consensus-core/types"
)

// Config carries every external collaborator the coordinator needs to
// compose the nine components on top of the operator-facing settings
// in Node. Genesis construction and per-transaction module
// registration are external collaborators per spec.md §1; Config only
// accepts their outputs.
type Config struct {
	Logger log.Logger
	DB     dbm.DB
	Node   *config.Config // operator-facing settings; nil falls back to config.DefaultConfig()

	Genesis       *types.Block
	GenesisParams types.BFTParameters

	Schedule  processor.GeneratorSchedule // optional; nil disables generator-authorization checks
	Modules   []statemachine.Module
	PreBlock  statemachine.PreBlockHook
	PostBlock statemachine.PostBlockHook
}

// Coordinator composes C1-C8 behind spec.md §4.9's public surface.
type Coordinator struct {
	logger log.Logger

	store    *store.Store
	bft      *bftmodule.Module
	pool     *commitpool.Pool
	peers    *network.PeerRegistry
	endpoint *network.Endpoint
	server   *network.Server
	bus      *events.Bus
	proc     *processor.Processor
	sup      *syncsup.Supervisor
	finance  *financeindex.Service

	stopped atomic.Bool
	drainMu sync.Mutex
}

// New wires every component in the dependency order the teacher's
// node bootstrap uses: storage first, then the pieces that only read
// it, then the pieces that mutate it, then network transport, with the
// processor <-> supervisor cycle broken by SetSynchronizer.
func New(cfg Config) (*Coordinator, error) {
	nodeCfg := cfg.Node
	if nodeCfg == nil {
		nodeCfg = config.DefaultConfig()
	}
	if err := nodeCfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("consensus: invalid node config: %w", err)
	}

	logger := cfg.Logger.With("module", "consensus")
	s := store.New(cfg.DB)

	genesisBlockExist, err := s.LoadBlockByHeight(0)
	if err != nil {
		return nil, fmt.Errorf("consensus: checking genesis: %w", err)
	}
	if genesisBlockExist == nil {
		if cfg.Genesis == nil {
			return nil, fmt.Errorf("consensus: store is empty and no genesis block was provided")
		}
		if err := s.SaveBlock(cfg.Genesis); err != nil {
			return nil, fmt.Errorf("consensus: saving genesis block: %w", err)
		}
	}

	bft, err := bftmodule.New(logger, s, cfg.GenesisParams)
	if err != nil {
		return nil, fmt.Errorf("consensus: constructing BFT module: %w", err)
	}

	var m *metrics.Metrics
	if nodeCfg.Instrumentation.Prometheus {
		m = metrics.PrometheusMetrics(nodeCfg.Instrumentation.Namespace, "network_id", nodeCfg.Network.NetworkID)
	} else {
		m = metrics.NopMetrics()
	}
	bft.SetMetrics(m)

	genesis := genesisBlockExist
	if genesis == nil {
		genesis = cfg.Genesis
	}
	slots := newFixedSlotOracle(genesis.Header.Timestamp, nodeCfg.Consensus.SlotDuration)

	fc := forkchoice.New(slots, 1024)

	exec := statemachine.New()
	for _, m := range cfg.Modules {
		exec.Register(m)
	}

	bus := events.NewBus(logger)
	if err := bus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("consensus: starting event bus: %w", err)
	}

	peers := network.NewPeerRegistry(nodeCfg.Network.BanThreshold, nodeCfg.Network.PeerRateLimit, nodeCfg.Network.PeerRateBurst)
	peers.SetMetrics(m)
	endpoint := network.NewEndpoint(logger, nodeCfg.Network.SelfID, peers, nodeCfg.Network.RPCTimeout)
	endpoint.SetMetrics(m)

	proc, err := processor.New(logger, processor.Config{
		Store:       s,
		ForkChoice:  fc,
		Slots:       slots,
		Executor:    exec,
		BFT:         bft,
		Schedule:    cfg.Schedule,
		Version:     nodeCfg.Consensus.Version,
		Bus:         bus,
		Broadcaster: endpoint,
		Penalizer:   endpoint,
		Pre:         cfg.PreBlock,
		Post:        cfg.PostBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("consensus: constructing processor: %w", err)
	}
	proc.SetMetrics(m)
	pool := commitpool.New(logger, nodeCfg.Network.NetworkID, &chainView{Processor: proc, bft: bft})
	pool.SetMetrics(m)

	server := network.NewServer(logger, s, proc, peers)

	cs := chainswitch.New(logger)
	cs.SetMetrics(m)
	bs := blocksync.New(logger, peers, nodeCfg.Sync.SampleK)
	bs.SetMetrics(m)
	sup := syncsup.New(logger, proc, endpoint, cs, bs)
	sup.SetMetrics(m)
	proc.SetSynchronizer(sup)

	var financeSvc *financeindex.Service
	if nodeCfg.FinanceIndex.Enabled {
		financeSvc, err = newFinanceIndexService(logger, nodeCfg.FinanceIndex, nodeCfg.Network.NetworkID, bus, s)
		if err != nil {
			return nil, err
		}
		if err := financeSvc.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("consensus: starting finance index service: %w", err)
		}
	}

	coord := &Coordinator{
		logger:   logger,
		store:    s,
		bft:      bft,
		pool:     pool,
		peers:    peers,
		endpoint: endpoint,
		server:   server,
		bus:      bus,
		proc:     proc,
		sup:      sup,
		finance:  financeSvc,
	}
	if nodeCfg.Network.ListenAddr != "" {
		if err := server.Listen(nodeCfg.Network.ListenAddr); err != nil {
			return nil, fmt.Errorf("consensus: starting network endpoint: %w", err)
		}
	}
	return coord, nil
}

// newFinanceIndexService opens the Postgres connection, applies the
// financeindex schema migration, and returns a Service ready to
// Start, so a misconfigured DSN or an unreachable database fails node
// construction rather than surfacing later as silently dropped events.
func newFinanceIndexService(logger log.Logger, cfg config.FinanceIndexConfig, networkID string, bus *events.Bus, s *store.Store) (*financeindex.Service, error) {
	sink, err := financeindex.NewEventSink(cfg.ConnString, networkID)
	if err != nil {
		return nil, fmt.Errorf("consensus: opening finance index sink: %w", err)
	}
	if err := sink.Migrate(); err != nil {
		return nil, fmt.Errorf("consensus: migrating finance index schema: %w", err)
	}
	return financeindex.NewService(logger, bus, sink, s), nil
}

// Listen starts the network endpoint's inbound gRPC server.
func (c *Coordinator) Listen(addr string) error {
	return c.server.Listen(addr)
}

// AddPeer registers a peer's dial address with the outbound endpoint
// and the peer registry used for best-peer sync selection.
func (c *Coordinator) AddPeer(peerID, addr string) {
	c.endpoint.AddPeer(peerID, addr)
}

// Execute implements spec.md §4.9's execute(block), called by the
// external forging layer with a locally produced, signed block.
func (c *Coordinator) Execute(b *types.Block) error {
	if c.stopped.Load() {
		return fmt.Errorf("consensus: coordinator is stopped")
	}
	if err := c.proc.Execute(b); err != nil {
		return err
	}
	return c.bft.ObserveHeader(&b.Header)
}

// OnBlockReceive implements spec.md §4.9's onBlockReceive(data, peerID),
// the entry point network.Server.handlePostBlock forwards into.
func (c *Coordinator) OnBlockReceive(raw []byte, peerID string) error {
	if c.stopped.Load() {
		c.logger.Debug("consensus: dropping block received after stop", "peer", peerID)
		return nil
	}
	if err := c.proc.OnBlockReceive(raw, peerID); err != nil {
		return err
	}
	tip, err := c.proc.Tip()
	if err != nil || tip == nil {
		return err
	}
	return c.bft.ObserveHeader(tip)
}

// Syncing reports whether the synchronizer supervisor currently owns
// the chain (spec.md §4.9's syncing()).
func (c *Coordinator) Syncing() bool { return c.sup.IsActive() }

// FinalizedHeight implements spec.md §4.9's finalizedHeight().
func (c *Coordinator) FinalizedHeight() int64 { return c.proc.FinalizedHeight() }

// IsSynced reports whether the local chain is at least as far along as
// a peer's advertised (height, maxHeightPrevoted) position.
func (c *Coordinator) IsSynced(height, maxHeightPrevoted int64) (bool, error) {
	tip, err := c.proc.Tip()
	if err != nil {
		return false, err
	}
	if tip == nil {
		return false, nil
	}
	return tip.Height >= height && c.bft.Heights().MaxHeightPrevoted >= maxHeightPrevoted, nil
}

// Pool exposes the commit pool to the (external) validator/forging
// layer that gathers and gossips single commits.
func (c *Coordinator) Pool() *commitpool.Pool { return c.pool }

// Events exposes the event bus for in-process subscribers.
func (c *Coordinator) Events() *events.Bus { return c.bus }

// Peers exposes the peer registry for diagnostics (e.g. a CLI
// inspecting penalties and bans).
func (c *Coordinator) Peers() *network.PeerRegistry { return c.peers }

// Stop implements spec.md §4.9's stop(): sets the stop flag so every
// public mutating entry point starts refusing new work, then acquires
// and releases the processor's mutex once to drain whatever operation
// was already in flight, mirroring the teacher's OnStop draining a
// reactor's in-flight goroutines before tearing down its Switch.
func (c *Coordinator) Stop() error {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := c.proc.Tip(); err != nil {
		c.logger.Error("consensus: draining in-flight work on stop", "err", err)
	}
	c.server.Stop()
	if c.finance != nil {
		if err := c.finance.Stop(); err != nil {
			c.logger.Error("consensus: stopping finance index service", "err", err)
		}
	}
	if err := c.bus.Stop(); err != nil {
		c.logger.Error("consensus: stopping event bus", "err", err)
	}
	return c.store.Close()
}
