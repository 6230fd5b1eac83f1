package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	syncpkg "github.com/veritaschain/consensus-core/sync"
	"github.com/veritaschain/consensus-core/types"
)

// DefaultRPCTimeout is the per-call timeout spec.md §5 mandates for
// every peer RPC; a timeout surfaces as a gRPC status error with code
// DeadlineExceeded, which the synchronizer supervisor's mechanisms wrap in a
// RestartError. Operators may override it via config.Config.
const DefaultRPCTimeout = 5 * time.Second

// Endpoint is the outbound half of the Consensus Network Endpoint: it
// implements sync.RPCClient for the synchronizer, blocksync.PeerSet
// via the shared PeerRegistry, and processor.Broadcaster/Penalizer, so
// one type serves every network-facing collaborator the rest of the
// core needs.
type Endpoint struct {
	logger     log.Logger
	selfID     string
	peers      *PeerRegistry
	rpcTimeout time.Duration
	dialOpts   []grpc.DialOption
	metrics    *metrics.Metrics

	mtx   sync.Mutex
	conns map[string]*grpc.ClientConn
	addrs map[string]string
}

// SetMetrics attaches a Prometheus collector.
func (e *Endpoint) SetMetrics(m *metrics.Metrics) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.metrics = m
}

// NewEndpoint constructs an Endpoint whose calls time out after
// rpcTimeout; pass DefaultRPCTimeout for spec.md's default value.
func NewEndpoint(logger log.Logger, selfID string, peers *PeerRegistry, rpcTimeout time.Duration) *Endpoint {
	return &Endpoint{
		logger:     logger.With("module", "network"),
		selfID:     selfID,
		peers:      peers,
		rpcTimeout: rpcTimeout,
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallCustomCodec(rawCodec{})),
		},
		conns:   make(map[string]*grpc.ClientConn),
		addrs:   make(map[string]string),
		metrics: metrics.NopMetrics(),
	}
}

// AddPeer registers the dial address for a peer id, so future RPCs and
// broadcasts can reach it. Dialing itself is lazy and happens on first
// use.
func (e *Endpoint) AddPeer(peerID, addr string) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.addrs[peerID] = addr
}

func (e *Endpoint) conn(peerID string) (*grpc.ClientConn, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if cc, ok := e.conns[peerID]; ok {
		return cc, nil
	}
	addr, ok := e.addrs[peerID]
	if !ok {
		return nil, fmt.Errorf("network: no address registered for peer %s", peerID)
	}
	cc, err := grpc.Dial(addr, e.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("network: dialing peer %s: %w", peerID, err)
	}
	e.conns[peerID] = cc
	return cc, nil
}

func (e *Endpoint) call(ctx context.Context, peerID, method string, req rawMessage) (rawMessage, error) {
	start := time.Now()
	defer func() {
		e.metrics.RPCRequestsTotal.With("method", method).Add(1)
		e.metrics.RPCRequestDuration.With("method", method).Observe(time.Since(start).Seconds())
	}()

	cc, err := e.conn(peerID)
	if err != nil {
		return nil, err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, peerIDHeader, e.selfID)
	ctx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	var resp rawMessage
	if err := cc.Invoke(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetLastBlock implements sync.RPCClient.
func (e *Endpoint) GetLastBlock(ctx context.Context, peerID string) (*types.Block, error) {
	resp, err := e.call(ctx, peerID, methodGetLastBlock, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return types.DecodeBlock(resp)
}

// GetHighestCommonBlock implements sync.RPCClient.
func (e *Endpoint) GetHighestCommonBlock(ctx context.Context, peerID string, candidateIDs []types.BlockID) (types.BlockID, bool, error) {
	resp, err := e.call(ctx, peerID, methodGetHighestCommonBlock, encodeIDList(candidateIDs))
	if err != nil {
		return types.BlockID{}, false, err
	}
	return decodeOptionalID(resp)
}

// GetBlocksFromID implements sync.RPCClient.
func (e *Endpoint) GetBlocksFromID(ctx context.Context, peerID string, fromID types.BlockID, maxBlocks int) ([]*types.Block, error) {
	resp, err := e.call(ctx, peerID, methodGetBlocksFromID, encodeBlocksFromIDRequest(fromID, maxBlocks))
	if err != nil {
		return nil, err
	}
	return decodeBlockList(resp)
}

// GetHeaders implements sync.RPCClient.
func (e *Endpoint) GetHeaders(ctx context.Context, peerID string, fromHeight int64, count int) ([]*types.Header, error) {
	resp, err := e.call(ctx, peerID, methodGetHeaders, encodeHeadersRequest(fromHeight, count))
	if err != nil {
		return nil, err
	}
	return decodeHeaderList(resp)
}

// ApplyPenalty implements sync.RPCClient and processor.Penalizer by
// delegating to the shared registry.
func (e *Endpoint) ApplyPenalty(peerID string, amount int) {
	e.peers.ApplyPenalty(peerID, amount)
}

// BroadcastBlock implements processor.Broadcaster: pushes b to every
// peer with a registered address via postBlock, best-effort.
func (e *Endpoint) BroadcastBlock(b *types.Block) error {
	e.mtx.Lock()
	peerIDs := make([]string, 0, len(e.addrs))
	for id := range e.addrs {
		peerIDs = append(peerIDs, id)
	}
	e.mtx.Unlock()

	payload := rawMessage(types.EncodeBlock(b))
	var firstErr error
	for _, peerID := range peerIDs {
		if e.peers.Banned(peerID) {
			continue
		}
		if _, err := e.call(context.Background(), peerID, methodPostBlock, payload); err != nil {
			e.logger.Error("network: broadcasting block", "peer", peerID, "height", b.Header.Height, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PublishNodeInfo pushes this node's own advertised position to peerID
// (spec.md §4.8's "Outgoing applyNodeInfo is called after every
// successful executeValidated").
func (e *Endpoint) PublishNodeInfo(ctx context.Context, peerID string, n nodeInfo) error {
	_, err := e.call(ctx, peerID, methodPostNodeInfo, encodeNodeInfo(n))
	return err
}

// BroadcastNodeInfo pushes n to every registered peer, best-effort.
func (e *Endpoint) BroadcastNodeInfo(height, maxHeightPrevoted int64, lastBlockID types.BlockID, blockVersion uint8) {
	e.mtx.Lock()
	peerIDs := make([]string, 0, len(e.addrs))
	for id := range e.addrs {
		peerIDs = append(peerIDs, id)
	}
	e.mtx.Unlock()

	n := nodeInfo{Height: height, MaxHeightPrevoted: maxHeightPrevoted, LastBlockID: lastBlockID, BlockVersion: blockVersion}
	for _, peerID := range peerIDs {
		if e.peers.Banned(peerID) {
			continue
		}
		if err := e.PublishNodeInfo(context.Background(), peerID, n); err != nil {
			e.logger.Error("network: publishing node info", "peer", peerID, "err", err)
		}
	}
}

var _ syncpkg.RPCClient = (*Endpoint)(nil)
