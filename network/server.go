// Package network is the Consensus Network Endpoint (C8, spec.md
// §4.8): a gRPC service exposing four peer-pull RPCs (the three of
// §4.8 plus GetHeaders for the fast chain switch) and two peer-push
// handlers over the block processor and the durable store,
// plus the outbound client the synchronizer and block processor use
// to reach other peers. It is grounded on the teacher's
// server.GRPCServer wrapper, generalized from a single ABCI service to
// this module's six-endpoint surface, with a hand-registered
// grpc.ServiceDesc standing in for protoc-gen-go-grpc output since
// every message here already has a byte-exact wire format of its own.
package network

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/veritaschain/consensus-core/internal/consenserr"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

// peerIDHeader is the metadata key every outbound call sets to
// identify the calling node, since a hand-registered service has no
// generated per-call caller identity beyond gRPC's own peer address.
const peerIDHeader = "x-peer-id"

// Receiver is the inbound side of the block processor: postBlock
// forwards decoded bytes to it unchanged, letting C3 own decoding,
// classification and penalties (spec.md §4.8's "forwards to
// C9.onBlockReceive").
type Receiver interface {
	OnBlockReceive(raw []byte, peerID string) error
}

// Server implements the hand-registered consensuscore.Network gRPC
// service: the four pull RPCs read straight from the store without
// the block processor's mutex (spec.md §5's reader-without-mutex
// policy), and the two push handlers touch Receiver/Peers.
type Server struct {
	logger   log.Logger
	store    *store.Store
	receiver Receiver
	peers    *PeerRegistry

	listener net.Listener
	server   *grpc.Server
}

func NewServer(logger log.Logger, s *store.Store, receiver Receiver, peers *PeerRegistry) *Server {
	return &Server{logger: logger.With("module", "network"), store: s, receiver: receiver, peers: peers}
}

// Listen starts the gRPC server on addr with prometheus metrics,
// panic recovery, and per-peer rate limiting chained ahead of every
// call, mirroring the teacher's OnStart/OnStop service lifecycle.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listening on %s: %w", addr, err)
	}
	s.listener = ln

	chain := grpc_middleware.WithUnaryServerChain(
		grpc_prometheus.UnaryServerInterceptor,
		grpc_recovery.UnaryServerInterceptor(),
		correlationIDInterceptor,
		s.rateLimitInterceptor,
	)
	s.server = grpc.NewServer(chain, grpc.CustomCodec(rawCodec{}))
	s.server.RegisterService(&serviceDesc, s)
	grpc_prometheus.Register(s.server)

	go func() {
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("network: serve exited", "err", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
}

// correlationIDKey is unexported so no caller outside this package can
// collide with it when composing contexts.
type correlationIDKey struct{}

// correlationIDInterceptor stamps every inbound RPC with a fresh
// correlation ID, letting the log lines a single call produces across
// handlers be tied together without threading an explicit request ID
// through every signature.
func correlationIDInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := uuid.NewString()
	return handler(context.WithValue(ctx, correlationIDKey{}, id), req)
}

func correlationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func (s *Server) rateLimitInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	peerID := peerIDFromContext(ctx)
	if peerID != "" && !s.peers.Allow(peerID) {
		return nil, status.Errorf(codes.ResourceExhausted, "peer %s rate limited", peerID)
	}
	return handler(ctx, req)
}

func peerIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(peerIDHeader)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (s *Server) handleGetLastBlock(ctx context.Context, _ rawMessage) (interface{}, error) {
	height, err := s.store.Height()
	if err != nil {
		return nil, err
	}
	b, err := s.store.LoadBlockByHeight(height)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return rawMessage(nil), nil
	}
	return rawMessage(types.EncodeBlock(b)), nil
}

func (s *Server) handleGetBlocksFromID(ctx context.Context, req rawMessage) (interface{}, error) {
	id, maxBlocks, err := decodeBlocksFromIDRequest(req)
	if err != nil {
		s.penalizeMalformed(ctx, err)
		return nil, err
	}
	if maxBlocks <= 0 || maxBlocks > MaxBlocksPerBatch {
		maxBlocks = MaxBlocksPerBatch
	}
	blocks, err := s.store.BlocksFrom(id, maxBlocks)
	if err != nil {
		return nil, err
	}
	return rawMessage(encodeBlockList(blocks)), nil
}

func (s *Server) handleGetHighestCommonBlock(ctx context.Context, req rawMessage) (interface{}, error) {
	ids, err := decodeIDList(req)
	if err != nil {
		s.penalizeMalformed(ctx, err)
		return nil, err
	}
	for _, id := range ids {
		b, err := s.store.LoadBlockByID(id)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return rawMessage(encodeOptionalID(id, true)), nil
		}
	}
	return rawMessage(encodeOptionalID(types.BlockID{}, false)), nil
}

func (s *Server) handleGetHeaders(ctx context.Context, req rawMessage) (interface{}, error) {
	fromHeight, count, err := decodeHeadersRequest(req)
	if err != nil {
		s.penalizeMalformed(ctx, err)
		return nil, err
	}
	headers, err := s.store.HeadersFrom(fromHeight, count)
	if err != nil {
		return nil, err
	}
	return rawMessage(encodeHeaderList(headers)), nil
}

func (s *Server) handlePostBlock(ctx context.Context, req rawMessage) (interface{}, error) {
	peerID := peerIDFromContext(ctx)
	if err := s.receiver.OnBlockReceive(req, peerID); err != nil {
		// OnBlockReceive already applies any peer penalty; the push
		// itself has no meaningful response beyond acknowledging receipt.
		s.logger.Debug("network: postBlock rejected", "peer", peerID, "correlation_id", correlationIDFromContext(ctx), "err", err)
	}
	return rawMessage(nil), nil
}

func (s *Server) handlePostNodeInfo(ctx context.Context, req rawMessage) (interface{}, error) {
	peerID := peerIDFromContext(ctx)
	n, err := decodeNodeInfo(req)
	if err != nil {
		s.penalizeMalformed(ctx, err)
		return nil, err
	}
	s.peers.UpdateNodeInfo(peerID, n.Height, n.MaxHeightPrevoted, n.BlockVersion)
	return rawMessage(nil), nil
}

func (s *Server) penalizeMalformed(ctx context.Context, reason error) {
	peerID := peerIDFromContext(ctx)
	if peerID == "" {
		return
	}
	s.peers.ApplyPenalty(peerID, consenserr.DefaultPenalty)
	s.logger.Info("network: penalized peer for malformed payload", "peer", peerID, "correlation_id", correlationIDFromContext(ctx), "err", reason)
}

// MaxBlocksPerBatch bounds a single getBlocksFromId response (spec.md
// §6's N=100).
const MaxBlocksPerBatch = 100
