package network

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

func TestNodeInfoWireRoundTrip(t *testing.T) {
	n := nodeInfo{Height: 42, MaxHeightPrevoted: 40, LastBlockID: types.BlockID{1, 2, 3}, BlockVersion: 7}
	got, err := decodeNodeInfo(encodeNodeInfo(n))
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestBlockListWireRoundTrip(t *testing.T) {
	blocks := []*types.Block{
		{Header: types.Header{Height: 1}},
		{Header: types.Header{Height: 2}},
	}
	got, err := decodeBlockList(encodeBlockList(blocks))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].Header.Height)
	require.Equal(t, int64(2), got[1].Header.Height)
}

func TestOptionalIDWireRoundTrip(t *testing.T) {
	id, ok, err := decodeOptionalID(encodeOptionalID(types.BlockID{}, false))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, types.BlockID{}, id)

	want := types.BlockID{9, 9, 9}
	id, ok, err = decodeOptionalID(encodeOptionalID(want, true))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, id)
}

func TestPeerRegistryBansPastThreshold(t *testing.T) {
	r := NewPeerRegistry(DefaultBanThreshold, DefaultPeerRateLimit, DefaultPeerRateBurst)
	r.ApplyPenalty("peer-a", DefaultBanThreshold-1)
	require.False(t, r.Banned("peer-a"))
	r.ApplyPenalty("peer-a", 1)
	require.True(t, r.Banned("peer-a"))
	require.False(t, r.Allow("peer-a"))
}

func TestPeerRegistryCandidatesRanksAhead(t *testing.T) {
	r := NewPeerRegistry(DefaultBanThreshold, DefaultPeerRateLimit, DefaultPeerRateBurst)
	r.UpdateNodeInfo("ahead", 200, 190, 1)
	r.UpdateNodeInfo("behind", 10, 5, 1)

	cands := r.Candidates(100, 90)
	require.Len(t, cands, 1)
	require.Equal(t, "ahead", cands[0].PeerID)
}

type fakeReceiver struct {
	lastRaw   []byte
	lastPeer  string
	returnErr error
}

func (f *fakeReceiver) OnBlockReceive(raw []byte, peerID string) error {
	f.lastRaw = raw
	f.lastPeer = peerID
	return f.returnErr
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallCustomCodec(rawCodec{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return cc
}

func TestServerGetLastBlockOverBufconn(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	genesis := &types.Block{Header: types.Header{Height: 0, Timestamp: 1}}
	require.NoError(t, s.SaveBlock(genesis))

	recv := &fakeReceiver{}
	peers := NewPeerRegistry(DefaultBanThreshold, DefaultPeerRateLimit, DefaultPeerRateBurst)
	srv := NewServer(log.NewNopLogger(), s, recv, peers)

	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer(grpc.CustomCodec(rawCodec{}))
	grpcServer.RegisterService(&serviceDesc, srv)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	cc := dialBufconn(t, lis)
	var resp rawMessage
	err := cc.Invoke(context.Background(), methodGetLastBlock, rawMessage(nil), &resp)
	require.NoError(t, err)

	got, err := types.DecodeBlock(resp)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Header.Height)
}

func TestServerPostBlockForwardsToReceiver(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	recv := &fakeReceiver{}
	peers := NewPeerRegistry(DefaultBanThreshold, DefaultPeerRateLimit, DefaultPeerRateBurst)
	srv := NewServer(log.NewNopLogger(), s, recv, peers)

	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer(grpc.CustomCodec(rawCodec{}))
	grpcServer.RegisterService(&serviceDesc, srv)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	cc := dialBufconn(t, lis)
	ctx := metadata.AppendToOutgoingContext(context.Background(), peerIDHeader, "peer-x")
	blockBytes := types.EncodeBlock(&types.Block{Header: types.Header{Height: 5}})
	var resp rawMessage
	err := cc.Invoke(ctx, methodPostBlock, rawMessage(blockBytes), &resp)
	require.NoError(t, err)
	require.Equal(t, "peer-x", recv.lastPeer)
	require.Equal(t, blockBytes, recv.lastRaw)
}
